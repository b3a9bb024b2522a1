// Package pipeline runs the ordered processing steps over one story's
// ProcessingContext and persists the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"

	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

// Step is one stage of the pipeline.
type Step interface {
	Name() string
	Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error
}

// Reporter receives progress after each step and free-text log lines from
// inside steps.
type Reporter interface {
	Progress(current, total int, step string)
	Log(message string)
}

// ReporterFuncs adapts plain functions to Reporter. Nil fields are ignored.
type ReporterFuncs struct {
	OnProgress func(current, total int, step string)
	OnLog      func(message string)
}

func (f ReporterFuncs) Progress(current, total int, step string) {
	if f.OnProgress != nil {
		f.OnProgress(current, total, step)
	}
}

func (f ReporterFuncs) Log(message string) {
	if f.OnLog != nil {
		f.OnLog(message)
	}
}

type NopReporter struct{}

func (NopReporter) Progress(int, int, string) {}
func (NopReporter) Log(string)                {}

// FinalizeFunc receives the context as far as it got and the run error.
type FinalizeFunc func(ctx context.Context, pc *schema.ProcessingContext, runErr error) error

type Executor struct {
	logger *log.Logger
}

func NewExecutor(logger *log.Logger) *Executor {
	return &Executor{logger: logging.Or(logger).WithPrefix("pipeline")}
}

// Run executes steps in order. The first step error, or a cancelled ctx,
// stops the run before the next step starts.
func (e *Executor) Run(ctx context.Context, pc *schema.ProcessingContext, steps []Step, r Reporter) error {
	if r == nil {
		r = NopReporter{}
	}
	total := len(steps)
	for i, step := range steps {
		name := step.Name()
		if err := ctx.Err(); err != nil {
			e.logger.Warn("run cancelled", "before", name)
			return fmt.Errorf("%s: %w", name, err)
		}

		start := time.Now()
		e.logger.Debug("stage started", "step", name, "index", i+1, "total", total)
		if err := step.Process(ctx, pc, r); err != nil {
			e.logger.Error("stage failed", "step", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		e.logger.Info("stage completed", "step", name, "duration", time.Since(start).Round(time.Millisecond))
		r.Progress(i+1, total, StepLabel(name))
	}
	return nil
}

// RunWithFinalizer runs the steps and then always calls finalize, even after
// a failure or cancellation. Both errors are returned joined.
func (e *Executor) RunWithFinalizer(ctx context.Context, pc *schema.ProcessingContext, steps []Step, r Reporter, finalize FinalizeFunc) error {
	runErr := e.Run(ctx, pc, steps, r)
	if finalize == nil {
		return runErr
	}
	if err := finalize(context.WithoutCancel(ctx), pc, runErr); err != nil {
		e.logger.Error("finalize failed", "error", err)
		return errors.Join(runErr, fmt.Errorf("finalize: %w", err))
	}
	return runErr
}

// StepLabel turns "CharacterExtractionStep" into "CHARACTER EXTRACTION".
func StepLabel(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), "Step")
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(b.String())), " "))
}
