package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"storyloom/pkg/config"
	"storyloom/pkg/diff"
	"storyloom/pkg/images"
	"storyloom/pkg/inference"
	"storyloom/pkg/llmlog"
	"storyloom/pkg/pipeline"
	"storyloom/pkg/schema"
	"storyloom/pkg/store"
	"storyloom/pkg/transcribe"
)

// app holds the long-lived collaborators shared by run and serve.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	llmLog    *llmlog.Log
	stories   *store.Stories
	runs      *store.Runs
	inf       inference.Inferencer
	images    pipeline.ImageGenerator
	executor  *pipeline.Executor
	finalizer *pipeline.Finalizer
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	llmLog, err := llmlog.Open(cfg.LLMLogFile())
	if err != nil {
		return nil, err
	}
	stories, err := store.OpenStories(cfg.StoriesFile())
	if err != nil {
		return nil, err
	}
	runs, err := store.OpenRuns(cfg.RunsDB())
	if err != nil {
		return nil, err
	}
	if n, err := runs.FailInterrupted(ctx); err != nil {
		logger.Warn("mark interrupted runs", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted runs as failed", "count", n)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	inf, err := inference.New(ctx, cfg.LLM, httpClient, llmLog, logger)
	if err != nil {
		runs.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		llmLog:    llmLog,
		stories:   stories,
		runs:      runs,
		inf:       inf,
		executor:  pipeline.NewExecutor(logger),
		finalizer: pipeline.NewFinalizer(stories, cfg.PipelineConfig(), logger),
	}

	pcfg := cfg.PipelineConfig()
	if pcfg.CharacterImages || pcfg.EnvironmentImages || pcfg.SceneImages {
		imageClient := &http.Client{Timeout: cfg.ImageTimeout()}
		backend, err := images.NewBackend(ctx, cfg.Images, imageClient, llmLog, logger)
		if err != nil {
			logger.Warn("image generation disabled", "provider", cfg.Images.Provider, "error", err)
		} else {
			a.images = images.NewGenerator(images.GeneratorOptions{
				Backend:     backend,
				Dir:         cfg.RunsDir(),
				WebP:        cfg.Images.WebP,
				Concurrency: cfg.Images.Concurrency,
				Logger:      logger,
			})
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.runs.Close()
}

// onDiff routes story diffs of reprocessed records.
func (a *app) onDiff(fn func(diff.StoryDiff)) {
	a.finalizer.OnDiff = fn
}

// process runs the full pipeline for payload and persists the outcome.
func (a *app) process(ctx context.Context, runID string, payload *schema.Payload, r pipeline.Reporter) error {
	pcfg := a.cfg.PipelineConfig()
	deps := pipeline.NewDeps(a.inf, a.images, pcfg, a.logger)
	steps := pipeline.BuildSteps(deps, pcfg)
	pc := schema.NewProcessingContext(payload)
	a.logger.Info("run starting", "run", runID, "story", payload.StoryID, "steps", len(steps))
	return a.executor.RunWithFinalizer(ctx, pc, steps, r, a.finalizer.For(payload))
}

func (a *app) transcriber() transcribe.Transcriber {
	if !a.cfg.Transcription.Enabled {
		return transcribe.Text{}
	}
	return transcribe.NewRemote(transcribe.RemoteOptions{
		APIKey:   a.cfg.Transcription.APIKey,
		BaseURL:  a.cfg.Transcription.BaseURL,
		Model:    a.cfg.Transcription.Model,
		Language: a.cfg.Transcription.Language,
		Timeout:  a.cfg.RequestTimeout(),
		Logger:   a.logger,
	})
}

var errNoInput = errors.New("nothing to process: pass --prompt, --segment or --audio")
