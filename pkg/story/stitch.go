// Package story stitches transcribed fragments into one narrative.
package story

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"storyloom/pkg/inference"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

const stepName = "StoryStitcher"

type Stitcher struct {
	inf        inference.Inferencer
	structured bool
	logger     *log.Logger
}

// NewStitcher returns a stitcher. structured attaches the story response
// schema to the request.
func NewStitcher(inf inference.Inferencer, structured bool, logger *log.Logger) *Stitcher {
	return &Stitcher{inf: inf, structured: structured, logger: logging.Or(logger).WithPrefix("stitch")}
}

// Stitch asks the model for a cohesive story built from prompt and segments.
// A non-empty forcedLanguage replaces the detected language. Call failures
// are returned as *inference.CallError with an empty Result.
func (s *Stitcher) Stitch(ctx context.Context, prompt string, segments []string, forcedLanguage string) (Result, error) {
	req := inference.Request{
		Step:   stepName,
		Prompt: buildPrompt(prompt, segments, forcedLanguage),
	}
	if s.structured {
		req.Format = schema.StoryFormat
	}

	text, err := inference.Text(ctx, s.inf, req)
	if err != nil {
		return Result{}, err
	}

	r := ParseStitchResponse(text)
	if forced := strings.TrimSpace(forcedLanguage); forced != "" {
		r.Language = forced
	}
	s.logger.Debug("stitched", "language", r.Language, "chars", len(r.StoryOriginal), "tags", len(r.Tags), "title", r.TitleShort)
	return r, nil
}

func buildPrompt(prompt string, segments []string, forcedLanguage string) string {
	var b strings.Builder
	b.WriteString(stitchPrompt)
	if forced := strings.TrimSpace(forcedLanguage); forced != "" {
		b.WriteString(fmt.Sprintf(languageForced, forced))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if p := strings.TrimSpace(prompt); p != "" {
		b.WriteString(p)
	} else {
		b.WriteString("Fragments:")
	}
	for _, seg := range segments {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(seg))
	}
	return b.String()
}
