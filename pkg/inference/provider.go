package inference

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"

	"storyloom/pkg/config"
	"storyloom/pkg/llmlog"
)

// New builds the inferencer for the configured provider.
func New(ctx context.Context, cfg config.LLM, timeoutClient *http.Client, recorder llmlog.Recorder, logger *log.Logger) (Inferencer, error) {
	if cfg.Provider == "gemini" {
		return NewGeminiInferencer(ctx, GeminiOptions{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			HTTPClient: timeoutClient,
			Recorder:   recorder,
			Logger:     logger,
		})
	}
	return NewOpenAIInferencer(OpenAIOptions{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		RequireKey: cfg.Provider != "local",
		HTTPClient: timeoutClient,
		Recorder:   recorder,
		Logger:     logger,
	}), nil
}
