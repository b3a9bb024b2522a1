// Package images generates illustrations for story assets and scenes.
package images

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"storyloom/pkg/config"
	"storyloom/pkg/llmlog"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrNoImage    = errors.New("no image produced")
)

// Image is raw image data as returned by a backend.
type Image struct {
	Data     []byte
	MIMEType string
}

// Ext returns the file extension matching the image type.
func (i Image) Ext() string {
	switch strings.ToLower(i.MIMEType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "png"
}

// Backend produces one image for a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// NewBackend builds the configured image backend.
func NewBackend(ctx context.Context, cfg config.Images, httpClient *http.Client, rec llmlog.Recorder, logger *log.Logger) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderFal:
		return NewQueueBackend(QueueOptions{
			APIKey:       cfg.FalAPIKey,
			URL:          cfg.FalURL,
			ImageSize:    cfg.ImageSize,
			PollAttempts: cfg.PollAttempts,
			PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			HTTPClient:   httpClient,
			Recorder:     rec,
			Logger:       logger,
		}), nil
	case config.ProviderGemini:
		return NewGeminiBackend(ctx, GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			HTTPClient: httpClient,
			Recorder:   rec,
			Logger:     logger,
		})
	}
	return NewChatBackend(ChatOptions{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxAttempts: cfg.MaxAttempts,
		HTTPClient:  httpClient,
		Recorder:    rec,
		Logger:      logger,
	}), nil
}
