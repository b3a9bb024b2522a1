package images

import (
	"cmp"
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"storyloom/pkg/llmlog"
	"storyloom/pkg/logging"
)

const geminiTag = "ImageGeneratorGemini"

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Recorder   llmlog.Recorder
	Logger     *log.Logger
}

// GeminiBackend generates images with a Gemini image model.
type GeminiBackend struct {
	client   *genai.Client
	model    string
	recorder llmlog.Recorder
	logger   *log.Logger
}

func NewGeminiBackend(ctx context.Context, opts GeminiOptions) (*GeminiBackend, error) {
	g := &GeminiBackend{
		model:    cmp.Or(opts.Model, "gemini-2.5-flash-image"),
		recorder: opts.Recorder,
		logger:   logging.Or(opts.Logger).WithPrefix("images"),
	}
	if g.recorder == nil {
		g.recorder = llmlog.Nop{}
	}
	if opts.APIKey == "" {
		return g, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (Image, error) {
	if g.client == nil {
		g.recorder.Record(geminiTag, prompt, "Missing API key")
		return Image{}, ErrMissingKey
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		g.recorder.Record(geminiTag, prompt, "ERROR: "+err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Image{}, ctxErr
		}
		return Image{}, fmt.Errorf("gemini image request: %w", err)
	}

	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				g.recorder.Record(geminiTag, prompt, fmt.Sprintf("<%s image, %d bytes>", part.InlineData.MIMEType, len(part.InlineData.Data)))
				return Image{Data: part.InlineData.Data, MIMEType: cmp.Or(part.InlineData.MIMEType, "image/png")}, nil
			}
		}
	}
	g.recorder.Record(geminiTag, prompt, result.Text())
	return Image{}, fmt.Errorf("%w: gemini returned no inline data", ErrNoImage)
}
