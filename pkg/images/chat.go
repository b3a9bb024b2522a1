package images

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"storyloom/pkg/llmlog"
	"storyloom/pkg/logging"
)

const (
	chatTag = "ImageGeneratorOpenRouter"

	// MaxAttempts bounds the requests made for one image.
	MaxAttempts = 5

	retryPrompt = "Please try a different composition emphasizing fresh framing, varied focal points, and an alternative mood while staying true to the prompt."
)

type ChatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxAttempts int
	HTTPClient  *http.Client
	Recorder    llmlog.Recorder
	Logger      *log.Logger
}

// ChatBackend asks an image-capable chat model for inline base64 images.
// A response without an image is answered with a corrective turn appended
// to the same conversation, up to MaxAttempts requests in total.
type ChatBackend struct {
	client      openai.Client
	apiKey      string
	model       string
	maxAttempts int
	recorder    llmlog.Recorder
	logger      *log.Logger
}

func NewChatBackend(opts ChatOptions) *ChatBackend {
	c := &ChatBackend{
		apiKey:      opts.APIKey,
		model:       cmp.Or(opts.Model, "google/gemini-2.5-flash-image-preview"),
		maxAttempts: opts.MaxAttempts,
		recorder:    opts.Recorder,
		logger:      logging.Or(opts.Logger).WithPrefix("images"),
	}
	if c.maxAttempts <= 0 || c.maxAttempts > MaxAttempts {
		c.maxAttempts = MaxAttempts
	}
	if c.recorder == nil {
		c.recorder = llmlog.Nop{}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(cmp.Or(opts.BaseURL, "https://openrouter.ai/api/v1")),
		option.WithMaxRetries(0),
		option.WithMiddleware(llmlog.Middleware(c.recorder, chatTag)),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	c.client = openai.NewClient(reqOpts...)
	return c
}

func (c *ChatBackend) Generate(ctx context.Context, prompt string) (Image, error) {
	if c.apiKey == "" {
		c.recorder.Record(chatTag, prompt, "Missing API key")
		return Image{}, ErrMissingKey
	}

	history := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)}
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var body []byte
		_, err := c.client.Chat.Completions.New(
			llmlog.WithTag(ctx, chatTag),
			openai.ChatCompletionNewParams{Model: c.model, Messages: history},
			option.WithResponseBodyInto(&body),
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Image{}, ctxErr
			}
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return Image{}, fmt.Errorf("image request rejected: HTTP %d", apiErr.StatusCode)
			}
			return Image{}, fmt.Errorf("image request: %w", err)
		}

		msg := gjson.GetBytes(body, "choices.0.message")
		if !msg.Exists() {
			return Image{}, fmt.Errorf("%w: response has no choices", ErrNoImage)
		}
		if img, ok := inlineImage(msg); ok {
			c.logger.Debug("image generated", "attempt", attempt, "bytes", len(img.Data))
			return img, nil
		}

		c.logger.Warn("response without image", "attempt", attempt, "max", c.maxAttempts)
		history = append(history, openai.UserMessage(retryPrompt))
	}
	return Image{}, fmt.Errorf("%w after %d attempts", ErrNoImage, c.maxAttempts)
}

// inlineImage reads message.images[0].image_url.url (a data URL) or
// message.content[0].image_base64.
func inlineImage(msg gjson.Result) (Image, bool) {
	if url := msg.Get("images.0.image_url.url").String(); url != "" {
		header, b64, found := strings.Cut(url, "base64,")
		if found && strings.TrimSpace(b64) != "" {
			mime := "image/png"
			if m, ok := strings.CutPrefix(header, "data:"); ok {
				mime = cmp.Or(strings.TrimSuffix(m, ";"), mime)
			}
			if data, ok := decodeBase64(b64); ok {
				return Image{Data: data, MIMEType: mime}, true
			}
		}
	}
	if b64 := msg.Get("content.0.image_base64").String(); strings.TrimSpace(b64) != "" {
		if data, ok := decodeBase64(b64); ok {
			return Image{Data: data, MIMEType: "image/png"}, true
		}
	}
	return Image{}, false
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.Join(strings.Fields(s), "")
	if data, err := base64.StdEncoding.DecodeString(s); err == nil && len(data) > 0 {
		return data, true
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil && len(data) > 0 {
		return data, true
	}
	return nil, false
}
