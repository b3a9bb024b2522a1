package inference

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"storyloom/pkg/llmlog"
	"storyloom/pkg/logging"
	"storyloom/pkg/utils"
)

// OpenAIOptions configures an OpenAI-compatible endpoint (OpenRouter,
// OpenAI, xAI, Moonshot, a local server, ...).
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequireKey makes a blank APIKey a configuration failure instead of
	// sending unauthenticated requests.
	RequireKey bool
	Timeout    time.Duration
	HTTPClient *http.Client
	Recorder   llmlog.Recorder
	Logger     *log.Logger
}

// OpenAIInferencer implements Inferencer using OpenAI's official Go SDK.
// Retries are disabled: a failed call is reported, never repeated.
type OpenAIInferencer struct {
	client     openai.Client
	apiKey     string
	model      string
	requireKey bool
	recorder   llmlog.Recorder
	logger     *log.Logger
}

// NewOpenAIInferencer creates an inferencer for an OpenAI-compatible API.
func NewOpenAIInferencer(opts OpenAIOptions) *OpenAIInferencer {
	o := &OpenAIInferencer{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		requireKey: opts.RequireKey,
		recorder:   opts.Recorder,
		logger:     logging.Or(opts.Logger),
	}
	if o.recorder == nil {
		o.recorder = llmlog.Nop{}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(llmlog.Middleware(o.recorder, "LLM")),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	o.client = openai.NewClient(reqOpts...)
	return o
}

// Model returns the configured model name.
func (o *OpenAIInferencer) Model() string { return o.model }

// Complete sends {model, messages:[{role:user}], response_format?} and returns
// the first choice's message.
func (o *OpenAIInferencer) Complete(ctx context.Context, req Request) (Message, error) {
	if o.requireKey && o.apiKey == "" {
		o.recorder.Record(req.Step, req.Prompt, "Missing API key")
		return Message{}, &CallError{Step: req.Step, Reason: ReasonMissingCredential}
	}

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
	}
	if req.Format != nil {
		params.ResponseFormat = req.Format.ResponseFormat()
	}

	requestID := uuid.NewString()
	if o.logger.GetLevel() <= log.DebugLevel {
		if tokens, err := utils.NumTokens(req.Prompt); err == nil {
			o.logger.Debug("structured call", "step", req.Step, "request_id", requestID, "chars", len(req.Prompt), "tokens", tokens)
		}
	}

	var body []byte
	_, err := o.client.Chat.Completions.New(
		llmlog.WithTag(ctx, req.Step),
		params,
		option.WithHeader("X-Request-Id", requestID),
		option.WithResponseBodyInto(&body),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			o.logger.Warn("structured call rejected", "step", req.Step, "request_id", requestID, "status", apiErr.StatusCode)
			return Message{}, &CallError{Step: req.Step, Reason: ReasonHTTPStatus, Status: apiErr.StatusCode, Err: err}
		}
		o.logger.Warn("structured call failed", "step", req.Step, "request_id", requestID, "error", err)
		return Message{}, &CallError{Step: req.Step, Reason: ReasonTransport, Err: err}
	}
	return MessageFromBody(req.Step, body)
}
