package inference

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"storyloom/pkg/llmlog"
	"storyloom/pkg/logging"
)

// GeminiOptions configures the Gemini API backend.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Recorder   llmlog.Recorder
	Logger     *log.Logger
}

// GeminiInferencer implements Inferencer on the Gemini API. Responses are
// normalized into the chat message shape so the same decode strategies apply.
type GeminiInferencer struct {
	client   *genai.Client
	apiKey   string
	model    string
	recorder llmlog.Recorder
	logger   *log.Logger
}

// NewGeminiInferencer creates a Gemini-backed inferencer.
func NewGeminiInferencer(ctx context.Context, opts GeminiOptions) (*GeminiInferencer, error) {
	g := &GeminiInferencer{
		apiKey:   opts.APIKey,
		model:    cmp.Or(opts.Model, "gemini-2.5-flash"),
		recorder: opts.Recorder,
		logger:   logging.Or(opts.Logger),
	}
	if g.recorder == nil {
		g.recorder = llmlog.Nop{}
	}
	if opts.APIKey == "" {
		// Calls report missing credentials; no client is needed.
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
		return nil, err
	}
	g.client = client
	return g, nil
}

// Complete generates JSON content for the prompt.
func (g *GeminiInferencer) Complete(ctx context.Context, req Request) (Message, error) {
	if g.client == nil {
		g.recorder.Record(req.Step, req.Prompt, "Missing API key")
		return Message{}, &CallError{Step: req.Step, Reason: ReasonMissingCredential}
	}

	g.logger.Debug("gemini call", "step", req.Step, "model", g.model, "chars", len(req.Prompt))

	config := &genai.GenerateContentConfig{}
	if req.Format != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = req.Format.Schema
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), config)
	if err != nil {
		g.recorder.Record(req.Step, req.Prompt, "ERROR: "+err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Message{}, &CallError{Step: req.Step, Reason: ReasonHTTPStatus, Status: apiErr.Code, Err: err}
		}
		return Message{}, &CallError{Step: req.Step, Reason: ReasonTransport, Err: err}
	}

	if len(result.Candidates) == 0 {
		g.recorder.Record(req.Step, req.Prompt, "(no candidates)")
		return Message{}, &CallError{Step: req.Step, Reason: ReasonNoChoices}
	}
	text := result.Text()
	g.recorder.Record(req.Step, req.Prompt, text)

	raw, err := json.Marshal(map[string]string{"role": "assistant", "content": text})
	if err != nil {
		return Message{}, &CallError{Step: req.Step, Reason: ReasonMalformedJSON, Err: err}
	}
	return Message{Raw: string(raw)}, nil
}
