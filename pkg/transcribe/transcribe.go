// Package transcribe turns recorded audio segments into text.
package transcribe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"storyloom/pkg/inference"
	"storyloom/pkg/language"
	"storyloom/pkg/logging"
)

const step = "transcription"

// Transcriber returns the recognized text of one audio file. Failures that
// should not stop a run are reported as *inference.CallError.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type RemoteOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Remote calls an OpenAI-compatible /audio/transcriptions endpoint, by
// default Groq's Whisper turbo model.
type Remote struct {
	client   openai.Client
	apiKey   string
	model    string
	language string
	logger   *log.Logger
}

func NewRemote(opts RemoteOptions) *Remote {
	r := &Remote{
		apiKey:   opts.APIKey,
		model:    cmp.Or(opts.Model, "whisper-large-v3-turbo"),
		language: language.ISO2(opts.Language),
		logger:   logging.Or(opts.Logger).WithPrefix("transcribe"),
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(cmp.Or(opts.BaseURL, "https://api.groq.com/openai/v1")),
		option.WithMaxRetries(0),
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	r.client = openai.NewClient(reqOpts...)
	return r
}

func (r *Remote) Transcribe(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(r.apiKey) == "" {
		return "", &inference.CallError{Step: step, Reason: inference.ReasonMissingCredential}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := cmp.Or(mime.TypeByExtension(filepath.Ext(path)), "audio/m4a")
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, filepath.Base(path), contentType),
		Model: openai.AudioModel(r.model),
	}
	if r.language != "" {
		params.Language = openai.String(r.language)
	}

	start := time.Now()
	res, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &inference.CallError{Step: step, Reason: inference.ReasonHTTPStatus, Status: apiErr.StatusCode, Err: err}
		}
		return "", &inference.CallError{Step: step, Reason: inference.ReasonTransport, Err: err}
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", &inference.CallError{Step: step, Reason: inference.ReasonBlankContent}
	}
	r.logger.Debug("segment transcribed", "file", filepath.Base(path), "chars", len(text), "duration", time.Since(start))
	return text, nil
}

// Text reads segments that are already text files.
type Text struct{}

func (Text) Transcribe(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// All transcribes paths in order. Segments that yield no text are logged and
// left out; any other error stops and is returned.
func All(ctx context.Context, t Transcriber, paths []string, logger *log.Logger) ([]string, error) {
	logger = logging.Or(logger)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		text, err := t.Transcribe(ctx, p)
		if err != nil {
			if inference.NoResult(err) {
				logger.Warn("segment not transcribed", "file", p, "error", err)
				continue
			}
			return out, fmt.Errorf("transcribe %s: %w", p, err)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}
