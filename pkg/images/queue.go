package images

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"storyloom/pkg/llmlog"
	"storyloom/pkg/logging"
)

const (
	falTag         = "ImageGeneratorFal"
	falPollTag     = "ImageGeneratorFalPoll"
	falDownloadTag = "ImageGeneratorFalDownload"

	// MaxPolls bounds the status requests made for one queued image.
	MaxPolls = 10
)

type QueueOptions struct {
	APIKey       string
	URL          string
	ImageSize    string
	PollAttempts int
	PollInterval time.Duration
	HTTPClient   *http.Client
	Recorder     llmlog.Recorder
	Logger       *log.Logger
}

// QueueBackend talks to a dedicated image endpoint (fal.ai style) that
// answers with an image URL inline, nested under "response", or with a
// response_url to poll.
type QueueBackend struct {
	apiKey       string
	url          string
	imageSize    string
	pollAttempts int
	pollInterval time.Duration
	client       *http.Client
	recorder     llmlog.Recorder
	logger       *log.Logger
}

func NewQueueBackend(opts QueueOptions) *QueueBackend {
	q := &QueueBackend{
		apiKey:       opts.APIKey,
		url:          cmp.Or(opts.URL, "https://fal.run/fal-ai/flux-1/schnell"),
		imageSize:    cmp.Or(opts.ImageSize, "square"),
		pollAttempts: opts.PollAttempts,
		pollInterval: opts.PollInterval,
		client:       opts.HTTPClient,
		recorder:     opts.Recorder,
		logger:       logging.Or(opts.Logger).WithPrefix("images"),
	}
	if q.pollAttempts <= 0 || q.pollAttempts > MaxPolls {
		q.pollAttempts = MaxPolls
	}
	if q.pollInterval <= 0 {
		q.pollInterval = time.Second
	}
	if q.client == nil {
		q.client = http.DefaultClient
	}
	if q.recorder == nil {
		q.recorder = llmlog.Nop{}
	}
	return q
}

type queueRequest struct {
	Prompt    string `json:"prompt"`
	ImageSize string `json:"image_size"`
	NumImages int    `json:"num_images"`
}

func (q *QueueBackend) Generate(ctx context.Context, prompt string) (Image, error) {
	if q.apiKey == "" {
		q.recorder.Record(falTag, prompt, "Missing API key")
		return Image{}, ErrMissingKey
	}

	payload, err := json.Marshal(queueRequest{Prompt: prompt, ImageSize: q.imageSize, NumImages: 1})
	if err != nil {
		return Image{}, err
	}
	body, status, err := q.do(ctx, http.MethodPost, q.url, payload)
	if err != nil {
		q.recorder.Record(falTag, string(payload), "ERROR: "+err.Error())
		return Image{}, err
	}
	q.recorder.Record(falTag, string(payload), string(body))
	if status < 200 || status > 299 {
		return Image{}, fmt.Errorf("image request rejected: HTTP %d", status)
	}
	if !gjson.ValidBytes(body) {
		return Image{}, fmt.Errorf("%w: invalid JSON response", ErrNoImage)
	}

	root := gjson.ParseBytes(body)
	if url := imageURL(root); url != "" {
		return q.download(ctx, url)
	}
	if url := imageURL(root.Get("response")); url != "" {
		return q.download(ctx, url)
	}
	if responseURL := root.Get("response_url").String(); responseURL != "" {
		return q.poll(ctx, responseURL)
	}
	return Image{}, fmt.Errorf("%w: response missing image url", ErrNoImage)
}

// poll requests responseURL at a fixed pace until an image URL shows up, a
// terminal status is reported, or the attempts run out.
func (q *QueueBackend) poll(ctx context.Context, responseURL string) (Image, error) {
	limiter := rate.NewLimiter(rate.Every(q.pollInterval), 1)
	for attempt := 1; attempt <= q.pollAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return Image{}, err
		}
		reqLog := fmt.Sprintf(`{"response_url":%q,"attempt":%d}`, responseURL, attempt)
		body, status, err := q.do(ctx, http.MethodGet, responseURL, nil)
		if err != nil {
			q.recorder.Record(falPollTag, reqLog, "ERROR: "+err.Error())
			return Image{}, err
		}
		q.recorder.Record(falPollTag, reqLog, string(body))
		if status < 200 || status > 299 {
			return Image{}, fmt.Errorf("image poll rejected: HTTP %d", status)
		}

		root := gjson.ParseBytes(body)
		result := root.Get("response")
		if !result.IsObject() {
			result = root
		}
		if url := imageURL(result); url != "" {
			return q.download(ctx, url)
		}
		if s := root.Get("status").String(); !pending(s) {
			return Image{}, fmt.Errorf("%w: poll finished with status %q", ErrNoImage, s)
		}
		q.logger.Debug("image pending", "attempt", attempt, "status", root.Get("status").String())
	}
	return Image{}, fmt.Errorf("%w: poll exceeded %d attempts", ErrNoImage, q.pollAttempts)
}

func pending(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "IN_PROGRESS", "IN_QUEUE", "PENDING":
		return true
	}
	return false
}

// imageURL finds images[].url|image_url, image.url or url.
func imageURL(r gjson.Result) string {
	if !r.IsObject() {
		return ""
	}
	for _, img := range r.Get("images").Array() {
		if u := cmp.Or(img.Get("url").String(), img.Get("image_url").String()); u != "" {
			return u
		}
	}
	if u := r.Get("image.url").String(); u != "" {
		return u
	}
	return r.Get("url").String()
}

func (q *QueueBackend) download(ctx context.Context, url string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		q.recorder.Record(falDownloadTag, fmt.Sprintf(`{"url":%q}`, url), "ERROR: "+err.Error())
		return Image{}, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("download image: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		q.recorder.Record(falDownloadTag, fmt.Sprintf(`{"url":%q,"status_code":%d}`, url, resp.StatusCode), string(data))
		return Image{}, fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}
	if len(data) == 0 {
		q.recorder.Record(falDownloadTag, fmt.Sprintf(`{"url":%q}`, url), "<empty body>")
		return Image{}, fmt.Errorf("%w: empty download", ErrNoImage)
	}

	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return Image{Data: data, MIMEType: mime}, nil
}

func (q *QueueBackend) do(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Key "+q.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
