// Package llmlog keeps an append-only diagnostic record of every request
// sent to a generation endpoint and the response that came back.
package llmlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// FileName is the default log file name inside the data directory.
const FileName = "llm_logs.txt"

const timestampLayout = "2006-01-02 15:04:05.000"

var (
	dataURLRX     = regexp.MustCompile(`data:image/[^;]+;base64,[A-Za-z0-9+/=\r\n]+`)
	base64FieldRX = regexp.MustCompile(`"image_base64"\s*:\s*"[A-Za-z0-9+/=\r\n]+"`)
)

// Recorder receives one entry per generation exchange.
type Recorder interface {
	Record(tag, request, response string)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(string, string, string) {}

// Log appends entries to a file. Safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a log writing to path, creating parent directories.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Record appends an entry. Write failures are swallowed: diagnostics must
// never fail a run.
func (l *Log) Record(tag, request, response string) {
	entry := Format(l.now(), tag, request, response)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = io.WriteString(f, entry)
}

// Clear truncates the log.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return os.WriteFile(l.path, nil, 0o644)
}

// Format renders one entry. An empty response omits the RESPONSE block.
func Format(at time.Time, tag, request, response string) string {
	var b strings.Builder
	b.WriteString(at.Format(timestampLayout))
	b.WriteString(" [")
	b.WriteString(tag)
	b.WriteString("]\nREQUEST:\n")
	b.WriteString(Redact(request))
	b.WriteString("\n")
	if response != "" {
		b.WriteString("RESPONSE:\n")
		b.WriteString(Redact(response))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// Redact strips inline base64 image payloads.
func Redact(s string) string {
	s = dataURLRX.ReplaceAllStringFunc(s, func(m string) string {
		prefix, _, _ := strings.Cut(m, "base64,")
		return prefix + "<base64 removed>"
	})
	return base64FieldRX.ReplaceAllString(s, `"image_base64":"<base64 removed>"`)
}

type tagKey struct{}

// WithTag attaches the step tag used for entries recorded under ctx.
func WithTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, tagKey{}, tag)
}

// Tag returns the tag attached to ctx, or fallback.
func Tag(ctx context.Context, fallback string) string {
	if tag, ok := ctx.Value(tagKey{}).(string); ok && tag != "" {
		return tag
	}
	return fallback
}
