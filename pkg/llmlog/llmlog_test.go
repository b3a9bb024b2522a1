package llmlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRedactDataURLAndField(t *testing.T) {
	in := `{"url":"data:image/png;base64,iVBORw0KGgo=","image_base64" : "QUJD"}`
	got := Redact(in)
	want := `{"url":"data:image/png;<base64 removed>","image_base64":"<base64 removed>"}`
	if got != want {
		t.Fatalf("redact:\n got %s\nwant %s", got, want)
	}
}

func TestFormatEntry(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.UTC)
	got := Format(at, "CharacterExtraction", "req", "resp")
	want := "2024-03-09 14:05:06.789 [CharacterExtraction]\nREQUEST:\nreq\nRESPONSE:\nresp\n\n"
	if got != want {
		t.Fatalf("format:\n got %q\nwant %q", got, want)
	}
	if strings.Contains(Format(at, "x", "req", ""), "RESPONSE") {
		t.Fatal("expected response block to be omitted")
	}
}

func TestLogAppendsConcurrently(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "nested", FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("tag", "request", "response")
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(data), "[tag]"); n != 20 {
		t.Fatalf("expected 20 entries, got %d", n)
	}

	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	data, _ = os.ReadFile(l.Path())
	if len(data) != 0 {
		t.Fatal("expected empty log after clear")
	}
}

func TestTagFromContext(t *testing.T) {
	if got := Tag(context.Background(), "fallback"); got != "fallback" {
		t.Fatalf("tag = %q", got)
	}
	if got := Tag(WithTag(context.Background(), "Stitch"), "fallback"); got != "Stitch" {
		t.Fatalf("tag = %q", got)
	}
}
