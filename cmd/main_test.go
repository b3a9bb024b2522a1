package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := execute(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output = %q", out)
	}
	b, err := os.ReadFile(target)
	if err != nil || !strings.Contains(string(b), "[llm]") {
		t.Fatalf("sample = %q, %v", b, err)
	}

	if _, _, err := execute(t, "config", "init", "--path", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second init err = %v", err)
	}
	if _, _, err := execute(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

// writeConfig points the LLM at a local endpoint that never returns choices.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	t.Setenv("STORYLOOM_DATA_DIR", dataDir)
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[llm]
provider = "local"
base_url = %q

[paths]
data_dir = %q

[logging]
level = "error"
format = "text"
`, srv.URL, dataDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dataDir
}

func TestRunWithoutModelOutputSavesPendingStory(t *testing.T) {
	cfgPath, dataDir := writeConfig(t)

	if _, _, err := execute(t, "-c", cfgPath, "run"); err != errNoInput {
		t.Fatalf("empty run err = %v", err)
	}

	out, progress, err := execute(t, "-c", cfgPath, "run", "--prompt", "A walk home", "--title", "My walk", "--id", "s1", "--no-images")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "My walk") || !strings.Contains(out, "pending") {
		t.Fatalf("run output = %q", out)
	}
	if !strings.Contains(progress, "[1/5] STORY STITCHING") || !strings.Contains(progress, "[5/5] ENVIRONMENT CONTINUITY") {
		t.Fatalf("progress = %q", progress)
	}

	out, _, err = execute(t, "-c", cfgPath, "stories", "list")
	if err != nil || !strings.Contains(out, "s1") || !strings.Contains(out, "My walk") {
		t.Fatalf("stories list = %q, %v", out, err)
	}

	out, _, err = execute(t, "-c", cfgPath, "runs")
	if err != nil || !strings.Contains(out, "completed") || !strings.Contains(out, "5/5") {
		t.Fatalf("runs = %q, %v", out, err)
	}

	out, _, err = execute(t, "-c", cfgPath, "stories", "export", "s1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	exported := strings.TrimSpace(out)
	if filepath.Dir(exported) != filepath.Join(dataDir, "exports") || !strings.HasSuffix(exported, "s1-my-walk.zip") {
		t.Fatalf("export path = %q", exported)
	}

	out, _, err = execute(t, "-c", cfgPath, "stories", "show", "s1", "--json")
	if err != nil || !strings.Contains(out, `"id": "s1"`) || !strings.Contains(out, `"title": "My walk`) {
		t.Fatalf("show --json = %q, %v", out, err)
	}

	if _, _, err := execute(t, "-c", cfgPath, "stories", "show", "missing"); err == nil {
		t.Fatalf("show of a missing story succeeded")
	}
}
