package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"storyloom/pkg/schema"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func sampleStory(t *testing.T) schema.Story {
	dir := t.TempDir()
	return schema.Story{
		ID:            "s1",
		Title:         "Bread Morning — May 4, 2025 9:30 AM",
		Timestamp:     time.Date(2025, 5, 4, 9, 30, 0, 0, time.UTC),
		Content:       "La nonna cuoce il pane.",
		Language:      "it",
		StoryOriginal: "La nonna cuoce il pane.",
		StoryEnglish:  "Grandma bakes bread.",
		Processed:     true,
		Segments: []string{
			writeFile(t, filepath.Join(dir, "seg0.m4a"), "audio"),
			filepath.Join(dir, "gone.wav"),
		},
		Characters: []schema.Asset{
			{ID: "character_1", Name: "Nonna", NameEnglish: "Grandma", Description: "anziana", Image: writeFile(t, filepath.Join(dir, "c1.webp"), "img")},
			{ID: "character_2", Name: "Leo", Image: filepath.Join(dir, "missing.png")},
		},
		Environments: []schema.Asset{
			{ID: "environment_1", Name: "Kitchen"},
		},
		Scenes: []schema.Scene{
			{CaptionOriginal: "Impasta.", CaptionEnglish: "She kneads dough!", Environment: "Kitchen", Characters: []string{"Grandma"}, Image: writeFile(t, filepath.Join(dir, "scene_1"), "img")},
		},
	}
}

func readArchive(t *testing.T, b []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		out[f.Name] = data
	}
	return out
}

func TestWriteArchiveLayout(t *testing.T) {
	story := sampleStory(t)
	var buf bytes.Buffer
	if err := Write(&buf, story); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries := readArchive(t, buf.Bytes())

	var names []string
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	want := []string{
		"audio/segment_0.m4a",
		"images/characters/1-grandma.webp",
		"images/scenes/1-she-kneads-dough.png",
		"metadata.json",
		"text/story_english.txt",
		"text/story_original.txt",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("entries = %v\nwant %v", names, want)
	}
	if got := string(entries["text/story_english.txt"]); got != "Grandma bakes bread." {
		t.Fatalf("english = %q", got)
	}

	var meta Metadata
	if err := json.Unmarshal(entries["metadata.json"], &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(meta.Segments) != 2 || meta.Segments[0].File != "audio/segment_0.m4a" || meta.Segments[1].File != "" {
		t.Fatalf("segments = %+v", meta.Segments)
	}
	if meta.Characters[0].Image != "images/characters/1-grandma.webp" || meta.Characters[1].Image != "" {
		t.Fatalf("characters = %+v", meta.Characters)
	}
	if meta.Scenes[0].Environment != "Kitchen" || meta.Scenes[0].Image == "" {
		t.Fatalf("scenes = %+v", meta.Scenes)
	}
	if meta.Content != story.Content || !meta.Processed {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestEnglishOmittedWhenSameAsOriginal(t *testing.T) {
	story := schema.Story{ID: "s2", Title: "Walk", StoryOriginal: "A walk.", StoryEnglish: "A walk."}
	var buf bytes.Buffer
	if err := Write(&buf, story); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries := readArchive(t, buf.Bytes())
	if _, ok := entries["text/story_english.txt"]; ok {
		t.Fatalf("english text written for an English story")
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want original text and metadata", len(entries))
	}
}

func TestToFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	story := schema.Story{ID: "s3", Title: "", StoryOriginal: "First."}

	if FileName(story) != "s3-story.zip" {
		t.Fatalf("FileName = %q", FileName(story))
	}
	if _, err := ToFile(dir, story); err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	story.StoryOriginal = "Second."
	path, err := ToFile(dir, story)
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(readArchive(t, b)["text/story_original.txt"]); got != "Second." {
		t.Fatalf("original = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(matches) != 1 {
		t.Fatalf("files = %v", matches)
	}
}
