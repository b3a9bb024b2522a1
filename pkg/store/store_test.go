package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"storyloom/pkg/schema"
)

func TestStoriesUpsertAndList(t *testing.T) {
	s, err := OpenStories(filepath.Join(t.TempDir(), "data", "stories.json"))
	if err != nil {
		t.Fatalf("OpenStories: %v", err)
	}

	list, err := s.List()
	if err != nil || len(list) != 0 {
		t.Fatalf("empty list = %v, %v", list, err)
	}

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Upsert(schema.Story{ID: "a", Title: "First", Timestamp: base}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(schema.Story{ID: "b", Title: "Second", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(schema.Story{ID: "a", Title: "First, again", Timestamp: base}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	list, err = s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].Title != "First, again" {
		t.Fatalf("list = %+v", list)
	}

	if err := s.Upsert(schema.Story{}); err == nil {
		t.Fatalf("Upsert without id succeeded")
	}
}

func TestStoriesGetRelinks(t *testing.T) {
	s, err := OpenStories(filepath.Join(t.TempDir(), "stories.json"))
	if err != nil {
		t.Fatalf("OpenStories: %v", err)
	}
	story := schema.Story{
		ID:           "s1",
		Environments: []schema.Asset{{ID: "environment_7", Name: "Old Kitchen"}},
		Characters:   []schema.Asset{{ID: "character_2", Name: "Grandma"}},
		Scenes: []schema.Scene{{
			CaptionEnglish: "Grandma bakes.",
			EnvironmentID:  "environment_1",
			Environment:    "old kitchen",
			CharacterIDs:   []string{"character_9"},
			Characters:     []string{"Grandma"},
		}},
	}
	if err := s.Upsert(story); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get("s1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	scene := got.Scenes[0]
	if scene.EnvironmentID != "environment_7" || len(scene.CharacterIDs) != 1 || scene.CharacterIDs[0] != "character_2" {
		t.Fatalf("scene not relinked: %+v", scene)
	}

	if _, ok, err := s.Get("missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	deleted, err := s.Delete("s1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if deleted, _ := s.Delete("s1"); deleted {
		t.Fatalf("second Delete reported a record")
	}
}

func TestRunsLifecycle(t *testing.T) {
	ctx := context.Background()
	runs, err := OpenRuns(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenRuns: %v", err)
	}
	defer runs.Close()

	run, err := runs.Create(ctx, "r1", "story1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.Status != StatusQueued || run.StoryID != "story1" || run.CreatedAt.IsZero() {
		t.Fatalf("created = %+v", run)
	}

	if err := runs.SetStatus(ctx, "r1", StatusRunning, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := runs.SetProgress(ctx, "r1", 2, 6, "CHARACTER EXTRACTION"); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := runs.SetStatus(ctx, "r1", StatusFailed, "boom"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := runs.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "boom" || got.CurrentStep != 2 || got.TotalSteps != 6 || got.StepLabel != "CHARACTER EXTRACTION" {
		t.Fatalf("run = %+v", got)
	}
	if !got.Status.Terminal() || StatusRunning.Terminal() {
		t.Fatalf("Terminal classification wrong")
	}

	if _, err := runs.Get(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Get(nope) err = %v", err)
	}
	if err := runs.SetStatus(ctx, "nope", StatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("SetStatus(nope) err = %v", err)
	}
}

func TestRunsFailInterruptedAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	runs, err := OpenRuns(path)
	if err != nil {
		t.Fatalf("OpenRuns: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := runs.Create(ctx, id, "s"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = runs.SetStatus(ctx, "b", StatusRunning, "")
	_ = runs.SetStatus(ctx, "c", StatusCompleted, "")
	if err := runs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	runs, err = OpenRuns(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer runs.Close()

	n, err := runs.FailInterrupted(ctx)
	if err != nil || n != 2 {
		t.Fatalf("FailInterrupted = %d, %v", n, err)
	}
	list, err := runs.List(ctx, 0)
	if err != nil || len(list) != 3 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
	for _, r := range list {
		want := StatusFailed
		if r.ID == "c" {
			want = StatusCompleted
		}
		if r.Status != want {
			t.Fatalf("run %s status = %s, want %s", r.ID, r.Status, want)
		}
	}
	if limited, _ := runs.List(ctx, 1); len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}
