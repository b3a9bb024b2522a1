package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyloom/pkg/config"
	"storyloom/pkg/diff"
	"storyloom/pkg/images"
	"storyloom/pkg/inference"
	"storyloom/pkg/schema"
)

type recordingReporter struct {
	progress []string
	logs     []string
}

func (r *recordingReporter) Progress(current, total int, step string) {
	r.progress = append(r.progress, fmt.Sprintf("%d/%d %s", current, total, step))
}

func (r *recordingReporter) Log(message string) { r.logs = append(r.logs, message) }

type funcStep struct {
	name string
	fn   func(ctx context.Context, pc *schema.ProcessingContext) error
}

func (s funcStep) Name() string { return s.name }

func (s funcStep) Process(ctx context.Context, pc *schema.ProcessingContext, _ Reporter) error {
	return s.fn(ctx, pc)
}

func TestStepLabel(t *testing.T) {
	cases := map[string]string{
		"CharacterExtractionStep":    "CHARACTER EXTRACTION",
		"StoryStitchingStep":         "STORY STITCHING",
		"SceneImageStep":             "SCENE IMAGE",
		"LLMCallStep":                "LLM CALL",
		"Step":                       "",
		"environment_continuityStep": "ENVIRONMENT CONTINUITY",
	}
	for in, want := range cases {
		if got := StepLabel(in); got != want {
			t.Fatalf("StepLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunStopsAtFirstError(t *testing.T) {
	var ran []string
	step := func(name string, err error) Step {
		return funcStep{name: name, fn: func(context.Context, *schema.ProcessingContext) error {
			ran = append(ran, name)
			return err
		}}
	}
	boom := errors.New("disk full")
	steps := []Step{step("FirstStep", nil), step("SecondStep", boom), step("ThirdStep", nil)}

	rep := &recordingReporter{}
	err := NewExecutor(nil).Run(context.Background(), &schema.ProcessingContext{}, steps, rep)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "SecondStep") {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(ran, []string{"FirstStep", "SecondStep"}) {
		t.Fatalf("ran = %v", ran)
	}
	if !slices.Equal(rep.progress, []string{"1/3 FIRST"}) {
		t.Fatalf("progress = %v", rep.progress)
	}
}

func TestRunWithFinalizerAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := []Step{
		funcStep{name: "StitchStep", fn: func(_ context.Context, pc *schema.ProcessingContext) error {
			pc.StoryOriginal = "partial"
			cancel()
			return nil
		}},
		funcStep{name: "NeverStep", fn: func(context.Context, *schema.ProcessingContext) error {
			t.Fatalf("step started after cancellation")
			return nil
		}},
	}

	var (
		finalized  bool
		seenErr    error
		seenStory  string
		finalCtxOK bool
	)
	err := NewExecutor(nil).RunWithFinalizer(ctx, &schema.ProcessingContext{}, steps, nil,
		func(fctx context.Context, pc *schema.ProcessingContext, runErr error) error {
			finalized, seenErr, seenStory = true, runErr, pc.StoryOriginal
			finalCtxOK = fctx.Err() == nil
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if !finalized || !errors.Is(seenErr, context.Canceled) || seenStory != "partial" || !finalCtxOK {
		t.Fatalf("finalizer saw finalized=%v err=%v story=%q ctxOK=%v", finalized, seenErr, seenStory, finalCtxOK)
	}
}

// routedInferencer answers by request step. Lists are consumed in order; the
// last entry repeats.
type routedInferencer struct {
	mu     sync.Mutex
	routes map[string][]string
	steps  []string
}

func (f *routedInferencer) Complete(_ context.Context, req inference.Request) (inference.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, req.Step)
	msgs := f.routes[req.Step]
	if len(msgs) == 0 {
		return inference.Message{}, &inference.CallError{Step: req.Step, Reason: inference.ReasonNoChoices}
	}
	msg := msgs[0]
	if len(msgs) > 1 {
		f.routes[req.Step] = msgs[1:]
	}
	return inference.Message{Raw: msg}, nil
}

func kitchenStory() *routedInferencer {
	return &routedInferencer{routes: map[string][]string{
		"StoryStitcher":         {`{"parsed":{"language":"English","story_original":"Grandma bakes bread in the old kitchen. Later Grandma and Tom walk in the garden.","story_english":"Grandma bakes bread in the old kitchen. Later Grandma and Tom walk in the garden.","title_short":"Bread Morning","metadata":{"mood":"warm"}}}`},
		"CharacterExtraction":   {`{"parsed":[{"name":"Grandma","description":"An old baker"},{"name":"Tom","description":"A small boy"}]}`},
		"EnvironmentExtraction": {`{"parsed":[{"name":"Old Kitchen","description":"A warm kitchen"},{"name":"Garden","description":"A green garden"}]}`},
		"SceneBuilder": {`{"parsed":[
			{"caption_original":"Grandma bakes.","caption_english":"Grandma bakes.","environment_name":"Old Kitchen","character_names":["Grandma"]},
			{"caption_original":"The bread rises.","caption_english":"The bread rises.","environment_name":"Old Kitchen","character_names":["Grandma"]},
			{"caption_original":"They walk.","caption_english":"They walk.","environment_name":"Garden","character_names":["Grandma","Tom"]}
		]}`},
		"SceneEnvironment": {
			`{"parsed":[{"name":"Old Kitchen","description":"A warm kitchen"}]}`,
			`{"parsed":[{"name":"old kitchen","description":"A warm kitchen again"}]}`,
			`{"parsed":[{"name":"Garden","description":"A green garden"}]}`,
		},
	}}
}

type fakeImages struct {
	mu   sync.Mutex
	jobs []images.Job
}

func (f *fakeImages) GenerateAll(_ context.Context, runID string, jobs []images.Job) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobs...)
	paths := make([]string, len(jobs))
	for i, j := range jobs {
		if strings.Contains(j.Name, "character_2") {
			continue
		}
		paths[i] = filepath.Join(runID, j.Name+".png")
	}
	return paths, nil
}

type memStore struct {
	stories map[string]schema.Story
	upserts int
}

func newMemStore() *memStore { return &memStore{stories: map[string]schema.Story{}} }

func (m *memStore) Get(id string) (schema.Story, bool, error) {
	s, ok := m.stories[id]
	return s, ok, nil
}

func (m *memStore) Upsert(s schema.Story) error {
	m.stories[s.ID] = s
	m.upserts++
	return nil
}

func TestKitchenStoryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	seg := filepath.Join(dir, "segment_1.m4a")
	if err := os.WriteFile(seg, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.PipelineConfig{StructuredOutputs: true, ImageStyle: config.StyleCartoon, CharacterImages: true, SceneImages: true}
	inf := kitchenStory()
	gen := &fakeImages{}
	steps := BuildSteps(NewDeps(inf, gen, cfg, nil), cfg)

	var names []string
	for _, s := range steps {
		names = append(names, s.Name())
	}
	wantSteps := []string{"StoryStitchingStep", "CharacterExtractionStep", "CharacterImageStep", "EnvironmentExtractionStep", "SceneCompositionStep", "EnvironmentContinuityStep", "SceneImageStep"}
	if !slices.Equal(names, wantSteps) {
		t.Fatalf("steps = %v", names)
	}

	payload := &schema.Payload{
		StoryID:        "story-1",
		Transcriptions: []string{"grandma bakes", "we walk in the garden"},
		Timestamp:      time.Date(2025, 5, 4, 9, 30, 0, 0, time.UTC),
		SegmentPaths:   []string{seg},
	}
	pc := schema.NewProcessingContext(payload)
	store := newMemStore()
	rep := &recordingReporter{}

	err := NewExecutor(nil).RunWithFinalizer(context.Background(), pc, steps, rep, NewFinalizer(store, cfg, nil).For(payload))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rep.progress) != len(steps) || rep.progress[1] != "2/7 CHARACTER EXTRACTION" {
		t.Fatalf("progress = %v", rep.progress)
	}
	if pc.StoryLanguage != "English" || pc.TitleLocalized != "" || !slices.Equal(pc.ContextTags, []string{"Mood: warm"}) {
		t.Fatalf("stitch results: lang=%q title=%q tags=%v", pc.StoryLanguage, pc.TitleLocalized, pc.ContextTags)
	}
	if len(pc.Characters) != 2 || pc.Characters[0].ID != "character_1" || pc.Characters[0].Image == "" || pc.Characters[1].Image != "" {
		t.Fatalf("characters = %+v", pc.Characters)
	}

	// The kitchen is revisited: one asset serves scenes 1 and 2.
	if len(pc.Environments) != 2 {
		t.Fatalf("environments = %+v", pc.Environments)
	}
	if pc.Scenes[0].EnvironmentID == "" || pc.Scenes[0].EnvironmentID != pc.Scenes[1].EnvironmentID || pc.Scenes[2].EnvironmentID == pc.Scenes[0].EnvironmentID {
		t.Fatalf("scene environments = %q %q %q", pc.Scenes[0].EnvironmentID, pc.Scenes[1].EnvironmentID, pc.Scenes[2].EnvironmentID)
	}
	if env := pc.SceneEnvironment(2); env == nil || env.Name != "Garden" {
		t.Fatalf("scene 3 environment = %+v", env)
	}
	if !slices.Equal(pc.Scenes[2].CharacterIDs, []string{"character_1", "character_2"}) {
		t.Fatalf("scene 3 characters = %v", pc.Scenes[2].CharacterIDs)
	}

	var sceneJob images.Job
	for _, j := range gen.jobs {
		if j.Name == "scene_3" {
			sceneJob = j
		}
	}
	for _, want := range []string{"cartoon", "They walk.", "A green garden", "A small boy", "Mood: warm"} {
		if !strings.Contains(sceneJob.Prompt, want) {
			t.Fatalf("scene_3 prompt %q missing %q", sceneJob.Prompt, want)
		}
	}
	if pc.Scenes[2].Image != filepath.Join("story-1", "scene_3.png") {
		t.Fatalf("scene image = %q", pc.Scenes[2].Image)
	}

	rec := store.stories["story-1"]
	if !rec.Processed || rec.Title != "Bread Morning — May 4, 2025 9:30 AM" || len(rec.Segments) != 0 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Scenes[0].Environment != "Old Kitchen" || !slices.Equal(rec.Scenes[2].Characters, []string{"Grandma", "Tom"}) {
		t.Fatalf("record scenes = %+v", rec.Scenes)
	}
	if _, err := os.Stat(seg); !os.IsNotExist(err) {
		t.Fatalf("segment file not removed: %v", err)
	}
}

func TestNoChoicesDegradesWithoutFailing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	inf := inference.NewOpenAIInferencer(inference.OpenAIOptions{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	cfg := config.PipelineConfig{StructuredOutputs: true}
	steps := BuildSteps(NewDeps(inf, nil, cfg, nil), cfg)

	dir := t.TempDir()
	seg := filepath.Join(dir, "segment_1.m4a")
	if err := os.WriteFile(seg, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	payload := &schema.Payload{StoryID: "s", Transcriptions: []string{"hello"}, UserTitle: "My walk", SegmentPaths: []string{seg}, Timestamp: time.Now()}
	pc := schema.NewProcessingContext(payload)
	store := newMemStore()
	rep := &recordingReporter{}

	if err := NewExecutor(nil).RunWithFinalizer(context.Background(), pc, steps, rep, NewFinalizer(store, cfg, nil).For(payload)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("requests = %d, want only the stitch call", hits.Load())
	}
	if len(rep.progress) != len(steps) {
		t.Fatalf("progress = %v", rep.progress)
	}
	rec := store.stories["s"]
	if rec.Processed || rec.Title != "My walk" || !slices.Equal(rec.Segments, []string{seg}) {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := os.Stat(seg); err != nil {
		t.Fatalf("segment removed for unprocessed story: %v", err)
	}
}

func TestFinalizeUpdatesExistingRecord(t *testing.T) {
	store := newMemStore()
	created := time.Date(2024, 12, 24, 18, 5, 0, 0, time.UTC)
	store.stories["s"] = schema.Story{
		ID:            "s",
		Title:         "Old",
		Timestamp:     created,
		Language:      "Italian",
		StoryOriginal: "C'era una volta",
		Characters:    []schema.Asset{{ID: "character_1", Name: "Nonna", Description: "Old"}},
	}

	f := NewFinalizer(store, config.PipelineConfig{KeepSegments: true}, nil)
	var got diff.StoryDiff
	f.OnDiff = func(d diff.StoryDiff) { got = d }

	pc := &schema.ProcessingContext{ID: "s", StoryEnglish: "Once upon a time", TitleEnglish: "Once Upon", TitleLocalized: "C'era una volta"}
	payload := &schema.Payload{StoryID: "s", Timestamp: time.Now(), SegmentPaths: []string{"/nonexistent/seg.m4a"}}
	rec, err := f.Finalize(context.Background(), payload, pc, nil)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !rec.Timestamp.Equal(created) || rec.Language != "Italian" || rec.StoryOriginal != "C'era una volta" || rec.StoryEnglish != "Once upon a time" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Title != "C'era una volta — Dec 24, 2024 6:05 PM" {
		t.Fatalf("title = %q", rec.Title)
	}
	if !rec.Processed || !slices.Equal(rec.Segments, payload.SegmentPaths) {
		t.Fatalf("keep_segments ignored: %+v", rec.Segments)
	}
	if got.Empty() {
		t.Fatalf("diff callback not invoked")
	}
	if _, removed, _ := got.Counts(); removed != 1 {
		t.Fatalf("removed = %d, want 1 (the character)", removed)
	}
	if store.upserts != 1 {
		t.Fatalf("upserts = %d", store.upserts)
	}
}
