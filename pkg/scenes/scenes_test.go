package scenes

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"storyloom/pkg/assets"
	"storyloom/pkg/inference"
	"storyloom/pkg/schema"
)

type fakeInferencer struct {
	message string
	reqs    []inference.Request
}

func (f *fakeInferencer) Complete(_ context.Context, req inference.Request) (inference.Message, error) {
	f.reqs = append(f.reqs, req)
	return inference.Message{Raw: f.message}, nil
}

var (
	grandma = schema.Asset{ID: "character_1", Name: "Nonna", NameEnglish: "Grandma", Description: "Fornaia", DescriptionEnglish: "A kind baker"}
	boy     = schema.Asset{ID: "character_2", Name: "Boy", NameEnglish: "Boy", Description: "Small", DescriptionEnglish: "Small"}
	kitchen = schema.Asset{ID: "environment_3", Name: "Kitchen", NameEnglish: "Kitchen", Description: "Warm", DescriptionEnglish: "Warm"}
)

func TestReferenceList(t *testing.T) {
	if got := ReferenceList(nil); got != "- None" {
		t.Fatalf("empty list = %q", got)
	}
	got := ReferenceList([]schema.Asset{grandma, boy})
	want := "- Grandma: A kind baker (Original name: Nonna)\n- Boy: Small"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildLinksByName(t *testing.T) {
	inf := &fakeInferencer{message: `{"parsed":[
		{"caption_original":"Entro in cucina","caption_english":"I enter the kitchen","environment_name":"kitchen","character_names":["GRANDMA","Ghost","Nonna"]},
		{"text":"Il pane","environment":"Attic","characters":["Boy"]},
		{"caption_english":""},
		"oops"
	]}`}
	b := NewBuilder(inf, true, nil)
	got, err := b.Build(context.Background(), "Entro in cucina. Il pane.", "", []schema.Asset{grandma, boy}, []schema.Asset{kitchen})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 scenes, got %+v", got)
	}
	first := got[0]
	if first.EnvironmentID != "environment_3" || first.EnvironmentName != "kitchen" || !slices.Equal(first.CharacterIDs, []string{"character_1"}) {
		t.Fatalf("unexpected first scene: %+v", first)
	}
	second := got[1]
	if second.CaptionOriginal != "Il pane" || second.CaptionEnglish != "Il pane" {
		t.Fatalf("captions not seeded: %+v", second)
	}
	if second.EnvironmentID != "" || second.EnvironmentName != "Attic" || !slices.Equal(second.CharacterIDs, []string{"character_2"}) {
		t.Fatalf("unexpected second scene: %+v", second)
	}

	p := inf.reqs[0].Prompt
	if !strings.Contains(p, scenesOnlyOriginal) || !strings.Contains(p, "- Kitchen: Warm") || inf.reqs[0].Format != schema.ScenesFormat {
		t.Fatalf("unexpected prompt:\n%s", p)
	}
}

func TestBuildWithoutStory(t *testing.T) {
	inf := &fakeInferencer{}
	got, err := NewBuilder(inf, true, nil).Build(context.Background(), " ", "", nil, nil)
	if got != nil || err != nil || len(inf.reqs) != 0 {
		t.Fatalf("expected no call, got %v %v", got, err)
	}
}

func TestBuildNoChoices(t *testing.T) {
	got, err := NewBuilder(&fakeInferencer{message: `{"content":""}`}, true, nil).Build(context.Background(), "a", "b", nil, nil)
	if len(got) != 0 || !inference.NoResult(err) {
		t.Fatalf("got %v %v", got, err)
	}
}

type fakeExtractor struct {
	candidates []*schema.Asset
	errs       []error
	previous   []string
}

func (f *fakeExtractor) ExtractEnvironmentForScene(_ context.Context, _ assets.SceneHint, _ string, previous string) (*schema.Asset, error) {
	f.previous = append(f.previous, previous)
	i := len(f.previous) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.candidates) {
		return f.candidates[i], err
	}
	return nil, err
}

type fakeLocalizer struct {
	calls int
	in    []schema.Asset
}

func (f *fakeLocalizer) LocalizeEnvironments(_ context.Context, envs []schema.Asset, lang string) ([]schema.Asset, error) {
	f.calls++
	f.in = envs
	if lang != "Italian" {
		return envs, nil
	}
	out := make([]schema.Asset, len(envs))
	for i, e := range envs {
		e.NameEnglish = e.DisplayName()
		e.Name = "IT " + e.NameEnglish
		out[i] = e
	}
	return out, nil
}

func env(name string) *schema.Asset {
	return &schema.Asset{Name: name, Description: name + " desc", NameEnglish: name, DescriptionEnglish: name + " desc"}
}

func TestResolveContinuity(t *testing.T) {
	pc := &schema.ProcessingContext{
		StoryLanguage: "Italian",
		Environments:  []schema.Asset{kitchen},
		Scenes: []schema.Scene{
			{CaptionEnglish: "I enter the kitchen", EnvironmentID: "environment_3"},
			{CaptionEnglish: "Grandma bakes", EnvironmentID: "environment_3"},
			{CaptionEnglish: "We go to the garden"},
			{CaptionEnglish: "Back in the kitchen"},
			{CaptionEnglish: "Something vague", EnvironmentID: "environment_3"},
		},
	}
	pc.NewAssetID(schema.KindEnvironment)
	pc.NewAssetID(schema.KindEnvironment)
	pc.NewAssetID(schema.KindEnvironment)

	ex := &fakeExtractor{candidates: []*schema.Asset{
		env("Old Kitchen"),
		env("old kitchen"),
		env("Garden"),
		env("OLD KITCHEN"),
		nil,
	}}
	loc := &fakeLocalizer{}
	if err := NewResolver(ex, loc, nil).Resolve(context.Background(), pc); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if want := []string{"", "Old Kitchen", "Old Kitchen", "Garden", "Old Kitchen"}; !slices.Equal(ex.previous, want) {
		t.Fatalf("previous hints = %q want %q", ex.previous, want)
	}
	if len(pc.Environments) != 3 {
		t.Fatalf("expected 3 unique environments, got %+v", pc.Environments)
	}
	s := pc.Scenes
	if s[0].EnvironmentID == "" || s[0].EnvironmentID != s[1].EnvironmentID || s[1].EnvironmentID != s[3].EnvironmentID {
		t.Fatalf("kitchen scenes not sharing one environment: %+v", s)
	}
	if s[2].EnvironmentID == s[0].EnvironmentID || s[2].EnvironmentID == "" {
		t.Fatalf("garden not distinct: %+v", s)
	}
	if s[4].EnvironmentID != "environment_3" {
		t.Fatalf("fallback to builder environment lost: %+v", s[4])
	}
	if loc.calls != 1 {
		t.Fatalf("expected one localization batch, got %d", loc.calls)
	}
	first := pc.SceneEnvironment(0)
	if first == nil || first.Name != "IT Old Kitchen" || first.NameEnglish != "Old Kitchen" {
		t.Fatalf("scene not linked to localized environment: %+v", first)
	}
	if first != pc.SceneEnvironment(1) {
		t.Fatal("consecutive scenes must resolve to the same environment entry")
	}
	for i, a := range pc.Environments {
		for j, b := range pc.Environments {
			if i != j && sameAsset(a, b) {
				t.Fatalf("duplicate environments %+v and %+v", a, b)
			}
		}
	}
}

func TestResolveSoftFailuresFallBack(t *testing.T) {
	pc := &schema.ProcessingContext{
		Environments: []schema.Asset{kitchen},
		Scenes: []schema.Scene{
			{CaptionEnglish: "one", EnvironmentID: "environment_3"},
			{CaptionEnglish: "two"},
		},
	}
	ex := &fakeExtractor{errs: []error{
		&inference.CallError{Step: "SceneEnvironment", Reason: inference.ReasonNoChoices},
		&inference.CallError{Step: "SceneEnvironment", Reason: inference.ReasonTransport},
	}}
	if err := NewResolver(ex, &fakeLocalizer{}, nil).Resolve(context.Background(), pc); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pc.Scenes[0].EnvironmentID != "environment_3" || pc.Scenes[1].EnvironmentID != "" {
		t.Fatalf("unexpected links: %+v", pc.Scenes)
	}
	if len(pc.Environments) != 1 {
		t.Fatalf("expected builder environment kept, got %+v", pc.Environments)
	}
}

func TestResolveStopsOnCancellation(t *testing.T) {
	pc := &schema.ProcessingContext{Scenes: []schema.Scene{{CaptionEnglish: "one"}, {CaptionEnglish: "two"}}}
	ex := &fakeExtractor{errs: []error{context.Canceled}}
	err := NewResolver(ex, &fakeLocalizer{}, nil).Resolve(context.Background(), pc)
	if !errors.Is(err, context.Canceled) || len(ex.previous) != 1 {
		t.Fatalf("expected cancellation after first scene, got %v (%d calls)", err, len(ex.previous))
	}
}

func TestResolveWithoutScenesLocalizesStoryEnvironments(t *testing.T) {
	pc := &schema.ProcessingContext{StoryLanguage: "Italian", Environments: []schema.Asset{kitchen}}
	loc := &fakeLocalizer{}
	if err := NewResolver(&fakeExtractor{}, loc, nil).Resolve(context.Background(), pc); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.calls != 1 || pc.Environments[0].Name != "IT Kitchen" {
		t.Fatalf("unexpected environments: %+v", pc.Environments)
	}
}

func TestResolveKeepsExtractedEnvironments(t *testing.T) {
	garden := schema.Asset{ID: "environment_2", Name: "Garden", Description: "Roses"}
	pc := &schema.ProcessingContext{
		Environments: []schema.Asset{
			{ID: "environment_1", Name: "Kitchen", Description: "Tiled floor"},
			garden,
		},
		Scenes: []schema.Scene{{CaptionEnglish: "one"}, {CaptionEnglish: "two"}},
	}
	pc.NewAssetID(schema.KindEnvironment)
	pc.NewAssetID(schema.KindEnvironment)

	ex := &fakeExtractor{candidates: []*schema.Asset{env("Kitchen"), env("kitchen")}}
	if err := NewResolver(ex, &fakeLocalizer{}, nil).Resolve(context.Background(), pc); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if pc.Scenes[0].EnvironmentID != "environment_1" || pc.Scenes[1].EnvironmentID != "environment_1" {
		t.Fatalf("scenes not linked to the extracted kitchen: %+v", pc.Scenes)
	}
	if len(pc.Environments) != 2 {
		t.Fatalf("environments = %+v", pc.Environments)
	}
	kitchen := pc.Environments[0]
	if kitchen.ID != "environment_1" || kitchen.Description != "Tiled floor" || kitchen.DescriptionEnglish != "Kitchen desc" {
		t.Fatalf("kitchen = %+v", kitchen)
	}
	if pc.Environments[1] != garden {
		t.Fatalf("unreferenced garden lost: %+v", pc.Environments[1])
	}
}
