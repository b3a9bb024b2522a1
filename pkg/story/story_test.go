package story

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"storyloom/pkg/inference"
)

type fakeInferencer struct {
	message string
	err     error
	reqs    []inference.Request
}

func (f *fakeInferencer) Complete(_ context.Context, req inference.Request) (inference.Message, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return inference.Message{}, f.err
	}
	return inference.Message{Raw: f.message}, nil
}

func TestParseStitchResponseJSON(t *testing.T) {
	text := `{
		"language": "Italian",
		"story_original": "Entrai nella vecchia cucina.",
		"story_english": "I walked into the old kitchen.",
		"title_short": "The Old Kitchen",
		"mood": "Warm",
		"metadata": {
			"mood": "warm",
			"palette": ["amber", "flour white"],
			"lighting": {"key": "morning sun", "fill": null},
			"time_of_day": "Morning",
			"ignored": "x"
		}
	}`
	r := ParseStitchResponse(text)
	if r.Language != "Italian" || r.TitleShort != "The Old Kitchen" {
		t.Fatalf("unexpected fields: %+v", r)
	}
	if r.StoryOriginal != "Entrai nella vecchia cucina." || r.StoryEnglish != "I walked into the old kitchen." {
		t.Fatalf("unexpected stories: %+v", r)
	}
	want := []string{"Mood: Warm", "Palette: amber", "Palette: flour white", "Time Of Day: Morning", "Lighting Key: morning sun"}
	if !slices.Equal(r.Tags, want) {
		t.Fatalf("tags = %q want %q", r.Tags, want)
	}
}

func TestParseStitchResponseSeedsMissingStory(t *testing.T) {
	r := ParseStitchResponse(`{"language":"English","story_english":"Grandma baked bread."}`)
	if r.StoryOriginal != "Grandma baked bread." || r.StoryEnglish != r.StoryOriginal {
		t.Fatalf("expected seeded story, got %+v", r)
	}
	r = ParseStitchResponse(`{"story_original":"Nonna","story_english":"  "}`)
	if r.StoryEnglish != "Nonna" {
		t.Fatalf("expected english seeded from original, got %+v", r)
	}
}

func TestParseStitchResponsePlainText(t *testing.T) {
	text := "Once upon a time {maybe} a kitchen smelled of bread."
	r := ParseStitchResponse(text)
	if r.StoryOriginal != text || r.StoryEnglish != text || r.Language != "" {
		t.Fatalf("expected plain text in both stories, got %+v", r)
	}
}

func TestStitchForcedLanguageAndPrompt(t *testing.T) {
	inf := &fakeInferencer{message: `{"content":"{\"language\":\"Spanish\",\"story_original\":\"a\",\"story_english\":\"b\"}"}`}
	s := NewStitcher(inf, true, nil)
	r, err := s.Stitch(context.Background(), "Tell it warmly", []string{"I walked into the old kitchen.", "Grandma was baking bread."}, "English")
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if r.Language != "English" {
		t.Fatalf("forced language not applied: %+v", r)
	}
	req := inf.reqs[0]
	if req.Format == nil || req.Format.Name != "story" {
		t.Fatal("expected story format")
	}
	if !strings.Contains(req.Prompt, "Tell it warmly\n- I walked into the old kitchen.\n- Grandma was baking bread.") {
		t.Fatalf("segments not listed in prompt:\n%s", req.Prompt)
	}
}

func TestStitchUnstructuredOmitsFormat(t *testing.T) {
	inf := &fakeInferencer{message: `{"content":"A plain story."}`}
	r, err := NewStitcher(inf, false, nil).Stitch(context.Background(), "", []string{"x"}, "")
	if err != nil || r.StoryEnglish != "A plain story." {
		t.Fatalf("got %+v, %v", r, err)
	}
	if inf.reqs[0].Format != nil {
		t.Fatal("format attached with structured outputs off")
	}
}

func TestStitchFailureIsNoResult(t *testing.T) {
	inf := &fakeInferencer{message: `{"content":""}`}
	r, err := NewStitcher(inf, true, nil).Stitch(context.Background(), "", []string{"x"}, "")
	if !inference.NoResult(err) || !r.Empty() {
		t.Fatalf("expected no result, got %+v %v", r, err)
	}

	inf = &fakeInferencer{err: context.Canceled}
	if _, err := NewStitcher(inf, true, nil).Stitch(context.Background(), "", nil, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
