package schema

import (
	"fmt"
	"strings"
)

// Scene is one illustrated beat of the story. EnvironmentID and CharacterIDs
// link into the owning context's asset tables; EnvironmentName keeps the raw
// hint the scene builder produced.
type Scene struct {
	CaptionOriginal string   `json:"caption_original"`
	CaptionEnglish  string   `json:"caption_english"`
	EnvironmentID   string   `json:"environment_id,omitempty"`
	EnvironmentName string   `json:"environment_name,omitempty"`
	CharacterIDs    []string `json:"character_ids,omitempty"`
	Image           string   `json:"image,omitempty"`

	// Display names written with persisted records so scenes can be
	// re-linked after the asset tables change.
	Environment string   `json:"environment,omitempty"`
	Characters  []string `json:"characters,omitempty"`
}

// DisplayCaptionEnglish falls back to the original caption.
func (s Scene) DisplayCaptionEnglish() string {
	if c := strings.TrimSpace(s.CaptionEnglish); c != "" {
		return c
	}
	return strings.TrimSpace(s.CaptionOriginal)
}

// DisplayCaptionOriginal falls back to the English caption.
func (s Scene) DisplayCaptionOriginal() string {
	if c := strings.TrimSpace(s.CaptionOriginal); c != "" {
		return c
	}
	return strings.TrimSpace(s.CaptionEnglish)
}

// ProcessingContext is the mutable record threaded through every pipeline
// step of a single run.
type ProcessingContext struct {
	ID       string
	Prompt   string
	Segments []string
	// Language forces the story language when non-empty.
	Language string

	StoryOriginal  string
	StoryEnglish   string
	StoryLanguage  string
	TitleEnglish   string
	TitleLocalized string

	Characters   []Asset
	Environments []Asset
	Scenes       []Scene
	ContextTags  []string

	seq int
}

// NewProcessingContext seeds a context from a run payload.
func NewProcessingContext(p *Payload) *ProcessingContext {
	return &ProcessingContext{
		ID:       p.StoryID,
		Prompt:   p.Prompt,
		Segments: append([]string(nil), p.Transcriptions...),
		Language: p.Language,
	}
}

// NewAssetID hands out a context-unique asset id such as "environment_3".
func (pc *ProcessingContext) NewAssetID(kind string) string {
	pc.seq++
	return fmt.Sprintf("%s_%d", kind, pc.seq)
}

// HasStory reports whether stitching produced any story text.
func (pc *ProcessingContext) HasStory() bool {
	return strings.TrimSpace(pc.StoryOriginal) != "" || strings.TrimSpace(pc.StoryEnglish) != ""
}

// Environment returns the environment with the given id.
func (pc *ProcessingContext) Environment(id string) *Asset {
	if i := AssetIndex(pc.Environments, id); i >= 0 {
		return &pc.Environments[i]
	}
	return nil
}

// Character returns the character with the given id.
func (pc *ProcessingContext) Character(id string) *Asset {
	if i := AssetIndex(pc.Characters, id); i >= 0 {
		return &pc.Characters[i]
	}
	return nil
}

// SceneEnvironment resolves the environment linked from scene i.
func (pc *ProcessingContext) SceneEnvironment(i int) *Asset {
	if i < 0 || i >= len(pc.Scenes) {
		return nil
	}
	return pc.Environment(pc.Scenes[i].EnvironmentID)
}

// SceneCharacters resolves the characters linked from scene i, skipping
// dangling ids.
func (pc *ProcessingContext) SceneCharacters(i int) []*Asset {
	if i < 0 || i >= len(pc.Scenes) {
		return nil
	}
	var out []*Asset
	for _, id := range pc.Scenes[i].CharacterIDs {
		if c := pc.Character(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}
