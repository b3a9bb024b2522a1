package schema

import (
	"strings"
	"time"
)

// Payload is a request to process one story.
type Payload struct {
	StoryID        string    `json:"story_id"`
	Prompt         string    `json:"prompt,omitempty"`
	Transcriptions []string  `json:"transcriptions"`
	UserTitle      string    `json:"user_title,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	SegmentPaths   []string  `json:"segment_paths,omitempty"`
	Language       string    `json:"language,omitempty"`
}

// Story is the persisted record of a processed (or failed) run.
type Story struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content"`
	Language      string    `json:"language,omitempty"`
	StoryOriginal string    `json:"story_original,omitempty"`
	StoryEnglish  string    `json:"story_english,omitempty"`
	TitleEnglish  string    `json:"title_english,omitempty"`
	Segments      []string  `json:"segments"`
	Processed     bool      `json:"processed"`
	Characters    []Asset   `json:"characters,omitempty"`
	Environments  []Asset   `json:"environments,omitempty"`
	Scenes        []Scene   `json:"scenes,omitempty"`
	ContextTags   []string  `json:"context_tags,omitempty"`
}

// StoryFromContext snapshots the pipeline results into a record. Scene
// display names are filled from the linked assets.
func StoryFromContext(pc *ProcessingContext) Story {
	s := Story{
		ID:            pc.ID,
		Content:       pc.StoryOriginal,
		Language:      pc.StoryLanguage,
		StoryOriginal: pc.StoryOriginal,
		StoryEnglish:  pc.StoryEnglish,
		TitleEnglish:  pc.TitleEnglish,
		Characters:    append([]Asset(nil), pc.Characters...),
		Environments:  append([]Asset(nil), pc.Environments...),
		ContextTags:   append([]string(nil), pc.ContextTags...),
	}
	for i, scene := range pc.Scenes {
		scene.CharacterIDs = append([]string(nil), scene.CharacterIDs...)
		scene.Environment = ""
		scene.Characters = nil
		if env := pc.SceneEnvironment(i); env != nil {
			scene.Environment = env.DisplayName()
		}
		for _, c := range pc.SceneCharacters(i) {
			scene.Characters = append(scene.Characters, c.DisplayName())
		}
		s.Scenes = append(s.Scenes, scene)
	}
	return s
}

// Relink repairs scene references whose ids no longer resolve by matching
// the stored display names against the asset tables.
func (s *Story) Relink() {
	for i := range s.Scenes {
		scene := &s.Scenes[i]
		if AssetIndex(s.Environments, scene.EnvironmentID) < 0 {
			scene.EnvironmentID = ""
			if j := FindAsset(s.Environments, scene.Environment); j >= 0 {
				scene.EnvironmentID = s.Environments[j].ID
			}
		}
		if allResolve(s.Characters, scene.CharacterIDs) {
			continue
		}
		ids := make([]string, 0, len(scene.Characters))
		for _, name := range scene.Characters {
			if j := FindAsset(s.Characters, name); j >= 0 {
				ids = append(ids, s.Characters[j].ID)
			}
		}
		scene.CharacterIDs = ids
	}
}

func allResolve(assets []Asset, ids []string) bool {
	for _, id := range ids {
		if AssetIndex(assets, id) < 0 {
			return false
		}
	}
	return true
}

// HasText reports whether the record carries any story text.
func (s Story) HasText() bool {
	return strings.TrimSpace(s.StoryOriginal) != "" || strings.TrimSpace(s.StoryEnglish) != "" || strings.TrimSpace(s.Content) != ""
}
