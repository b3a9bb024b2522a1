// Package scenes splits a story into illustrated scenes and keeps their
// environments consistent across the narrative.
package scenes

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"storyloom/pkg/inference"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

type Builder struct {
	inf        inference.Inferencer
	structured bool
	logger     *log.Logger
}

func NewBuilder(inf inference.Inferencer, structured bool, logger *log.Logger) *Builder {
	return &Builder{inf: inf, structured: structured, logger: logging.Or(logger).WithPrefix("scenes")}
}

// Build asks for the ordered scene list and links each scene to the given
// assets by name. Names that match nothing are dropped; the raw environment
// name is kept on the scene either way.
func (b *Builder) Build(ctx context.Context, original, english string, chars, envs []schema.Asset) ([]schema.Scene, error) {
	original = strings.TrimSpace(original)
	providedEnglish := strings.TrimSpace(english)
	english = providedEnglish
	if english == "" {
		english = original
	}
	if original == "" && english == "" {
		return nil, nil
	}

	req := inference.Request{
		Step:   "SceneBuilder",
		Prompt: buildPrompt(original, providedEnglish, english, chars, envs),
	}
	if b.structured {
		req.Format = schema.ScenesFormat
	}
	items, err := inference.Array[json.RawMessage](ctx, b.inf, req)
	if err != nil {
		return nil, err
	}

	scenes := make([]schema.Scene, 0, len(items))
	for _, raw := range items {
		scene, ok := parseScene(gjson.ParseBytes(raw), chars, envs)
		if ok {
			scenes = append(scenes, scene)
		}
	}
	b.logger.Debug("scenes built", "returned", len(items), "kept", len(scenes))
	return scenes, nil
}

func parseScene(obj gjson.Result, chars, envs []schema.Asset) (schema.Scene, bool) {
	if !obj.IsObject() {
		return schema.Scene{}, false
	}
	captionOriginal := firstString(obj, "caption_original", "text")
	captionEnglish := firstString(obj, "caption_english")
	if captionEnglish == "" {
		captionEnglish = captionOriginal
	}
	if captionOriginal == "" {
		captionOriginal = captionEnglish
	}
	if captionOriginal == "" {
		return schema.Scene{}, false
	}

	scene := schema.Scene{
		CaptionOriginal: captionOriginal,
		CaptionEnglish:  captionEnglish,
		EnvironmentName: firstString(obj, "environment_name", "environment"),
	}
	if j := schema.FindAsset(envs, scene.EnvironmentName); j >= 0 {
		scene.EnvironmentID = envs[j].ID
	}

	names := obj.Get("character_names")
	if !names.Exists() {
		names = obj.Get("characters")
	}
	for _, n := range names.Array() {
		j := schema.FindAsset(chars, n.String())
		if j < 0 || slices.Contains(scene.CharacterIDs, chars[j].ID) {
			continue
		}
		scene.CharacterIDs = append(scene.CharacterIDs, chars[j].ID)
	}
	return scene, true
}

func firstString(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(obj.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

func buildPrompt(original, providedEnglish, english string, chars, envs []schema.Asset) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}

	line(scenesIntro)
	line(scenesFields)
	line(scenesExactNames)
	switch {
	case original == "" && english != "":
		line(scenesOnlyEnglish)
	case original != "" && providedEnglish == "":
		line(scenesOnlyOriginal)
	}
	if original != "" {
		line("")
		line("Original story:")
		line(original)
	}
	if english != "" {
		line("")
		line("English translation:")
		line(english)
	}
	line("")
	line("Characters (English reference):")
	line(ReferenceList(chars))
	line("")
	line("Environments (English reference):")
	line(ReferenceList(envs))
	return b.String()
}

// ReferenceList renders assets as "- EnglishName: EnglishDescription" bullets,
// noting the original name when it differs. An empty list renders "- None".
func ReferenceList(list []schema.Asset) string {
	if len(list) == 0 {
		return "- None"
	}
	lines := make([]string, 0, len(list))
	for _, a := range list {
		name := a.DisplayName()
		entry := "- " + name + ": " + a.DisplayDescription()
		if orig := strings.TrimSpace(a.Name); orig != "" && !strings.EqualFold(orig, name) {
			entry += " (Original name: " + orig + ")"
		}
		lines = append(lines, entry)
	}
	return strings.Join(lines, "\n")
}
