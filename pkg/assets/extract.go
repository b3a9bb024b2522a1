// Package assets extracts characters and environments from a story and
// localizes them into the story language.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"storyloom/pkg/inference"
	"storyloom/pkg/language"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

// ErrValidation marks extraction results that dropped invalid items.
var ErrValidation = errors.New("asset validation")

// ValidationError collects every problem found while decoding one response.
// It accompanies the valid assets; it never replaces them.
type ValidationError struct {
	Kind   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation issues -> %s", e.Kind, strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SceneHint is what the environment-for-scene call knows about a scene.
type SceneHint struct {
	CaptionOriginal string
	CaptionEnglish  string
	EnvironmentName string
	Characters      []schema.Asset
}

type Extractor struct {
	inf        inference.Inferencer
	structured bool
	logger     *log.Logger
}

func NewExtractor(inf inference.Inferencer, structured bool, logger *log.Logger) *Extractor {
	return &Extractor{inf: inf, structured: structured, logger: logging.Or(logger).WithPrefix("assets")}
}

// ExtractCharacters lists the story's characters in English. A
// *ValidationError may be returned together with the valid assets.
func (e *Extractor) ExtractCharacters(ctx context.Context, story, lang string) ([]schema.Asset, error) {
	hint := englishHint
	if language.ShouldLocalize(lang) {
		hint = fmt.Sprintf(characterLanguageHint, strings.TrimSpace(lang))
	}
	return e.extract(ctx, "CharacterExtraction", "characters", fmt.Sprintf(charactersPrompt, hint, story))
}

// ExtractEnvironments lists the story's places in English.
func (e *Extractor) ExtractEnvironments(ctx context.Context, story, lang string) ([]schema.Asset, error) {
	hint := englishHint
	if language.ShouldLocalize(lang) {
		hint = fmt.Sprintf(environmentLanguageHint, strings.TrimSpace(lang))
	}
	return e.extract(ctx, "EnvironmentExtraction", "environments", fmt.Sprintf(environmentsPrompt, hint, story))
}

// ExtractEnvironmentForScene proposes the environment of one scene. previous
// is the display name of the preceding scene's environment, if any. A nil
// asset means no valid candidate was produced.
func (e *Extractor) ExtractEnvironmentForScene(ctx context.Context, scene SceneHint, lang, previous string) (*schema.Asset, error) {
	langHint := englishHint
	if language.ShouldLocalize(lang) {
		langHint = fmt.Sprintf(environmentLanguageHint, strings.TrimSpace(lang))
	}
	prevHint := noPreviousHint
	if p := strings.TrimSpace(previous); p != "" {
		prevHint = fmt.Sprintf(previousHint, p)
	}
	envHint := noSuggestion
	if s := strings.TrimSpace(scene.EnvironmentName); s != "" {
		envHint = fmt.Sprintf(suggestionHint, s)
	}

	prompt := fmt.Sprintf(sceneEnvironmentPrompt,
		langHint, prevHint, envHint,
		orNotProvided(scene.CaptionOriginal), orNotProvided(scene.CaptionEnglish),
		characterList(scene.Characters),
	)
	found, err := e.extract(ctx, "SceneEnvironment", "environment", prompt)
	if len(found) == 0 {
		return nil, err
	}
	return &found[0], err
}

func (e *Extractor) extract(ctx context.Context, step, kind, prompt string) ([]schema.Asset, error) {
	req := inference.Request{Step: step, Prompt: prompt}
	if e.structured {
		req.Format = schema.AssetsFormat
	}
	items, err := inference.Array[json.RawMessage](ctx, e.inf, req)
	if err != nil {
		return nil, err
	}
	assets, verr := ParseAssets(kind, items)
	if verr != nil {
		e.logger.Warn(verr.Error())
		return assets, verr
	}
	return assets, nil
}

// ParseAssets validates raw response items. Non-objects, items missing the
// name or description key and items with blank values are dropped; each
// problem is listed in the returned *ValidationError. English provenance is
// set to the extracted values.
func ParseAssets(kind string, items []json.RawMessage) ([]schema.Asset, *ValidationError) {
	var (
		out    []schema.Asset
		issues []string
	)
	for i, raw := range items {
		item := gjson.ParseBytes(raw)
		if !item.IsObject() {
			issues = append(issues, fmt.Sprintf("%s[%d]: expected object but was %s", kind, i, typeName(item)))
			continue
		}
		var missing []string
		for _, key := range []string{"name", "description"} {
			if !item.Get(key).Exists() {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, fmt.Sprintf("%s[%d]: missing keys %s", kind, i, strings.Join(missing, ", ")))
			continue
		}
		name := strings.TrimSpace(item.Get("name").String())
		description := strings.TrimSpace(item.Get("description").String())
		switch {
		case name == "":
			issues = append(issues, fmt.Sprintf("%s[%d]: empty \"name\" value", kind, i))
			continue
		case description == "":
			issues = append(issues, fmt.Sprintf("%s[%d]: empty \"description\" value", kind, i))
			continue
		}
		out = append(out, schema.Asset{
			Name:               name,
			Description:        description,
			NameEnglish:        name,
			DescriptionEnglish: description,
		})
	}
	if len(issues) > 0 {
		return out, &ValidationError{Kind: kind, Issues: issues}
	}
	return out, nil
}

func typeName(r gjson.Result) string {
	switch {
	case r.IsArray():
		return "array"
	case r.Type == gjson.String:
		return "string"
	case r.Type == gjson.Number:
		return "number"
	case r.Type == gjson.True, r.Type == gjson.False:
		return "boolean"
	}
	return "null"
}

func orNotProvided(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notProvided
	}
	return s
}

func characterList(chars []schema.Asset) string {
	if len(chars) == 0 {
		return "- None"
	}
	lines := make([]string, 0, len(chars))
	for _, c := range chars {
		lines = append(lines, "- "+c.DisplayName()+": "+c.DisplayDescription())
	}
	return strings.Join(lines, "\n")
}
