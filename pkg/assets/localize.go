package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"storyloom/pkg/inference"
	"storyloom/pkg/language"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

// Localizer translates English-canonical assets and titles into the story
// language, one request per batch.
type Localizer struct {
	inf        inference.Inferencer
	structured bool
	logger     *log.Logger
}

func NewLocalizer(inf inference.Inferencer, structured bool, logger *log.Logger) *Localizer {
	return &Localizer{inf: inf, structured: structured, logger: logging.Or(logger).WithPrefix("localize")}
}

type localizeItem struct {
	ID                 string `json:"id"`
	NameEnglish        string `json:"name_english"`
	DescriptionEnglish string `json:"description_english"`
}

// LocalizeCharacters localizes character names and descriptions.
func (l *Localizer) LocalizeCharacters(ctx context.Context, chars []schema.Asset, lang string) ([]schema.Asset, error) {
	return l.localize(ctx, schema.KindCharacter, "characters", chars, lang)
}

// LocalizeEnvironments localizes environment names and descriptions.
func (l *Localizer) LocalizeEnvironments(ctx context.Context, envs []schema.Asset, lang string) ([]schema.Asset, error) {
	return l.localize(ctx, schema.KindEnvironment, "environments", envs, lang)
}

// localize returns a new slice in input order with ids preserved. Items the
// response does not mention keep their English text and gain provenance.
// On a skipped or failed call the input is returned as is.
func (l *Localizer) localize(ctx context.Context, kind, plural string, in []schema.Asset, lang string) ([]schema.Asset, error) {
	if !language.ShouldLocalize(lang) || len(in) == 0 {
		return in, nil
	}

	keys := make([]string, len(in))
	items := make([]localizeItem, 0, len(in))
	for i, a := range in {
		keys[i] = a.ID
		if keys[i] == "" {
			keys[i] = fmt.Sprintf("%s_%d", kind, i)
		}
		name, desc := a.DisplayName(), a.DisplayDescription()
		if strings.TrimSpace(name) == "" && strings.TrimSpace(desc) == "" {
			continue
		}
		items = append(items, localizeItem{ID: keys[i], NameEnglish: name, DescriptionEnglish: desc})
	}
	if len(items) == 0 {
		return in, nil
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return in, err
	}
	target := strings.TrimSpace(lang)
	req := inference.Request{
		Step:   "AssetLocalizer",
		Prompt: fmt.Sprintf(localizerPrompt, plural, target, target, data),
	}
	if l.structured {
		req.Format = schema.LocalizedAssetsFormat
	}

	resp, err := inference.Array[schema.LocalizedAsset](ctx, l.inf, req)
	if err != nil {
		return in, err
	}
	byID := make(map[string]schema.LocalizedAsset, len(resp))
	for _, r := range resp {
		if strings.TrimSpace(r.ID) != "" && strings.TrimSpace(r.Name) != "" {
			byID[strings.TrimSpace(r.ID)] = r
		}
	}
	if len(byID) == 0 {
		l.logger.Warn("localization returned no usable items", "kind", plural, "language", target)
		return in, nil
	}

	out := make([]schema.Asset, len(in))
	for i, a := range in {
		englishName, englishDesc := a.DisplayName(), a.DisplayDescription()
		a.NameEnglish, a.DescriptionEnglish = englishName, englishDesc
		if r, ok := byID[keys[i]]; ok {
			a.Name = strings.TrimSpace(r.Name)
			if d := strings.TrimSpace(r.Description); d != "" {
				a.Description = d
			}
		}
		out[i] = a
	}
	l.logger.Debug("localized", "kind", plural, "language", target, "matched", len(byID), "total", len(in))
	return out, nil
}

// LocalizeTitle translates an English title. The English title is returned
// when localization does not apply or yields nothing.
func (l *Localizer) LocalizeTitle(ctx context.Context, title, lang string) (string, error) {
	if strings.TrimSpace(title) == "" || !language.ShouldLocalize(lang) {
		return title, nil
	}
	target := strings.TrimSpace(lang)
	req := inference.Request{
		Step:   "TitleLocalizer",
		Prompt: fmt.Sprintf(titlePrompt, target, title),
	}
	if l.structured {
		req.Format = schema.LocalizedTitleFormat
	}
	resp, err := inference.Object[schema.LocalizedTitle](ctx, l.inf, req)
	if err != nil {
		return title, err
	}
	if t := strings.TrimSpace(resp.Title); t != "" {
		return t, nil
	}
	return title, nil
}
