package schema

import (
	"cmp"
	"strings"
)

// Asset kinds, also used as id prefixes.
const (
	KindCharacter   = "character"
	KindEnvironment = "environment"
)

// Asset is a character or environment extracted from a story. Name and
// Description hold the localized text once localization ran; the English
// fields keep the provenance.
type Asset struct {
	ID                 string `json:"id,omitempty"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	NameEnglish        string `json:"name_english,omitempty"`
	DescriptionEnglish string `json:"description_english,omitempty"`
	Image              string `json:"image,omitempty"`
}

// DisplayName prefers the English name when present.
func (a Asset) DisplayName() string {
	return cmp.Or(strings.TrimSpace(a.NameEnglish), a.Name)
}

// DisplayDescription prefers the English description when present.
func (a Asset) DisplayDescription() string {
	return cmp.Or(strings.TrimSpace(a.DescriptionEnglish), a.Description)
}

// Matches reports whether candidate names this asset, case-insensitively,
// through its name, English name or display name.
func (a Asset) Matches(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	for _, name := range []string{a.Name, a.NameEnglish, a.DisplayName()} {
		name = strings.TrimSpace(name)
		if name != "" && strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

// FindAsset returns the index of the first asset matching candidate, or -1.
func FindAsset(assets []Asset, candidate string) int {
	for i := range assets {
		if assets[i].Matches(candidate) {
			return i
		}
	}
	return -1
}

// AssetIndex returns the index of the asset with the given id, or -1.
func AssetIndex(assets []Asset, id string) int {
	if id == "" {
		return -1
	}
	for i := range assets {
		if assets[i].ID == id {
			return i
		}
	}
	return -1
}
