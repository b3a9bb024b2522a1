// Package language normalizes the free-form language labels produced by
// story stitching ("Italian", "it", "pt-BR") and decides when localization
// applies.
package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// known lists the languages whose English names are recognized as labels.
var known = []language.Tag{
	language.English, language.Spanish, language.French, language.German,
	language.Italian, language.Portuguese, language.Japanese, language.Korean,
	language.Chinese, language.Russian, language.Arabic, language.Hindi,
	language.Dutch, language.Polish, language.Swedish, language.Danish,
	language.Norwegian, language.Finnish, language.Greek, language.Turkish,
	language.Czech, language.Hungarian, language.Romanian, language.Ukrainian,
	language.Hebrew, language.Indonesian, language.Vietnamese, language.Thai,
	language.Catalan, language.Croatian, language.Bulgarian,
}

var byName = func() map[string]language.Tag {
	m := make(map[string]language.Tag, len(known))
	namer := display.English.Languages()
	for _, tag := range known {
		m[strings.ToLower(namer.Name(tag))] = tag
	}
	return m
}()

// ShouldLocalize reports whether assets and titles need translating into
// the given story language. Blank labels and English labels ("english",
// anything starting with "en") never localize.
func ShouldLocalize(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" || l == "english" {
		return false
	}
	return !strings.HasPrefix(l, "en")
}

// Tag resolves a label given either as an English language name or as a
// BCP 47 / ISO 639 code.
func Tag(label string) (language.Tag, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return language.Und, false
	}
	if tag, ok := byName[l]; ok {
		return tag, true
	}
	tag, err := language.Parse(l)
	if err != nil || tag == language.Und {
		return language.Und, false
	}
	return tag, true
}

// Name returns the English display name for a label, or the trimmed label
// itself when it cannot be resolved.
func Name(label string) string {
	tag, ok := Tag(label)
	if !ok {
		return strings.TrimSpace(label)
	}
	base, _ := tag.Base()
	if name := display.English.Languages().Name(language.Make(base.String())); name != "" {
		return name
	}
	return strings.TrimSpace(label)
}

// ISO2 returns the two letter ISO 639-1 code for a label, or "".
func ISO2(label string) string {
	tag, ok := Tag(label)
	if !ok {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}
