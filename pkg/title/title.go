// Package title picks the display title of a story.
package title

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxRunes = 48
	MaxWords = 8

	DateLayout = "Jan 2, 2006 3:04 PM"
)

// Sanitize cleans a model-proposed title: whitespace is collapsed,
// surrounding quotes and trailing punctuation are stripped. Titles that end
// up empty, longer than MaxRunes or longer than MaxWords are rejected.
func Sanitize(raw string) (string, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	s = strings.Trim(s, "\"'“”")
	s = strings.TrimRight(s, ".!?:;,")
	if s == "" {
		return "", false
	}
	if utf8.RuneCountInString(s) > MaxRunes || len(strings.Fields(s)) > MaxWords {
		return "", false
	}
	return s, true
}

// DateLabel formats the run timestamp shown next to titles.
func DateLabel(ts time.Time) string {
	return ts.Format(DateLayout)
}

// Default is the title of a story nothing else names.
func Default(ts time.Time) string {
	return "Story — " + DateLabel(ts)
}

// Resolve picks, in order: a valid extracted title (shown in its localized
// form when there is one) annotated with the date, the localized title
// alone, the user's title, and finally the default.
func Resolve(userTitle, extractedEnglish, extractedLocalized string, ts time.Time) string {
	localized := strings.TrimSpace(extractedLocalized)
	if extracted, ok := Sanitize(extractedEnglish); ok {
		display := extracted
		if localized != "" {
			display = localized
		}
		return display + " — " + DateLabel(ts)
	}
	if localized != "" {
		return localized
	}
	if user := strings.TrimSpace(userTitle); user != "" {
		return user
	}
	return Default(ts)
}
