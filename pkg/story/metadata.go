package story

import (
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyloom/pkg/inference"
)

// metadataKeys are read at the top level of a stitch response and under its
// "metadata" object, in this order.
var metadataKeys = []string{
	"mood", "tone", "palette", "color_palette", "genre", "setting",
	"era", "time_of_day", "lighting", "atmosphere", "themes", "style",
}

// Result is a decoded stitch response.
type Result struct {
	Language      string
	StoryOriginal string
	StoryEnglish  string
	TitleShort    string
	Tags          []string
}

// Empty reports whether no story text was produced.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.StoryOriginal) == "" && strings.TrimSpace(r.StoryEnglish) == ""
}

// ParseStitchResponse decodes the stitcher's reply. A JSON object yields its
// fields and flattened metadata tags; anything else is taken as the story
// itself in both languages. Each story is seeded from the other.
func ParseStitchResponse(text string) Result {
	var r Result
	root, ok := stitchObject(text)
	if !ok {
		r.StoryOriginal = strings.TrimSpace(text)
		r.StoryEnglish = r.StoryOriginal
		return r
	}

	r.Language = strings.TrimSpace(root.Get("language").String())
	r.StoryOriginal = strings.TrimSpace(root.Get("story_original").String())
	r.StoryEnglish = strings.TrimSpace(root.Get("story_english").String())
	r.TitleShort = strings.TrimSpace(root.Get("title_short").String())
	if r.TitleShort == "" {
		r.TitleShort = strings.TrimSpace(root.Get("title").String())
	}

	if r.StoryOriginal == "" {
		r.StoryOriginal = r.StoryEnglish
	}
	if r.StoryEnglish == "" {
		r.StoryEnglish = r.StoryOriginal
	}
	r.Tags = Tags(root)
	return r
}

func stitchObject(text string) (gjson.Result, bool) {
	raw, ok := inference.ExtractJSON(text)
	if !ok {
		return gjson.Result{}, false
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	for _, key := range []string{"story_original", "story_english", "language", "title_short"} {
		if root.Get(key).Exists() {
			return root, true
		}
	}
	return gjson.Result{}, false
}

// Tags walks the known metadata keys of root and its "metadata" object and
// flattens their values into "Label: value" strings, deduplicated
// case-insensitively in first-seen order.
func Tags(root gjson.Result) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}

	for _, scope := range []gjson.Result{root, root.Get("metadata")} {
		if !scope.IsObject() {
			continue
		}
		for _, key := range metadataKeys {
			flatten(label(key), scope.Get(key), add)
		}
	}
	return tags
}

func flatten(lbl string, v gjson.Result, add func(string)) {
	switch {
	case !v.Exists():
	case v.IsArray():
		for _, item := range v.Array() {
			flatten(lbl, item, add)
		}
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			flatten(lbl+" "+label(k.String()), child, add)
			return true
		})
	case v.Type == gjson.Null:
	default:
		if s := strings.Join(strings.Fields(v.String()), " "); s != "" {
			add(lbl + ": " + s)
		}
	}
}

func label(key string) string {
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	return cases.Title(language.English).String(strings.Join(strings.Fields(key), " "))
}
