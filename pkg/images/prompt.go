package images

import (
	"strings"

	"storyloom/pkg/config"
	"storyloom/pkg/schema"
)

// Kind selects the prompt template.
type Kind string

const (
	KindCharacter   Kind = "character"
	KindEnvironment Kind = "environment"
	KindScene       Kind = "scene"
)

var templates = map[Kind]string{
	KindCharacter:   "A {STYLE} full-body character illustration on a plain background. {DESCRIPTION}{CONTEXT} No text, no captions, no watermarks.",
	KindEnvironment: "A {STYLE} wide establishing illustration of a location, with no people in it. {DESCRIPTION}{CONTEXT} No text, no captions, no watermarks.",
	KindScene:       "A {STYLE} illustration of a story scene. {DESCRIPTION}{CONTEXT} Keep characters and places consistent with their descriptions. No text, no captions, no watermarks.",
}

var styles = map[string]string{
	config.StylePhotorealistic: "photorealistic",
	config.StyleCartoon:        "cartoon",
	config.StyleManga:          "manga",
}

// Prompt fills the template for kind. Context tags are appended as one
// sentence.
func Prompt(kind Kind, style, description string, tags []string) string {
	tmpl, ok := templates[kind]
	if !ok {
		tmpl = templates[KindScene]
	}
	styleText, ok := styles[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		styleText = styles[config.StylePhotorealistic]
	}
	context := ""
	if len(tags) > 0 {
		context = " Context: " + strings.Join(tags, ", ") + "."
	}
	return strings.NewReplacer(
		"{STYLE}", styleText,
		"{DESCRIPTION}", strings.TrimSpace(description),
		"{CONTEXT}", context,
	).Replace(tmpl)
}

// SceneDescription is the caption followed by the environment and character
// descriptions.
func SceneDescription(scene schema.Scene, env *schema.Asset, chars []*schema.Asset) string {
	var b strings.Builder
	b.WriteString(scene.DisplayCaptionEnglish())
	if env != nil {
		b.WriteString(" Environment: ")
		b.WriteString(env.DisplayDescription())
		b.WriteString(".")
	}
	if len(chars) > 0 {
		descs := make([]string, 0, len(chars))
		for _, c := range chars {
			descs = append(descs, c.DisplayDescription())
		}
		b.WriteString(" Characters: ")
		b.WriteString(strings.Join(descs, ", "))
	}
	return b.String()
}
