package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

// Format describes a named response schema attached to a structured call.
type Format struct {
	Name        string
	Description string
	Schema      any
	// Strict is only honored by providers for object roots.
	Strict bool
}

// ResponseFormat converts the format into the chat completion parameter.
func (f *Format) ResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        f.Name,
		Description: openai.String(f.Description),
		Schema:      f.Schema,
	}
	if f.Strict {
		p.Strict = openai.Bool(true)
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}

var (
	StoryFormat = &Format{
		Name:        "story",
		Description: "A coherent story stitched from spoken fragments, with its language, English translation, short title and visual metadata",
		Schema:      generateSchema[StoryResponse](),
		Strict:      true,
	}
	AssetsFormat = &Format{
		Name:        "assets",
		Description: "Characters or environments appearing in a story",
		Schema:      generateSchema[[]AssetItem](),
	}
	ScenesFormat = &Format{
		Name:        "scenes",
		Description: "Ordered illustrated scenes of a story",
		Schema:      generateSchema[[]SceneItem](),
	}
	LocalizedAssetsFormat = &Format{
		Name:        "localized_assets",
		Description: "Asset names and descriptions translated into the story language",
		Schema:      generateSchema[[]LocalizedAsset](),
	}
	LocalizedTitleFormat = &Format{
		Name:        "localized_title",
		Description: "A story title translated into the story language",
		Schema:      generateSchema[LocalizedTitle](),
		Strict:      true,
	}
)

type StoryResponse struct {
	Language      string        `json:"language" jsonschema_description:"Language the story fragments were told in, as an English language name (e.g. Italian)"`
	StoryOriginal string        `json:"story_original" jsonschema_description:"The stitched story in the original language"`
	StoryEnglish  string        `json:"story_english" jsonschema_description:"The stitched story translated into English"`
	TitleShort    string        `json:"title_short" jsonschema_description:"A short English title of at most eight words"`
	Metadata      StoryMetadata `json:"metadata" jsonschema_description:"Visual and narrative qualities used to keep illustrations consistent"`
}

type StoryMetadata struct {
	Mood      string   `json:"mood" jsonschema_description:"Overall mood"`
	Tone      string   `json:"tone" jsonschema_description:"Narrative tone"`
	Genre     string   `json:"genre" jsonschema_description:"Genre of the story"`
	Setting   string   `json:"setting" jsonschema_description:"Broad setting"`
	Era       string   `json:"era" jsonschema_description:"Historical era or period"`
	TimeOfDay string   `json:"time_of_day" jsonschema_description:"Dominant time of day"`
	Lighting  string   `json:"lighting" jsonschema_description:"Dominant lighting"`
	Palette   []string `json:"palette" jsonschema_description:"Dominant colors"`
	Themes    []string `json:"themes" jsonschema_description:"Main themes"`
}

type AssetItem struct {
	Name        string `json:"name" jsonschema_description:"Canonical name in the story language"`
	Description string `json:"description" jsonschema_description:"Concise visual description suitable for illustration"`
}

type SceneItem struct {
	CaptionOriginal string   `json:"caption_original" jsonschema_description:"Scene caption in the story language"`
	CaptionEnglish  string   `json:"caption_english" jsonschema_description:"Scene caption in English"`
	EnvironmentName string   `json:"environment_name" jsonschema_description:"English name of the environment exactly as listed, or empty"`
	CharacterNames  []string `json:"character_names" jsonschema_description:"English names of the characters present exactly as listed"`
}

type LocalizedAsset struct {
	ID          string `json:"id" jsonschema_description:"Identifier copied from the input"`
	Name        string `json:"name" jsonschema_description:"Name in the target language"`
	Description string `json:"description" jsonschema_description:"Description in the target language"`
}

type LocalizedTitle struct {
	Title string `json:"title" jsonschema_description:"Title in the target language"`
}
