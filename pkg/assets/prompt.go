package assets

const charactersPrompt = `You are a precise character extraction system for illustrated stories. Read the story below and list its distinct characters.

**Rules**:
- Return a JSON array of at most 12 objects, each with 'name' and 'description'.
- 'name' is the character's canonical name; use a short descriptive name ("The Baker") when the story gives none.
- 'description' is one or two sentences of visual detail an illustrator can draw: apparent age, build, clothing, hair, notable features. Estimate plausibly when the story is silent.
- Consolidate every mention of the same character under one entry.
- Do not list the narrator unless they act visibly in the story.
- %s
- Output only the JSON array.

Story:
%s
`

const environmentsPrompt = `You are a precise location extraction system for illustrated stories. Read the story below and list the distinct places where it happens.

**Rules**:
- Return a JSON array of at most 10 objects, each with 'name' and 'description'.
- 'name' is a short canonical name for the place ("The Old Kitchen").
- 'description' is one or two sentences of visual detail: architecture, objects, light, weather, colors.
- A place revisited later in the story is listed once.
- %s
- Output only the JSON array.

Story:
%s
`

const sceneEnvironmentPrompt = `You are choosing the single location where one scene of an illustrated story takes place.

%s
%s
%s

Scene (original language):
%s

Scene (English):
%s

Characters present:
%s

Reply with a JSON array holding exactly one object with 'name' (a short canonical place name) and 'description' (one or two sentences of visual detail). Output only the JSON array.
`

const localizerPrompt = `Translate the following story %s into %s.

Each item has an 'id', an English name and an English description. Reply with a JSON array of objects with 'id' (copied unchanged), 'name' and 'description', both written naturally in %s. Keep proper names that should not be translated. Output only the JSON array.

Items:
%s
`

const titlePrompt = `Translate this story title into %s. Keep it short and natural, without quotes or trailing punctuation.

Title: %s

Reply with a JSON object with a single key 'title'.
`

const (
	characterLanguageHint   = "The original story language is %s. Translate names and descriptions into natural English while preserving culturally specific details."
	environmentLanguageHint = "The original story language is %s. Translate location names and descriptions into natural English while keeping important cultural nuances."
	englishHint             = "Write every name and description in clear, natural English."

	previousHint   = "The previous scene took place in %q. Only reuse that location if the narrative clearly remains there; otherwise choose a distinct setting."
	noPreviousHint = "There is no previous scene to reference."
	suggestionHint = "Suggested environment from the scene builder: %s"
	noSuggestion   = "No suggested environment name was provided."
	notProvided    = "(Not provided)"
)
