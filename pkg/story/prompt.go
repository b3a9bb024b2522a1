package story

const stitchPrompt = `You are a careful story editor. The user recorded a story as short spoken fragments, transcribed in order. Your task is to stitch the fragments into one cohesive narrative.

**Instructions**:
1. Detect the dominant language of the request and fragments.
2. Write the cohesive story in that language. Keep every event, character and place the fragments mention; smooth transitions, remove repetitions and filler words, and do not invent new plot points.
3. Translate the finished story into natural English.
4. Give the story a short English title of at most eight words.
5. Describe its visual qualities as metadata: mood, tone, genre, setting, era, time_of_day, lighting, palette (a list of colors) and themes (a list).

**Output**:
Reply with a single JSON object with the keys 'language' (the language name in English, e.g. "Italian"), 'story_original', 'story_english', 'title_short' and 'metadata'. Do not add commentary or markdown.
`

const languageForced = "The story must be written in %s. Use it for story_original and report it as the language."
