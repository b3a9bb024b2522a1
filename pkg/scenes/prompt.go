package scenes

const (
	scenesIntro        = "Given the following story, split it into coherent scenes in narrative order."
	scenesFields       = "For each scene reply with: caption_original (the narrative in the original language), caption_english (the same narrative in English), environment_name (choose an English name from the list) and character_names (an array of English character names from the list)."
	scenesExactNames   = "Use only the English names exactly as provided when listing environments or characters. Reply with a JSON array only."
	scenesOnlyEnglish  = "Only the English translation is available; repeat it for caption_original as well."
	scenesOnlyOriginal = "Only the original narrative is available; translate it into English for caption_english."
)
