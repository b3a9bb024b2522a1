package config

const (
	defaultDataDir        = "~/.local/share/storyloom"
	defaultServerAddr     = ":8080"
	defaultTimeoutSeconds = 120

	defaultImageProvider  = ProviderOpenRouter
	defaultImageStyle     = StylePhotorealistic
	defaultImageModel     = "google/gemini-2.5-flash-image-preview"
	defaultGeminiModel    = "gemini-2.5-flash-image"
	defaultFalURL         = "https://fal.run/fal-ai/flux-1/schnell"
	defaultImageSize      = "square"
	defaultMaxAttempts    = 5
	defaultPollAttempts   = 10
	defaultPollIntervalMS = 1000
	defaultConcurrency    = 3
	defaultImageTimeout   = 180

	defaultTranscriptionBaseURL = "https://api.groq.com/openai/v1"
	defaultTranscriptionModel   = "whisper-large-v3-turbo"
)

// Image providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderFal        = "fal"
	ProviderGemini     = "gemini"
)

// Image styles.
const (
	StylePhotorealistic = "photorealistic"
	StyleCartoon        = "cartoon"
	StyleManga          = "manga"
)

// LLMPreset holds the defaults of an OpenAI-compatible (or Gemini) provider.
type LLMPreset struct {
	BaseURL string
	Model   string
	// KeyEnv names the environment variable consulted for a missing key.
	KeyEnv string
}

// LLMPresets lists the supported text providers.
var LLMPresets = map[string]LLMPreset{
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", Model: "mistralai/mistral-nemo", KeyEnv: "OPENROUTER_API_KEY"},
	"openai":     {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", KeyEnv: "OPENAI_API_KEY"},
	"xai":        {BaseURL: "https://api.x.ai/v1", Model: "grok-4-fast-reasoning", KeyEnv: "GROK_API_KEY"},
	"moonshot":   {BaseURL: "https://api.moonshot.ai/v1", Model: "kimi-k2-5", KeyEnv: "MOONSHOT_API_KEY"},
	"kimi":       {BaseURL: "https://api.kimi.com/coding/v1", Model: "kimi-for-coding", KeyEnv: "KIMI_API_KEY"},
	"gemini":     {Model: "gemini-2.5-flash", KeyEnv: "GEMINI_API_KEY"},
	"local":      {BaseURL: "http://localhost:1234/v1"},
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		LLM: LLM{
			Provider:          "openrouter",
			StructuredOutputs: true,
			TimeoutSeconds:    defaultTimeoutSeconds,
		},
		Images: Images{
			Provider:       defaultImageProvider,
			Style:          defaultImageStyle,
			Characters:     true,
			Environments:   true,
			Scenes:         true,
			Model:          defaultImageModel,
			FalURL:         defaultFalURL,
			GeminiModel:    defaultGeminiModel,
			ImageSize:      defaultImageSize,
			MaxAttempts:    defaultMaxAttempts,
			PollAttempts:   defaultPollAttempts,
			PollIntervalMS: defaultPollIntervalMS,
			Concurrency:    defaultConcurrency,
			TimeoutSeconds: defaultImageTimeout,
		},
		Transcription: Transcription{
			BaseURL: defaultTranscriptionBaseURL,
			Model:   defaultTranscriptionModel,
		},
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Server: Server{
			Addr: defaultServerAddr,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
