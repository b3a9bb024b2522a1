package config

import (
	"cmp"
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeImages()
	c.normalizeTranscription()
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("STORYLOOM_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = value
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openrouter"
	}
	preset := LLMPresets[c.LLM.Provider]
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" && preset.KeyEnv != "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv(preset.KeyEnv))
	}
	c.LLM.BaseURL = strings.TrimRight(cmp.Or(strings.TrimSpace(c.LLM.BaseURL), preset.BaseURL), "/")
	c.LLM.Model = cmp.Or(strings.TrimSpace(c.LLM.Model), preset.Model)
	c.LLM.Language = strings.TrimSpace(c.LLM.Language)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (c *Config) normalizeImages() {
	c.Images.Provider = strings.ToLower(cmp.Or(strings.TrimSpace(c.Images.Provider), defaultImageProvider))
	c.Images.Style = strings.ToLower(cmp.Or(strings.TrimSpace(c.Images.Style), defaultImageStyle))

	c.Images.APIKey = strings.TrimSpace(c.Images.APIKey)
	if c.Images.APIKey == "" {
		c.Images.APIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	}
	if c.Images.APIKey == "" && c.LLM.Provider == "openrouter" {
		c.Images.APIKey = c.LLM.APIKey
	}
	c.Images.BaseURL = strings.TrimRight(cmp.Or(strings.TrimSpace(c.Images.BaseURL), LLMPresets["openrouter"].BaseURL), "/")
	c.Images.Model = cmp.Or(strings.TrimSpace(c.Images.Model), defaultImageModel)

	c.Images.FalAPIKey = cmp.Or(strings.TrimSpace(c.Images.FalAPIKey), strings.TrimSpace(os.Getenv("FAL_API_KEY")), strings.TrimSpace(os.Getenv("FAL_KEY")))
	c.Images.FalURL = cmp.Or(strings.TrimSpace(c.Images.FalURL), defaultFalURL)

	c.Images.GeminiAPIKey = cmp.Or(strings.TrimSpace(c.Images.GeminiAPIKey), strings.TrimSpace(os.Getenv("GEMINI_API_KEY")))
	c.Images.GeminiModel = cmp.Or(strings.TrimSpace(c.Images.GeminiModel), defaultGeminiModel)

	c.Images.ImageSize = cmp.Or(strings.TrimSpace(c.Images.ImageSize), defaultImageSize)
	if c.Images.MaxAttempts <= 0 {
		c.Images.MaxAttempts = defaultMaxAttempts
	}
	if c.Images.PollAttempts <= 0 {
		c.Images.PollAttempts = defaultPollAttempts
	}
	if c.Images.PollIntervalMS <= 0 {
		c.Images.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Images.TimeoutSeconds <= 0 {
		c.Images.TimeoutSeconds = defaultImageTimeout
	}
	if c.Images.Concurrency <= 0 {
		c.Images.Concurrency = defaultConcurrency
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.APIKey = cmp.Or(strings.TrimSpace(c.Transcription.APIKey), strings.TrimSpace(os.Getenv("GROQ_API_KEY")))
	c.Transcription.BaseURL = strings.TrimRight(cmp.Or(strings.TrimSpace(c.Transcription.BaseURL), defaultTranscriptionBaseURL), "/")
	c.Transcription.Model = cmp.Or(strings.TrimSpace(c.Transcription.Model), defaultTranscriptionModel)
	c.Transcription.Language = strings.TrimSpace(c.Transcription.Language)
}

func (c *Config) normalizeServer() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = cmp.Or(strings.TrimSpace(c.Server.Addr), defaultServerAddr)
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(cmp.Or(strings.TrimSpace(c.Logging.Level), "info"))
	c.Logging.Format = strings.ToLower(cmp.Or(strings.TrimSpace(c.Logging.Format), "auto"))
}
