package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable. Missing credentials are not
// errors here: calls without a key degrade to "no result" at run time.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLLM() error {
	if _, ok := LLMPresets[c.LLM.Provider]; !ok {
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Provider != "gemini" && c.LLM.BaseURL == "" {
		return errors.New("llm.base_url must be set")
	}
	return nil
}

func (c *Config) validateImages() error {
	if !slices.Contains([]string{ProviderOpenRouter, ProviderFal, ProviderGemini}, c.Images.Provider) {
		return fmt.Errorf("images.provider %q is not supported", c.Images.Provider)
	}
	if !slices.Contains([]string{StylePhotorealistic, StyleCartoon, StyleManga}, c.Images.Style) {
		return fmt.Errorf("images.style %q is not supported", c.Images.Style)
	}
	if c.Images.MaxAttempts > 10 {
		return errors.New("images.max_attempts must be at most 10")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal"}, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if !slices.Contains([]string{"auto", "text", "console", "json", "logfmt"}, c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}
	return nil
}
