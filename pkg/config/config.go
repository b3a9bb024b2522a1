package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// LLM configures the text generation endpoint used by every structured call.
type LLM struct {
	Provider          string `toml:"provider"`
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	StructuredOutputs bool   `toml:"structured_outputs"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	// Language forces the story language instead of detecting it.
	Language string `toml:"language"`
}

// Images configures illustration generation.
type Images struct {
	Provider       string `toml:"provider"`
	Style          string `toml:"style"`
	Characters     bool   `toml:"characters"`
	Environments   bool   `toml:"environments"`
	Scenes         bool   `toml:"scenes"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	FalAPIKey      string `toml:"fal_api_key"`
	FalURL         string `toml:"fal_url"`
	GeminiAPIKey   string `toml:"gemini_api_key"`
	GeminiModel    string `toml:"gemini_model"`
	ImageSize      string `toml:"image_size"`
	MaxAttempts    int    `toml:"max_attempts"`
	PollAttempts   int    `toml:"poll_attempts"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	Concurrency    int    `toml:"concurrency"`
	WebP           bool   `toml:"webp"`
	// TimeoutSeconds bounds each image request, downloads included.
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcription configures the remote speech-to-text collaborator.
type Transcription struct {
	Enabled  bool   `toml:"enabled"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// Paths contains storage locations.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	KeepSegments bool   `toml:"keep_segments"`
}

// Server contains the HTTP API bind address.
type Server struct {
	Addr string `toml:"addr"`
}

// Logging controls log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	LLM           LLM           `toml:"llm"`
	Images        Images        `toml:"images"`
	Transcription Transcription `toml:"transcription"`
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Logging       Logging       `toml:"logging"`
}

// PipelineConfig is the immutable per-run snapshot handed to pipeline steps.
type PipelineConfig struct {
	Language          string
	StructuredOutputs bool
	ImageStyle        string
	ImageProvider     string
	CharacterImages   bool
	EnvironmentImages bool
	SceneImages       bool
	KeepSegments      bool
}

// PipelineConfig derives the per-run settings.
func (c *Config) PipelineConfig() PipelineConfig {
	return PipelineConfig{
		Language:          c.LLM.Language,
		StructuredOutputs: c.LLM.StructuredOutputs,
		ImageStyle:        c.Images.Style,
		ImageProvider:     c.Images.Provider,
		CharacterImages:   c.Images.Characters,
		EnvironmentImages: c.Images.Environments,
		SceneImages:       c.Images.Scenes,
		KeepSegments:      c.Paths.KeepSegments,
	}
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyloom/config.toml")
}

// Load locates, parses, normalizes and validates a configuration file. A
// missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("storyloom.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the data directory tree.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.RunsDir(), c.ExportsDir(), c.SegmentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoriesFile is the JSON array of persisted story records.
func (c *Config) StoriesFile() string { return filepath.Join(c.Paths.DataDir, "stories.json") }

// RunsDB is the SQLite run ledger.
func (c *Config) RunsDB() string { return filepath.Join(c.Paths.DataDir, "runs.db") }

// LLMLogFile is the diagnostic request/response log.
func (c *Config) LLMLogFile() string { return filepath.Join(c.Paths.DataDir, "llm_logs.txt") }

// RunsDir holds one asset directory per run id.
func (c *Config) RunsDir() string { return filepath.Join(c.Paths.DataDir, "runs") }

// SegmentsDir is where API clients place audio segments. Segment paths
// submitted over HTTP must resolve inside it.
func (c *Config) SegmentsDir() string { return filepath.Join(c.Paths.DataDir, "segments") }

// ExportsDir holds exported archives.
func (c *Config) ExportsDir() string { return filepath.Join(c.Paths.DataDir, "exports") }

// RequestTimeout is the per-request LLM timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// ImageTimeout is the per-request image backend timeout.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Images.TimeoutSeconds) * time.Second
}

// PollInterval is the pause between image queue polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Images.PollIntervalMS) * time.Millisecond
}

// ExpandPath resolves "~" and returns an absolute path.
func ExpandPath(pathValue string) (string, error) { return expandPath(pathValue) }

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
