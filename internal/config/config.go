// Package config loads prreview settings from viper into a typed Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/store"
)

// EnvPrefix is the prefix for environment overrides, e.g. PRREVIEW_STATE_DIR.
const EnvPrefix = "PRREVIEW"

// Config is the effective configuration.
type Config struct {
	StateDir    string
	SessionsDir string
	Store       StoreConfig
	Anthropic   AnthropicConfig
	Review      ReviewConfig
	GitHub      GitHubConfig
	Log         LogConfig
}

type StoreConfig struct {
	Backend string
	DBPath  string
}

type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int64
}

type ReviewConfig struct {
	MaxRetrievalDocs int
	MaxContextLength int
	ExcludePaths     []string
	DefaultCriteria  string
}

type GitHubConfig struct {
	MockDataDir string
}

type LogConfig struct {
	Level string
	File  string
}

// DefaultDir returns ~/.config/prreview.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prreview"), nil
}

// SetDefaults registers a default for every key. Paths derived from
// state_dir are left empty here and resolved by Load.
func SetDefaults(v *viper.Viper, stateDir string) {
	v.SetDefault("state_dir", stateDir)
	v.SetDefault("sessions_dir", "")
	v.SetDefault("store.backend", store.BackendFile)
	v.SetDefault("store.db_path", "")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", llm.DefaultModel)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.top_p", 0.95)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("review.max_retrieval_docs", 10)
	v.SetDefault("review.max_context_length", 8000)
	v.SetDefault("review.exclude_paths", []string{})
	v.SetDefault("review.default_criteria", "strict style")
	v.SetDefault("github.mock_data_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads the effective configuration from v.
func Load(v *viper.Viper) *Config {
	c := &Config{
		StateDir:    v.GetString("state_dir"),
		SessionsDir: v.GetString("sessions_dir"),
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store.backend")),
			DBPath:  v.GetString("store.db_path"),
		},
		Anthropic: AnthropicConfig{
			APIKey:      v.GetString("anthropic.api_key"),
			Model:       v.GetString("anthropic.model"),
			Temperature: v.GetFloat64("anthropic.temperature"),
			TopP:        v.GetFloat64("anthropic.top_p"),
			MaxTokens:   v.GetInt64("anthropic.max_tokens"),
		},
		Review: ReviewConfig{
			MaxRetrievalDocs: v.GetInt("review.max_retrieval_docs"),
			MaxContextLength: v.GetInt("review.max_context_length"),
			ExcludePaths:     v.GetStringSlice("review.exclude_paths"),
			DefaultCriteria:  v.GetString("review.default_criteria"),
		},
		GitHub: GitHubConfig{MockDataDir: v.GetString("github.mock_data_dir")},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}

	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(c.StateDir, "sessions")
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(c.StateDir, "prreview.db")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.StateDir, "prreview.log")
	}
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return c
}

// StoreTarget is the directory or database path for the configured backend.
func (c *Config) StoreTarget() string {
	if c.Store.Backend == store.BackendSQLite {
		return c.Store.DBPath
	}
	return c.SessionsDir
}

// LLMParams returns the model parameters for the review generator.
func (c *Config) LLMParams() llm.Params {
	return llm.Params{
		Model:       c.Anthropic.Model,
		Temperature: c.Anthropic.Temperature,
		TopP:        c.Anthropic.TopP,
		MaxTokens:   c.Anthropic.MaxTokens,
	}
}

// Validate reports every invalid field at once as criterio.FieldErrors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("state_dir", c.StateDir, required),
		criterio.Run("store.backend", c.Store.Backend, oneOf(store.BackendFile, store.BackendSQLite)),
		criterio.Run("log.level", c.Log.Level, oneOf("trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled")),
		criterio.Run("github.mock_data_dir", c.GitHub.MockDataDir, isDirectoryOrNotSet),
		c.validateLimits(),
		c.validateExcludePaths(),
	)
}

func (c *Config) validateLimits() error {
	var errs criterio.FieldErrorsBuilder
	if t := c.Anthropic.Temperature; t < 0 || t > 1 {
		errs = errs.Append("anthropic.temperature", fmt.Errorf("must be between 0 and 1, got %g", t))
	}
	if p := c.Anthropic.TopP; p < 0 || p > 1 {
		errs = errs.Append("anthropic.top_p", fmt.Errorf("must be between 0 and 1, got %g", p))
	}
	if c.Anthropic.MaxTokens <= 0 {
		errs = errs.Append("anthropic.max_tokens", fmt.Errorf("must be positive, got %d", c.Anthropic.MaxTokens))
	}
	if c.Review.MaxRetrievalDocs <= 0 {
		errs = errs.Append("review.max_retrieval_docs", fmt.Errorf("must be positive, got %d", c.Review.MaxRetrievalDocs))
	}
	if c.Review.MaxContextLength <= 0 {
		errs = errs.Append("review.max_context_length", fmt.Errorf("must be positive, got %d", c.Review.MaxContextLength))
	}
	return errs.ToError()
}

func (c *Config) validateExcludePaths() error {
	var errs criterio.FieldErrorsBuilder
	for i, p := range c.Review.ExcludePaths {
		if !doublestar.ValidatePattern(p) {
			errs = errs.Append(fmt.Sprintf("review.exclude_paths[%d]", i), fmt.Errorf("invalid glob %q", p))
		}
	}
	return errs.ToError()
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(s string) error {
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s, got %q", strings.Join(allowed, ", "), s)
	}
}

// isDirectoryOrNotSet accepts an empty path or an existing directory.
func isDirectoryOrNotSet(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
