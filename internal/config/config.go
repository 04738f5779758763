// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.cinemesh/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation is fail-fast: an invalid configuration aborts startup before
// any listener is opened. Sensitive fields (API keys) are masked in
// MarshalJSON and String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is().
var (
	// ErrMissingGatewayKey indicates the generation gateway API key is not set.
	ErrMissingGatewayKey = errors.New("missing gateway API key")

	// ErrMissingTMDBKey indicates the TMDB API key is not set.
	ErrMissingTMDBKey = errors.New("missing TMDB API key")

	// ErrInvalidProvider indicates the engine provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingGeminiKey indicates GEMINI_API_KEY is required but unset.
	ErrMissingGeminiKey = errors.New("missing Gemini API key")

	// ErrInvalidContextBudget indicates the context budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidStreamBatch indicates the stream batch size is out of range.
	ErrInvalidStreamBatch = errors.New("invalid stream batch size")

	// ErrInvalidHTTPRetries indicates the retry count is out of range.
	ErrInvalidHTTPRetries = errors.New("invalid HTTP retry count")
)

// Engine provider identifiers used in Config.Provider.
const (
	ProviderGateway = "gateway"
	ProviderGemini  = "gemini"
)

// Context budget bounds (messages per hydration).
const (
	DefaultContextBudget = 40
	MinContextBudget     = 2
	MaxContextBudget     = 1000
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; when adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// Engine provider and model configuration
	Provider     string `mapstructure:"provider" json:"provider"` // "gateway" (default) or "gemini"
	DefaultModel string `mapstructure:"default_model" json:"default_model"`
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens" json:"max_tokens"`

	// Generation gateway (OpenAI-compatible endpoint)
	GatewayBaseURL string `mapstructure:"gateway_base_url" json:"gateway_base_url"`
	GatewayAPIKey  string `mapstructure:"gateway_api_key" json:"gateway_api_key"` // SENSITIVE

	// Gemini (only used when provider is "gemini")
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE

	// Retrieval capabilities
	TMDBBaseURL string `mapstructure:"tmdb_base_url" json:"tmdb_base_url"`
	TMDBAPIKey  string `mapstructure:"tmdb_api_key" json:"tmdb_api_key"` // SENSITIVE

	// Storage
	DatabasePath string `mapstructure:"database_path" json:"database_path"`

	// Conversation context
	ContextBudget int `mapstructure:"context_budget" json:"context_budget"` // messages per hydration

	// Delivery pacing
	StreamBatchWords int           `mapstructure:"stream_batch_words" json:"stream_batch_words"`
	StreamDelay      time.Duration `mapstructure:"stream_delay" json:"stream_delay"`

	// Outbound HTTP behavior
	HTTPTimeout time.Duration `mapstructure:"http_timeout" json:"http_timeout"`
	HTTPRetries int           `mapstructure:"http_retries" json:"http_retries"`

	// Server
	Addr      string `mapstructure:"addr" json:"addr"`
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"` // "text" or "json"
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".cinemesh")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGateway)
	v.SetDefault("default_model", "gpt-4o-mini")
	v.SetDefault("system_prompt",
		"You are Movie Analyst, an expert cinematic research assistant. "+
			"You have access to live TMDB tools to search movies, TV shows, "+
			"trending content and more. Always use your tools to fetch real "+
			"data; never invent results. Present titles, ratings, release "+
			"dates and key facts clearly.")
	v.SetDefault("max_tokens", 1000)

	v.SetDefault("gateway_base_url", "https://api.concentrate.ai/v1")
	v.SetDefault("tmdb_base_url", "https://api.themoviedb.org/3")

	v.SetDefault("database_path", filepath.Join("data", "chat_history.db"))

	v.SetDefault("context_budget", DefaultContextBudget)

	v.SetDefault("stream_batch_words", 3)
	v.SetDefault("stream_delay", 30*time.Millisecond)

	v.SetDefault("http_timeout", 60*time.Second)
	v.SetDefault("http_retries", 3)

	v.SetDefault("addr", "127.0.0.1:8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets only come from the environment, never from the config file
// shipped in a container image.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gateway_api_key", "CONCENTRATE_API_KEY")
	mustBind("gateway_base_url", "CONCENTRATE_BASE_URL")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("tmdb_api_key", "TMDB_API_KEY")
	mustBind("tmdb_base_url", "TMDB_BASE_URL")
	mustBind("database_path", "CINEMESH_DATABASE_PATH")
	mustBind("default_model", "CINEMESH_DEFAULT_MODEL")
	mustBind("provider", "CINEMESH_PROVIDER")
	mustBind("addr", "CINEMESH_ADDR")
	mustBind("log_level", "CINEMESH_LOG_LEVEL")
	mustBind("log_format", "CINEMESH_LOG_FORMAT")
}

// Validate checks the configuration for fatal problems.
// Called by Load; callers constructing a Config by hand (tests) may call
// it directly.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGateway:
		if c.GatewayAPIKey == "" {
			return fmt.Errorf("%w: set CONCENTRATE_API_KEY", ErrMissingGatewayKey)
		}
		// Retrieval tools ride the gateway tool loop, so the key is only
		// required there.
		if c.TMDBAPIKey == "" {
			return fmt.Errorf("%w: set TMDB_API_KEY", ErrMissingTMDBKey)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingGeminiKey)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGateway, ProviderGemini)
	}

	if c.ContextBudget < MinContextBudget || c.ContextBudget > MaxContextBudget {
		return fmt.Errorf("%w: %d (want %d..%d)",
			ErrInvalidContextBudget, c.ContextBudget, MinContextBudget, MaxContextBudget)
	}

	if c.StreamBatchWords < 1 || c.StreamBatchWords > 100 {
		return fmt.Errorf("%w: %d (want 1..100)", ErrInvalidStreamBatch, c.StreamBatchWords)
	}

	if c.HTTPRetries < 0 || c.HTTPRetries > 10 {
		return fmt.Errorf("%w: %d (want 0..10)", ErrInvalidHTTPRetries, c.HTTPRetries)
	}

	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GatewayAPIKey = maskSecret(a.GatewayAPIKey)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.TMDBAPIKey = maskSecret(a.TMDBAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
