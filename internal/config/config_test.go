package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	return &Config{
		Provider:         ProviderGateway,
		DefaultModel:     "gpt-4o-mini",
		GatewayBaseURL:   "https://gateway.example/v1",
		GatewayAPIKey:    "sk-test-key",
		TMDBBaseURL:      "https://tmdb.example/3",
		TMDBAPIKey:       "tmdb-test-key",
		DatabasePath:     "data/test.db",
		ContextBudget:    40,
		StreamBatchWords: 3,
		StreamDelay:      30 * time.Millisecond,
		HTTPTimeout:      time.Minute,
		HTTPRetries:      3,
		Addr:             "127.0.0.1:8000",
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingGatewayKey(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayAPIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingGatewayKey)
}

func TestValidate_MissingTMDBKey(t *testing.T) {
	cfg := validConfig()
	cfg.TMDBAPIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingTMDBKey)
}

func TestValidate_GeminiProviderRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = ProviderGemini

	assert.ErrorIs(t, cfg.Validate(), ErrMissingGeminiKey)

	cfg.GeminiAPIKey = "gm-key"
	assert.NoError(t, cfg.Validate())

	// The TMDB key is a gateway concern; gemini runs without it.
	cfg.TMDBAPIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidProvider)
}

func TestValidate_ContextBudgetBounds(t *testing.T) {
	cfg := validConfig()

	cfg.ContextBudget = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidContextBudget)

	cfg.ContextBudget = MaxContextBudget + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidContextBudget)

	cfg.ContextBudget = MinContextBudget
	assert.NoError(t, cfg.Validate())
}

func TestValidate_StreamBatchBounds(t *testing.T) {
	cfg := validConfig()
	cfg.StreamBatchWords = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidStreamBatch)
}

func TestValidate_RetryBounds(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPRetries = 11
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidHTTPRetries)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayAPIKey = "sk-very-secret-value-123"
	cfg.TMDBAPIKey = "tmdb-very-secret-456"

	out := cfg.String()

	assert.NotContains(t, out, "sk-very-secret-value-123")
	assert.NotContains(t, out, "tmdb-very-secret-456")
	assert.Contains(t, out, maskedValue)
}

func TestMaskSecret(t *testing.T) {
	assert.Empty(t, maskSecret(""))
	assert.Equal(t, maskedValue, maskSecret("short"))

	long := maskSecret("abcdefghijklmnop")
	assert.True(t, strings.HasPrefix(long, "ab<"))
	assert.True(t, strings.HasSuffix(long, ">op"))
	assert.NotContains(t, long, "cdefghijklmn")
}
