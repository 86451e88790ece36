package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, 5, cfg.Pipeline.MaxParallelIcebreakerWorkers)
	assert.Equal(t, 3, cfg.Pipeline.MaxParallelProfessionalBatches)
	assert.Equal(t, 15, cfg.Pipeline.ProfessionalBatchSize)
	assert.Equal(t, 60, cfg.Pipeline.HeartbeatIntervalS)
	assert.Equal(t, 30, cfg.Pipeline.Phase1TimeoutMinutes)
	assert.Equal(t, 60, cfg.Pipeline.Phase2TimeoutMinutes)
	assert.Equal(t, 90, cfg.Pipeline.Phase2point5TimeoutMinutes)

	assert.Equal(t, 2, cfg.Governor.DomainRequestDelayS)
	assert.Equal(t, 3, cfg.Governor.WebsiteFailureThreshold)
	assert.Equal(t, 30, cfg.Governor.WebsiteTimeoutS)
	require.Contains(t, cfg.Governor.Services, "apify_maps")
	assert.Equal(t, 5, cfg.Governor.Services["apify_maps"].Capacity)

	require.Contains(t, cfg.Coverage.Profiles, "balanced")
	assert.Equal(t, 10, cfg.Coverage.Profiles["balanced"].MinZips)
	assert.Equal(t, 25, cfg.Coverage.Profiles["balanced"].MaxZips)
	assert.InDelta(t, 4.0, cfg.Coverage.Profiles["balanced"].DefaultSpacing, 0.001)
	assert.Equal(t, 10, cfg.Coverage.CityFanOutConcurrency)
	assert.Equal(t, 15, cfg.Coverage.CityFanOutTimeoutMinutes)

	assert.InDelta(t, 4.00, cfg.Pricing.MapScrapingPer1000, 0.001)
	assert.InDelta(t, 10.00, cfg.Pricing.SocialPer1000, 0.001)
	assert.InDelta(t, 10.00, cfg.Pricing.ProfessionalPer1000, 0.001)
	assert.InDelta(t, 2.00, cfg.Pricing.EmailVerificationPer1000, 0.001)
	require.Contains(t, cfg.Pricing.Models, "claude-haiku-4-5-20251001")
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leadgen
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  max_parallel_icebreaker_workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.MaxParallelIcebreakerWorkers)
	// Defaults still apply for unset values
	assert.Equal(t, 15, cfg.Pipeline.ProfessionalBatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LEADGEN_STORE_DRIVER", "postgres")
	t.Setenv("LEADGEN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("LEADGEN_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all required numeric defaults
// populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.MaxParallelIcebreakerWorkers = 5
	cfg.Pipeline.MaxParallelProfessionalBatches = 3
	cfg.Pipeline.ProfessionalBatchSize = 15
	cfg.Governor.WebsiteFailureThreshold = 3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "leadgen.db"
	cfg.Apify.APIKey = "apify-token"
	cfg.Verifier.APIKey = "verifier-token"
	cfg.OpenAI.APIKey = "sk-openai-key"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "apify.api_key is required")
	assert.Contains(t, err.Error(), "verifier.api_key is required")
	assert.Contains(t, err.Error(), "openai.api_key is required")
}

func TestValidateCoverage_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.OpenAI.APIKey = "sk-openai-key"

	assert.NoError(t, cfg.Validate("coverage"))
}

func TestValidateCoverage_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("coverage")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key is required")
}

func TestValidateTest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Apify.APIKey = "apify-token"
	cfg.Verifier.APIKey = "verifier-token"
	cfg.OpenAI.APIKey = "sk-openai-key"

	assert.NoError(t, cfg.Validate("test"))
}

func TestValidateTest_MissingFields(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("test")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "apify.api_key is required")
	assert.Contains(t, err.Error(), "verifier.api_key is required")
	assert.Contains(t, err.Error(), "openai.api_key is required")
	assert.NotContains(t, err.Error(), "store.database_url")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.OpenAI.APIKey = "sk-openai-key"

	cfg.Pipeline.MaxParallelIcebreakerWorkers = 0
	err := cfg.Validate("coverage")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel_icebreaker_workers must be >= 1")

	cfg.Pipeline.MaxParallelIcebreakerWorkers = 5
	cfg.Pipeline.ProfessionalBatchSize = 0
	err = cfg.Validate("coverage")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "professional_batch_size must be >= 1")
}

func TestValidateProfileBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.OpenAI.APIKey = "sk-openai-key"
	cfg.Coverage.Profiles = map[string]ProfileParams{
		"weird": {MinZips: 10, MaxZips: 5, DefaultSpacing: 4.0},
	}

	err := cfg.Validate("coverage")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "coverage.profiles.weird")
}
