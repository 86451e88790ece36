package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration for the lead-generation
// engine: credentials for the three external actor families plus the email
// verifier, the worker/rate-limit knobs named in spec §6, per-profile
// coverage parameters, the pricing table the cost calculator reads from,
// and the ambient store/log settings.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Apify     ApifyConfig     `yaml:"apify" mapstructure:"apify"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Verifier  VerifierConfig  `yaml:"verifier" mapstructure:"verifier"`
	Governor  GovernorConfig  `yaml:"governor" mapstructure:"governor"`
	Coverage  CoverageConfig  `yaml:"coverage" mapstructure:"coverage"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
}

// GeoConfig locates the ZCTA shapefile and optional ZIP population side
// table the ZipCatalog gazetteer loads at startup. ShapefilePath is tried
// first; if empty, ShapefileURL is downloaded into CacheDir.
type GeoConfig struct {
	ShapefileURL  string `yaml:"shapefile_url" mapstructure:"shapefile_url"`
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	CacheDir      string `yaml:"cache_dir" mapstructure:"cache_dir"`
	PopulationCSV string `yaml:"population_csv" mapstructure:"population_csv"`
}

// StoreConfig configures the database backend (sqlite or postgres).
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ApifyConfig authenticates the map/social/professional scraper actors —
// they share one Apify account, but each still gets its own RateGovernor
// bucket (see GovernorConfig).
type ApifyConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig authenticates the Writer (icebreaker/subject generation) and
// the CoverageAnalyzer (ZIP-candidate generation).
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	HeavyModel  string `yaml:"heavy_model" mapstructure:"heavy_model"`
	LightModel  string `yaml:"light_model" mapstructure:"light_model"`
}

// VerifierConfig authenticates the EmailVerifier adapter.
type VerifierConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GovernorConfig carries the RateGovernor's per-service token-bucket
// parameters plus the shared per-domain throttle/blocklist settings.
type GovernorConfig struct {
	Services map[string]ServiceBucket `yaml:"services" mapstructure:"services"`
	// DomainRequestDelayS is the minimum spacing enforced between two
	// requests to the same domain (WEBSITE_TIMEOUT_S's sibling knob).
	DomainRequestDelayS int `yaml:"domain_request_delay_s" mapstructure:"domain_request_delay_s"`
	// WebsiteFailureThreshold is consecutive domain failures before a
	// domain is blocklisted.
	WebsiteFailureThreshold int `yaml:"website_failure_threshold" mapstructure:"website_failure_threshold"`
	// WebsiteTimeoutS bounds any single outbound website fetch.
	WebsiteTimeoutS int `yaml:"website_timeout_s" mapstructure:"website_timeout_s"`
}

// ServiceBucket is one RateGovernor token-bucket configuration.
type ServiceBucket struct {
	RefillPerSecond float64 `yaml:"refill_per_second" mapstructure:"refill_per_second"`
	Capacity        int     `yaml:"capacity" mapstructure:"capacity"`
}

// CoverageConfig holds the per-profile ZIP-selection parameter table (spec
// §4.3) plus the worker pool sizes CoverageAnalyzer and the executor use.
type CoverageConfig struct {
	Profiles                  map[string]ProfileParams `yaml:"profiles" mapstructure:"profiles"`
	CityFanOutConcurrency     int                       `yaml:"city_fan_out_concurrency" mapstructure:"city_fan_out_concurrency"`
	CityFanOutTimeoutMinutes  int                       `yaml:"city_fan_out_timeout_minutes" mapstructure:"city_fan_out_timeout_minutes"`
}

// ProfileParams is one coverage-profile row: min/max ZIPs and default
// spacing in miles.
type ProfileParams struct {
	MinZips        int     `yaml:"min_zips" mapstructure:"min_zips"`
	MaxZips        int     `yaml:"max_zips" mapstructure:"max_zips"`
	DefaultSpacing float64 `yaml:"default_spacing" mapstructure:"default_spacing"`
}

// PricingConfig holds the per-1000-unit service rates and the per-model LLM
// token rates the cost calculator reads from (spec §6).
type PricingConfig struct {
	MapScrapingPer1000      float64                  `yaml:"map_scraping_per_1000" mapstructure:"map_scraping_per_1000"`
	SocialPer1000           float64                  `yaml:"social_per_1000" mapstructure:"social_per_1000"`
	ProfessionalPer1000     float64                  `yaml:"professional_per_1000" mapstructure:"professional_per_1000"`
	EmailVerificationPer1000 float64                 `yaml:"email_verification_per_1000" mapstructure:"email_verification_per_1000"`
	Models                  map[string]ModelPricing  `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PipelineConfig configures the executor's worker pools and phase timeouts.
type PipelineConfig struct {
	MaxParallelIcebreakerWorkers   int `yaml:"max_parallel_icebreaker_workers" mapstructure:"max_parallel_icebreaker_workers"`
	MaxParallelProfessionalBatches int `yaml:"max_parallel_professional_batches" mapstructure:"max_parallel_professional_batches"`
	ProfessionalBatchSize          int `yaml:"professional_batch_size" mapstructure:"professional_batch_size"`
	HeartbeatIntervalS             int `yaml:"heartbeat_interval_s" mapstructure:"heartbeat_interval_s"`
	Phase1TimeoutMinutes           int `yaml:"phase1_timeout_minutes" mapstructure:"phase1_timeout_minutes"`
	Phase2TimeoutMinutes           int `yaml:"phase2_timeout_minutes" mapstructure:"phase2_timeout_minutes"`
	Phase2point5TimeoutMinutes     int `yaml:"phase2point5_timeout_minutes" mapstructure:"phase2point5_timeout_minutes"`
}

// ServerConfig configures the optional status-reporting server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "run" (execute an existing campaign), "coverage"
// (CoverageAnalyzer-only check: only the LLM key is required), and "test" (the
// connectivity smoke test, e.g. `run --test` — needs every external
// credential but never opens the store).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Apify.APIKey == "" {
			errs = append(errs, "apify.api_key is required")
		}
		if c.Verifier.APIKey == "" {
			errs = append(errs, "verifier.api_key is required")
		}
		if c.OpenAI.APIKey == "" {
			errs = append(errs, "openai.api_key is required")
		}
	case "coverage":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, "openai.api_key is required")
		}
	case "test":
		if c.Apify.APIKey == "" {
			errs = append(errs, "apify.api_key is required")
		}
		if c.Verifier.APIKey == "" {
			errs = append(errs, "verifier.api_key is required")
		}
		if c.OpenAI.APIKey == "" {
			errs = append(errs, "openai.api_key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.MaxParallelIcebreakerWorkers < 1 {
		errs = append(errs, "pipeline.max_parallel_icebreaker_workers must be >= 1")
	}
	if c.Pipeline.MaxParallelProfessionalBatches < 1 {
		errs = append(errs, "pipeline.max_parallel_professional_batches must be >= 1")
	}
	if c.Pipeline.ProfessionalBatchSize < 1 {
		errs = append(errs, "pipeline.professional_batch_size must be >= 1")
	}
	if c.Governor.WebsiteFailureThreshold < 1 {
		errs = append(errs, "governor.website_failure_threshold must be >= 1")
	}
	for name, p := range c.Coverage.Profiles {
		if p.MinZips < 1 || (p.MaxZips != 0 && p.MaxZips < p.MinZips) {
			errs = append(errs, fmt.Sprintf("coverage.profiles.%s: min_zips/max_zips out of range", name))
		}
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("openai.heavy_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.light_model", "claude-haiku-4-5-20251001")
	v.SetDefault("verifier.base_url", "https://api.verifier.example.com")

	v.SetDefault("governor.domain_request_delay_s", 2)
	v.SetDefault("governor.website_failure_threshold", 3)
	v.SetDefault("governor.website_timeout_s", 30)
	v.SetDefault("governor.services", map[string]any{
		"apify_maps":        map[string]any{"refill_per_second": 2.0, "capacity": 5},
		"apify_facebook":    map[string]any{"refill_per_second": 2.0, "capacity": 5},
		"apify_linkedin":    map[string]any{"refill_per_second": 1.0, "capacity": 3},
		"openai_heavy":      map[string]any{"refill_per_second": 1.0, "capacity": 3},
		"openai_light":      map[string]any{"refill_per_second": 3.0, "capacity": 10},
		"verifier":          map[string]any{"refill_per_second": 5.0, "capacity": 10},
	})

	v.SetDefault("coverage.city_fan_out_concurrency", 10)
	v.SetDefault("coverage.city_fan_out_timeout_minutes", 15)
	v.SetDefault("coverage.profiles", map[string]any{
		"budget":    map[string]any{"min_zips": 5, "max_zips": 10, "default_spacing": 5.0},
		"balanced":  map[string]any{"min_zips": 10, "max_zips": 25, "default_spacing": 4.0},
		"aggressive": map[string]any{"min_zips": 25, "max_zips": 100, "default_spacing": 3.0},
		"custom":    map[string]any{"min_zips": 1, "max_zips": 0, "default_spacing": 4.0},
	})

	v.SetDefault("pricing.map_scraping_per_1000", 4.00)
	v.SetDefault("pricing.social_per_1000", 10.00)
	v.SetDefault("pricing.professional_per_1000", 10.00)
	v.SetDefault("pricing.email_verification_per_1000", 2.00)
	v.SetDefault("pricing.models", map[string]any{
		"claude-haiku-4-5-20251001":  map[string]any{"input": 1.00, "output": 5.00},
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.00, "output": 15.00},
	})

	v.SetDefault("pipeline.max_parallel_icebreaker_workers", 5)
	v.SetDefault("pipeline.max_parallel_professional_batches", 3)
	v.SetDefault("pipeline.professional_batch_size", 15)
	v.SetDefault("pipeline.heartbeat_interval_s", 60)
	v.SetDefault("pipeline.phase1_timeout_minutes", 30)
	v.SetDefault("pipeline.phase2_timeout_minutes", 60)
	v.SetDefault("pipeline.phase2point5_timeout_minutes", 90)

	v.SetDefault("geo.shapefile_url", "https://www2.census.gov/geo/tiger/TIGER2020/ZCTA520/tl_2020_us_zcta520.zip")
	v.SetDefault("geo.cache_dir", ".geo-cache")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
