package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/config"
	"github.com/sells-group/leadgen-engine/internal/cost"
	"github.com/sells-group/leadgen-engine/internal/coverage"
	"github.com/sells-group/leadgen-engine/internal/executor"
	"github.com/sells-group/leadgen-engine/internal/geo"
	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/repository"
	"github.com/sells-group/leadgen-engine/internal/resilience"
	"github.com/sells-group/leadgen-engine/pkg/emailverifier"
	"github.com/sells-group/leadgen-engine/pkg/llm"
	"github.com/sells-group/leadgen-engine/pkg/mapscraper"
	"github.com/sells-group/leadgen-engine/pkg/professionalscraper"
	"github.com/sells-group/leadgen-engine/pkg/socialscraper"
	"github.com/sells-group/leadgen-engine/pkg/writer"
)

// pipelineEnv holds every initialized client and the Executor needed by the
// run/create/schedule commands.
type pipelineEnv struct {
	Repo     repository.Repository
	Executor *executor.Executor
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Repo != nil {
		_ = pe.Repo.Close()
	}
}

// governorServices converts the configured per-service buckets into
// rategovernor.ServiceConfig entries.
func governorServices(cfg config.GovernorConfig) map[string]rategovernor.ServiceConfig {
	out := make(map[string]rategovernor.ServiceConfig, len(cfg.Services))
	for name, b := range cfg.Services {
		out[name] = rategovernor.ServiceConfig{RefillPerSecond: b.RefillPerSecond, Capacity: b.Capacity}
	}
	return out
}

// pricingRates converts config.PricingConfig into cost.PricingConfig, the
// package-local mirror type cost.RatesFromConfig expects (internal/cost
// can't import internal/config without creating a cycle).
func pricingRates(p config.PricingConfig) cost.PricingConfig {
	models := make(map[string]cost.ModelPricing, len(p.Models))
	for name, mp := range p.Models {
		models[name] = cost.ModelPricing{Input: mp.Input, Output: mp.Output}
	}
	return cost.PricingConfig{
		MapScrapingPer1000:       p.MapScrapingPer1000,
		SocialPer1000:            p.SocialPer1000,
		ProfessionalPer1000:      p.ProfessionalPer1000,
		EmailVerificationPer1000: p.EmailVerificationPer1000,
		Models:                   models,
	}
}

// initPipeline sets up the store, rate governor, every scraper/verifier/LLM
// adapter, the cost calculator, the geo catalog, and builds the Executor.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	repo, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	governor := rategovernor.New(
		governorServices(cfg.Governor),
		rategovernor.WithDomainMinDelay(time.Duration(cfg.Governor.DomainRequestDelayS)*time.Second),
		rategovernor.WithDomainFailureThreshold(cfg.Governor.WebsiteFailureThreshold),
	)

	retry := resilience.DefaultRetryConfig()
	calc := cost.NewCalculator(cost.RatesFromConfig(pricingRates(cfg.Pricing)))

	catalog, err := loadCatalog(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, eris.Wrap(err, "load geo catalog")
	}

	llmClient := llm.NewClient(cfg.OpenAI.APIKey)

	analyzer := coverage.New(llmClient, catalog, calc, cfg.Coverage, cfg.OpenAI.HeavyModel)

	scraper := mapscraper.New(mapscraper.Config{
		BaseURL:  cfg.Apify.BaseURL,
		Token:    cfg.Apify.APIKey,
		Governor: governor,
		Retry:    retry,
	})
	social := socialscraper.New(socialscraper.Config{
		BaseURL:  cfg.Apify.BaseURL,
		Token:    cfg.Apify.APIKey,
		Governor: governor,
		Retry:    retry,
	})
	professional := professionalscraper.New(professionalscraper.Config{
		BaseURL:  cfg.Apify.BaseURL,
		Token:    cfg.Apify.APIKey,
		Governor: governor,
		Retry:    retry,
	})
	verifier := emailverifier.New(emailverifier.Config{
		BaseURL:    cfg.Verifier.BaseURL,
		APIKey:     cfg.Verifier.APIKey,
		HTTPClient: http.DefaultClient,
		Governor:   governor,
		Retry:      retry,
	})
	icebreakerWriter := writer.New(llmClient, writer.Config{Model: cfg.OpenAI.LightModel})

	exec := executor.New(executor.Deps{
		Repo:                repo,
		CoverageAnalyzer:    analyzer,
		MapScraper:          scraper,
		SocialScraper:       social,
		ProfessionalScraper: professional,
		EmailVerifier:       verifier,
		Writer:              icebreakerWriter,
		Governor:            governor,
		CostCalc:            calc,
		Product:             productFromConfig(),
		Pipeline:            cfg.Pipeline,
		Log:                 zap.L(),
	})

	return &pipelineEnv{Repo: repo, Executor: exec}, nil
}

// testEnv bundles the external-service adapters exercised by `run --test`.
// It deliberately omits the store and geo catalog: the connectivity check
// only needs to prove the three external credentials work, not that the
// local database or gazetteer are present.
type testEnv struct {
	scraper   *mapscraper.Scraper
	verifier  *emailverifier.Verifier
	llmClient llm.Client
}

// newTestEnv builds the minimal adapter set for `run --test`.
func newTestEnv() *testEnv {
	governor := rategovernor.New(
		governorServices(cfg.Governor),
		rategovernor.WithDomainMinDelay(time.Duration(cfg.Governor.DomainRequestDelayS)*time.Second),
		rategovernor.WithDomainFailureThreshold(cfg.Governor.WebsiteFailureThreshold),
	)
	retry := resilience.DefaultRetryConfig()

	return &testEnv{
		scraper: mapscraper.New(mapscraper.Config{
			BaseURL:  cfg.Apify.BaseURL,
			Token:    cfg.Apify.APIKey,
			Governor: governor,
			Retry:    retry,
		}),
		verifier: emailverifier.New(emailverifier.Config{
			BaseURL:    cfg.Verifier.BaseURL,
			APIKey:     cfg.Verifier.APIKey,
			HTTPClient: http.DefaultClient,
			Governor:   governor,
			Retry:      retry,
		}),
		llmClient: llm.NewClient(cfg.OpenAI.APIKey),
	}
}

// loadCatalog loads the ZipCatalog gazetteer from the configured shapefile
// path, or downloads it into the configured cache dir when no local copy is
// on disk yet.
func loadCatalog(ctx context.Context) (*geo.Catalog, error) {
	var population map[string]int
	if cfg.Geo.PopulationCSV != "" {
		pop, err := geo.LoadPopulationCSV(cfg.Geo.PopulationCSV)
		if err != nil {
			return nil, eris.Wrap(err, "load population csv")
		}
		population = pop
	}

	if cfg.Geo.ShapefilePath != "" {
		return geo.LoadShapefile(cfg.Geo.ShapefilePath, population)
	}
	zap.L().Warn("geo.shapefile_path not set, downloading ZCTA shapefile at startup",
		zap.String("url", cfg.Geo.ShapefileURL))
	return geo.DownloadAndLoad(ctx, http.DefaultClient, cfg.Geo.ShapefileURL, cfg.Geo.CacheDir, population)
}

// productFromConfig builds the Writer's Product description. In a fuller
// deployment this would come from campaign-specific onboarding data; for now
// it is sourced from environment-level config defaults.
func productFromConfig() writer.Product {
	return writer.Product{
		OrgName:     "Sells Group",
		Description: "local-business growth services",
	}
}
