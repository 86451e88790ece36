// Package cost tracks and calculates API usage costs for each service the
// pipeline calls: the three Apify actor families (billed per 1000 scraped
// items), the email verifier (billed per 1000 verifications), and the LLM
// calls the CoverageAnalyzer and Writer make (billed per token, per model).
package cost

// Rates holds per-service pricing configuration (spec §6 "External service
// pricing").
type Rates struct {
	MapScrapingPer1000      float64
	SocialPer1000           float64
	ProfessionalPer1000     float64
	EmailVerificationPer1000 float64
	Models                  map[string]ModelRate
}

// ModelRate holds per-model LLM token pricing (per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// MapScraping returns the cost of scraping n map-discovery items.
func (c *Calculator) MapScraping(items int) float64 {
	return perThousand(items, c.rates.MapScrapingPer1000)
}

// Social returns the cost of n Facebook-enrichment calls.
func (c *Calculator) Social(items int) float64 {
	return perThousand(items, c.rates.SocialPer1000)
}

// Professional returns the cost of n LinkedIn-enrichment calls.
func (c *Calculator) Professional(items int) float64 {
	return perThousand(items, c.rates.ProfessionalPer1000)
}

// EmailVerification returns the cost of verifying n email addresses.
func (c *Calculator) EmailVerification(items int) float64 {
	return perThousand(items, c.rates.EmailVerificationPer1000)
}

// LLM computes the cost of one LLM call: cost = (tokens/1,000,000) × rate,
// with rates in USD per million tokens keyed by model and direction (spec §6).
func (c *Calculator) LLM(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000)*(rate.Input/1000) + (float64(outputTokens)/1000)*(rate.Output/1000)
}

func perThousand(items int, ratePer1000 float64) float64 {
	return (float64(items) / 1000) * ratePer1000
}

// RatesFromConfig converts config pricing into cost rates, falling back to
// DefaultRates() for any zero-value fields.
func RatesFromConfig(cfg PricingConfig) Rates {
	defaults := DefaultRates()

	rates := defaults
	if cfg.MapScrapingPer1000 > 0 {
		rates.MapScrapingPer1000 = cfg.MapScrapingPer1000
	}
	if cfg.SocialPer1000 > 0 {
		rates.SocialPer1000 = cfg.SocialPer1000
	}
	if cfg.ProfessionalPer1000 > 0 {
		rates.ProfessionalPer1000 = cfg.ProfessionalPer1000
	}
	if cfg.EmailVerificationPer1000 > 0 {
		rates.EmailVerificationPer1000 = cfg.EmailVerificationPer1000
	}

	rates.Models = make(map[string]ModelRate, len(defaults.Models))
	for k, v := range defaults.Models {
		rates.Models[k] = v
	}
	for model, mp := range cfg.Models {
		r := rates.Models[model]
		if mp.Input > 0 {
			r.Input = mp.Input
		}
		if mp.Output > 0 {
			r.Output = mp.Output
		}
		rates.Models[model] = r
	}

	return rates
}

// PricingConfig mirrors config.PricingConfig to avoid an import cycle.
// Used by RatesFromConfig to convert config types into cost types.
type PricingConfig struct {
	MapScrapingPer1000      float64
	SocialPer1000           float64
	ProfessionalPer1000     float64
	EmailVerificationPer1000 float64
	Models                  map[string]ModelPricing
}

// ModelPricing mirrors config.ModelPricing.
type ModelPricing struct {
	Input  float64
	Output float64
}

// DefaultRates returns the default pricing rates (spec §6).
func DefaultRates() Rates {
	return Rates{
		MapScrapingPer1000:       4.00,
		SocialPer1000:            10.00,
		ProfessionalPer1000:      10.00,
		EmailVerificationPer1000: 2.00,
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
