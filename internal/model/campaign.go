// Package model defines the campaign-execution engine's persisted entities.
// Types here are plain structs with json tags; the store layer owns schema
// and uniqueness enforcement, these are the in-process shape of a row.
package model

import "time"

// CoverageProfile controls how many ZIPs a campaign targets and how tightly
// they are packed.
type CoverageProfile string

const (
	ProfileBudget     CoverageProfile = "budget"
	ProfileBalanced   CoverageProfile = "balanced"
	ProfileAggressive CoverageProfile = "aggressive"
	ProfileCustom     CoverageProfile = "custom"
)

// CampaignStatus is the campaign lifecycle state.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusFailed    CampaignStatus = "failed"
)

// ServiceCosts accumulates per-service spend for a campaign.
type ServiceCosts struct {
	MapScrapingUSD        float64 `json:"map_scraping_usd"`
	SocialEnrichmentUSD   float64 `json:"social_enrichment_usd"`
	ProfessionalUSD       float64 `json:"professional_usd"`
	EmailVerificationUSD  float64 `json:"email_verification_usd"`
	LLMUSD                float64 `json:"llm_usd"`
}

// Total returns the sum of all per-service accumulators.
func (c ServiceCosts) Total() float64 {
	return c.MapScrapingUSD + c.SocialEnrichmentUSD + c.ProfessionalUSD + c.EmailVerificationUSD + c.LLMUSD
}

// Campaign is the unit of orchestration: one (location, keywords) target
// moving through discovery, enrichment, and copy generation. Exactly one
// executor may hold Status == running at a time.
type Campaign struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"org_id"`
	Name           string          `json:"name"`
	Location       string          `json:"location"`
	Keywords       []string        `json:"keywords"`
	Profile        CoverageProfile `json:"profile"`
	Status         CampaignStatus  `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Template       string          `json:"template,omitempty"` // explicit writer template, empty = auto

	BusinessesFound int `json:"businesses_found"`
	EmailsFound     int `json:"emails_found"`
	SocialPagesFound int `json:"social_pages_found"`

	EstimatedCostUSD float64      `json:"estimated_cost_usd"`
	Costs            ServiceCosts `json:"costs"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// CoverageCell is a (campaign, ZIP) pair scraped by Phase 1. Immutable once
// ScrapedAt is set.
type CoverageCell struct {
	CampaignID        string     `json:"campaign_id"`
	Zip               string     `json:"zip"`
	Keywords          []string   `json:"keywords"`
	MaxResults        int        `json:"max_results"`
	EstimatedBusinesses int      `json:"estimated_businesses"`
	DensityScore      float64    `json:"density_score"`
	RelevanceScore    float64    `json:"relevance_score"`
	BusinessesFound   int        `json:"businesses_found"`
	EmailsFound       int        `json:"emails_found"`
	CostUSD           float64    `json:"cost_usd"`
	ScrapedAt         *time.Time `json:"scraped_at,omitempty"`
}

// Scraped reports whether the cell has already been processed by Phase 1 —
// used by the idempotent-rerun check ("enrichment-row presence => skip").
func (c CoverageCell) Scraped() bool { return c.ScrapedAt != nil }
