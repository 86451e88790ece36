// Package repository persists campaigns, coverage cells, businesses, and
// enrichment results. The default backend is an embedded SQLite database;
// a Postgres backend lives behind the "integration" build tag for
// multi-worker deployments.
package repository

import (
	"context"
	"time"

	"github.com/sells-group/leadgen-engine/internal/model"
)

// Repository defines the persistence interface for the lead-generation
// pipeline. Every write is idempotent on its natural key so PipelineExecutor
// can safely retry a phase without double-counting.
type Repository interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, errMsg string) error
	UpdateCampaignHeartbeat(ctx context.Context, id string) error
	UpdateCampaignCounts(ctx context.Context, id string, businesses, emails, socialPages int) error
	CompleteCampaign(ctx context.Context, id string) error

	// Coverage cells
	UpsertCoverageCells(ctx context.Context, cells []model.CoverageCell) error
	UpdateCoverageStatus(ctx context.Context, campaignID, zip string, businesses, emails int, cost float64) error
	ListCoverageCells(ctx context.Context, campaignID string) ([]model.CoverageCell, error)

	// Businesses — UpsertBusinesses is idempotent on (campaign_id, place_id).
	UpsertBusinesses(ctx context.Context, campaignID string, businesses []model.Business) (int, error)
	GetBusinessesForSocialEnrichment(ctx context.Context, campaignID string) ([]model.Business, error)
	GetBusinessesForProfessionalEnrichment(ctx context.Context, campaignID string) ([]model.Business, error)
	GetBusinessesNeedingCopy(ctx context.Context, campaignID string) ([]model.Business, error)
	SaveSocialEnrichment(ctx context.Context, businessID string, enrichment model.FacebookEnrichment) error
	SaveProfessionalEnrichment(ctx context.Context, businessID string, enrichment model.LinkedInEnrichment) error
	UpdateEmailVerification(ctx context.Context, businessID string, v model.EmailVerification) error
	SaveWriterCopy(ctx context.Context, businessID string, copy model.CopyResult) error
	CountBusinessesWithEmail(ctx context.Context, campaignID string) (int, error)

	// Cost tracking
	TrackApiCost(ctx context.Context, campaignID, service string, amountUSD float64, units int) error

	// Master leads materialized view
	RefreshMasterLeads(ctx context.Context, campaignID string) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// timeNow exists so tests can freeze time without faking the clock globally.
var timeNow = func() time.Time { return time.Now().UTC() }
