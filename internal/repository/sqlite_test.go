package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-engine/internal/model"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testCampaign(id string) model.Campaign {
	return model.Campaign{
		ID:       id,
		OrgID:    "org-1",
		Name:     "Plumbers in Austin",
		Location: "Austin, TX",
		Keywords: []string{"plumber"},
		Profile:  model.ProfileBalanced,
	}
}

func TestCreateAndGetCampaign(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, created.Status)

	got, err := repo.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "Plumbers in Austin", got.Name)
	assert.Equal(t, []string{"plumber"}, got.Keywords)
}

func TestGetCampaignNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetCampaign(context.Background(), "missing")
	assert.Error(t, err)
}

func TestUpdateCampaignStatusSetsStartedAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateCampaignStatus(ctx, "camp-1", model.StatusRunning, ""))

	got, err := repo.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestUpdateCampaignHeartbeat(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateCampaignHeartbeat(ctx, "camp-1"))

	got, err := repo.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
}

func TestUpsertBusinessesIsIdempotentOnPlaceID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	b := model.Business{PlaceID: "place-1", Name: "Joe's Plumbing", NeedsEnrichment: true}
	n, err := repo.UpsertBusinesses(ctx, "camp-1", []model.Business{b})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b.Name = "Joe's Plumbing & Heating"
	n, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{b})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := repo.GetBusinessesForProfessionalEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Joe's Plumbing & Heating", rows[0].Name)
}

func TestGetBusinessesForSocialEnrichmentFiltersOnFacebookURL(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	withFB := model.Business{PlaceID: "place-1", Name: "A", FacebookURL: "https://www.facebook.com/a"}
	withoutFB := model.Business{PlaceID: "place-2", Name: "B"}
	_, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{withFB, withoutFB})
	require.NoError(t, err)

	rows, err := repo.GetBusinessesForSocialEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "place-1", rows[0].PlaceID)
}

func TestSaveSocialEnrichmentPromotesEmail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	b := model.Business{PlaceID: "place-1", Name: "A", FacebookURL: "https://www.facebook.com/a"}
	_, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{b})
	require.NoError(t, err)

	rows, err := repo.GetBusinessesForSocialEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	businessID := rows[0].ID

	err = repo.SaveSocialEnrichment(ctx, businessID, model.FacebookEnrichment{
		CampaignID:   "camp-1",
		URL:          "https://www.facebook.com/a",
		PrimaryEmail: "contact@a.com",
	})
	require.NoError(t, err)

	count, err := repo.CountBusinessesWithEmail(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveSocialEnrichmentDoesNotDowngradeHigherPrioritySource(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	b := model.Business{
		PlaceID:     "place-1",
		Name:        "A",
		FacebookURL: "https://www.facebook.com/a",
		Email:       "verified@a.com",
		EmailSource: model.EmailSourceLinkedInVerified,
	}
	_, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{b})
	require.NoError(t, err)

	rows, err := repo.GetBusinessesForSocialEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	err = repo.SaveSocialEnrichment(ctx, rows[0].ID, model.FacebookEnrichment{
		CampaignID:   "camp-1",
		URL:          "https://www.facebook.com/a",
		PrimaryEmail: "facebook@a.com",
	})
	require.NoError(t, err)

	updated, err := repo.GetBusinessesForProfessionalEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	// professional enrichment query excludes businesses that already have an
	// email, so zero rows confirms an email is still on file; the direct read
	// below confirms it is the LinkedIn-verified one.
	assert.Empty(t, updated)

	var email string
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT email FROM businesses WHERE id = ?`, rows[0].ID).Scan(&email))
	assert.Equal(t, "verified@a.com", email)
}

func TestTrackApiCostAccumulatesOnCampaign(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	require.NoError(t, repo.TrackApiCost(ctx, "camp-1", "apify_maps", 4.0, 1000))
	require.NoError(t, repo.TrackApiCost(ctx, "camp-1", "apify_maps", 2.0, 500))

	got, err := repo.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, got.Costs.MapScrapingUSD, 0.001)
}

func TestUpsertAndListCoverageCells(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	cell := model.CoverageCell{CampaignID: "camp-1", Zip: "78701", Keywords: []string{"plumber"}, MaxResults: 100}
	require.NoError(t, repo.UpsertCoverageCells(ctx, []model.CoverageCell{cell}))

	require.NoError(t, repo.UpdateCoverageStatus(ctx, "camp-1", "78701", 10, 3, 4.5))

	cells, err := repo.ListCoverageCells(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.True(t, cells[0].Scraped())
	assert.Equal(t, 10, cells[0].BusinessesFound)
}

func TestRefreshMasterLeadsMergesAcrossCampaigns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)
	_, err = repo.CreateCampaign(ctx, testCampaign("camp-2"))
	require.NoError(t, err)

	shared := model.Business{PlaceID: "place-shared", Name: "Shared Co", Email: "x@shared.com", EmailSource: model.EmailSourceGoogleMaps}
	_, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{shared})
	require.NoError(t, err)
	_, err = repo.UpsertBusinesses(ctx, "camp-2", []model.Business{shared})
	require.NoError(t, err)

	n, err := repo.RefreshMasterLeads(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.RefreshMasterLeads(ctx, "camp-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateEmailVerificationKeepsEmailOnUndeliverable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateCampaign(ctx, testCampaign("camp-1"))
	require.NoError(t, err)

	b := model.Business{PlaceID: "place-1", Name: "A", Email: "bad@nowhere.com", EmailSource: model.EmailSourceGoogleMaps}
	_, err = repo.UpsertBusinesses(ctx, "camp-1", []model.Business{b})
	require.NoError(t, err)

	rows, err := repo.GetBusinessesForProfessionalEnrichment(ctx, "camp-1")
	require.NoError(t, err)
	// The business already has an email so it's excluded; fetch directly
	// by counting instead.
	countBefore, err := repo.CountBusinessesWithEmail(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, countBefore)
	_ = rows

	businessID := mustBusinessID(t, repo, "camp-1", "place-1")
	err = repo.UpdateEmailVerification(ctx, businessID, model.EmailVerification{
		CampaignID: "camp-1",
		Email:      "bad@nowhere.com",
		Source:     model.SourceGoogleMaps,
		Result:     model.VerificationResult{Email: "bad@nowhere.com", Status: model.VerificationUndeliverable, Score: 5},
	})
	require.NoError(t, err)

	// An undeliverable verdict is logged but never clears the business's
	// email — having an email and having a safe email are different facts
	// (spec §8 scenario #4).
	countAfter, err := repo.CountBusinessesWithEmail(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, countAfter)
}

func mustBusinessID(t *testing.T, repo *SQLiteRepository, campaignID, placeID string) string {
	t.Helper()
	rows, err := repo.queryBusinesses(context.Background(),
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses WHERE campaign_id = ? AND place_id = ?`, campaignID, placeID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].ID
}
