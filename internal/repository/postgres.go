//go:build integration

package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-engine/internal/db"
	"github.com/sells-group/leadgen-engine/internal/model"
)

// PostgresRepository implements Repository over a pgxpool.Pool, for
// multi-worker deployments where several executors share one database.
type PostgresRepository struct {
	pool db.Pool
}

// NewPostgres opens a connection pool and verifies it's reachable.
func NewPostgres(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresRepository{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id              TEXT NOT NULL,
	name                TEXT NOT NULL,
	location            TEXT NOT NULL,
	keywords            JSONB NOT NULL,
	profile             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'draft',
	error_message       TEXT,
	template            TEXT,
	businesses_found    INTEGER NOT NULL DEFAULT 0,
	emails_found        INTEGER NOT NULL DEFAULT 0,
	social_pages_found  INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	costs               JSONB NOT NULL DEFAULT '{}',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	last_heartbeat      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

CREATE TABLE IF NOT EXISTS coverage_cells (
	campaign_id          TEXT NOT NULL REFERENCES campaigns(id),
	zip                  TEXT NOT NULL,
	keywords             JSONB NOT NULL DEFAULT '[]',
	max_results          INTEGER NOT NULL DEFAULT 0,
	estimated_businesses INTEGER NOT NULL DEFAULT 0,
	density_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	businesses_found     INTEGER NOT NULL DEFAULT 0,
	emails_found         INTEGER NOT NULL DEFAULT 0,
	cost_usd             DOUBLE PRECISION NOT NULL DEFAULT 0,
	scraped_at           TIMESTAMPTZ,
	PRIMARY KEY (campaign_id, zip)
);

CREATE TABLE IF NOT EXISTS businesses (
	id                              TEXT PRIMARY KEY,
	campaign_id                     TEXT NOT NULL REFERENCES campaigns(id),
	place_id                        TEXT NOT NULL,
	name                            TEXT NOT NULL,
	address                         JSONB NOT NULL DEFAULT '{}',
	phone                           TEXT,
	website                         TEXT,
	categories                      JSONB NOT NULL DEFAULT '[]',
	rating                          DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count                    INTEGER NOT NULL DEFAULT 0,
	hours                           JSONB NOT NULL DEFAULT '{}',
	facebook_url                    TEXT,
	instagram_url                   TEXT,
	linkedin_url                    TEXT,
	email                           TEXT,
	email_source                    TEXT NOT NULL DEFAULT 'not_found',
	flags                           JSONB NOT NULL DEFAULT '{}',
	booking_url                     TEXT,
	review_distribution_pct         JSONB NOT NULL DEFAULT '{}',
	sentiment_tags                  JSONB NOT NULL DEFAULT '[]',
	competitors                     JSONB NOT NULL DEFAULT '[]',
	contact                         JSONB,
	needs_enrichment                BOOLEAN NOT NULL DEFAULT true,
	social_enrichment_status        TEXT,
	professional_enrichment_status  TEXT,
	copy                            JSONB,
	UNIQUE (campaign_id, place_id)
);

CREATE INDEX IF NOT EXISTS idx_businesses_campaign ON businesses(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_facebook_url ON businesses(facebook_url);

CREATE TABLE IF NOT EXISTS facebook_enrichments (
	id                  TEXT PRIMARY KEY,
	business_id         TEXT NOT NULL REFERENCES businesses(id),
	campaign_id         TEXT NOT NULL,
	url                 TEXT NOT NULL,
	page_name           TEXT,
	likes               INTEGER NOT NULL DEFAULT 0,
	followers           INTEGER NOT NULL DEFAULT 0,
	found_emails        JSONB NOT NULL DEFAULT '[]',
	primary_email       TEXT,
	phone               TEXT,
	address             TEXT,
	verification_status TEXT,
	verification_score  INTEGER NOT NULL DEFAULT 0,
	risk_flags          JSONB NOT NULL DEFAULT '{}',
	raw_response        JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS linkedin_enrichments (
	id                  TEXT PRIMARY KEY,
	business_id         TEXT NOT NULL REFERENCES businesses(id),
	campaign_id         TEXT NOT NULL,
	profile_url         TEXT NOT NULL,
	profile_type        TEXT NOT NULL DEFAULT 'company',
	pulled_fields       JSONB,
	found_emails        JSONB NOT NULL DEFAULT '[]',
	generated_patterns  JSONB NOT NULL DEFAULT '[]',
	primary_email       TEXT,
	email_quality_tier  INTEGER NOT NULL DEFAULT 0,
	phone_numbers       JSONB NOT NULL DEFAULT '[]',
	contact             JSONB,
	verification_status TEXT,
	verification_score  INTEGER NOT NULL DEFAULT 0,
	risk_flags          JSONB NOT NULL DEFAULT '{}',
	raw_response        JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS email_verifications (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL REFERENCES businesses(id),
	campaign_id TEXT NOT NULL,
	email       TEXT NOT NULL,
	source      TEXT NOT NULL,
	result      JSONB NOT NULL,
	verified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_costs (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	service     TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS master_leads (
	place_id      TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	email_source  TEXT NOT NULL,
	campaign_ids  JSONB NOT NULL DEFAULT '[]',
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ping implements Repository.
func (s *PostgresRepository) Ping(ctx context.Context) error {
	return s.pool.(*pgxpool.Pool).Ping(ctx)
}

// Migrate implements Repository.
func (s *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Repository.
func (s *PostgresRepository) Close() error {
	s.pool.(*pgxpool.Pool).Close()
	return nil
}

// CreateCampaign implements Repository.
func (s *PostgresRepository) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = timeNow()
	}
	keywordsJSON, err := json.Marshal(c.Keywords)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal keywords")
	}
	costsJSON, err := json.Marshal(c.Costs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal costs")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, org_id, name, location, keywords, profile, status, template,
			estimated_cost_usd, costs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.OrgID, c.Name, c.Location, keywordsJSON, string(c.Profile), string(c.Status),
		c.Template, c.EstimatedCostUSD, costsJSON, c.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert campaign")
	}
	return &c, nil
}

// GetCampaign implements Repository.
func (s *PostgresRepository) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	var keywordsJSON, costsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, location, keywords, profile, status, error_message, template,
			businesses_found, emails_found, social_pages_found, estimated_cost_usd, costs,
			created_at, started_at, completed_at, last_heartbeat
		 FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Location, &keywordsJSON, &c.Profile, &c.Status,
		&c.ErrorMessage, &c.Template, &c.BusinessesFound, &c.EmailsFound, &c.SocialPagesFound,
		&c.EstimatedCostUSD, &costsJSON, &c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.LastHeartbeat)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}

	if err := json.Unmarshal(keywordsJSON, &c.Keywords); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal keywords")
	}
	if err := json.Unmarshal(costsJSON, &c.Costs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal costs")
	}
	return &c, nil
}

// UpdateCampaignStatus implements Repository.
func (s *PostgresRepository) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, errMsg string) error {
	var tag pgconnCommandTag
	var err error
	if status == model.StatusRunning {
		tag, err = s.pool.Exec(ctx,
			`UPDATE campaigns SET status = $1, error_message = $2, started_at = COALESCE(started_at, $3) WHERE id = $4`,
			string(status), nullIfEmpty(errMsg), timeNow(), id)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE campaigns SET status = $1, error_message = $2 WHERE id = $3`,
			string(status), nullIfEmpty(errMsg), id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign status %s", id)
	}
	return checkPgRowsAffected(tag, "campaign", id)
}

// UpdateCampaignHeartbeat implements Repository.
func (s *PostgresRepository) UpdateCampaignHeartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE campaigns SET last_heartbeat = $1 WHERE id = $2`, timeNow(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: heartbeat campaign %s", id)
	}
	return checkPgRowsAffected(tag, "campaign", id)
}

// UpdateCampaignCounts implements Repository.
func (s *PostgresRepository) UpdateCampaignCounts(ctx context.Context, id string, businesses, emails, socialPages int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET businesses_found = $1, emails_found = $2, social_pages_found = $3 WHERE id = $4`,
		businesses, emails, socialPages, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign counts %s", id)
	}
	return checkPgRowsAffected(tag, "campaign", id)
}

// CompleteCampaign implements Repository.
func (s *PostgresRepository) CompleteCampaign(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1, completed_at = $2 WHERE id = $3`,
		string(model.StatusCompleted), timeNow(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete campaign %s", id)
	}
	return checkPgRowsAffected(tag, "campaign", id)
}

// UpsertCoverageCells implements Repository.
func (s *PostgresRepository) UpsertCoverageCells(ctx context.Context, cells []model.CoverageCell) error {
	for _, cell := range cells {
		keywordsJSON, err := json.Marshal(cell.Keywords)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal cell keywords")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO coverage_cells (campaign_id, zip, keywords, max_results, estimated_businesses,
				density_score, relevance_score)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (campaign_id, zip) DO UPDATE SET
				keywords = excluded.keywords, max_results = excluded.max_results,
				estimated_businesses = excluded.estimated_businesses,
				density_score = excluded.density_score, relevance_score = excluded.relevance_score`,
			cell.CampaignID, cell.Zip, keywordsJSON, cell.MaxResults, cell.EstimatedBusinesses,
			cell.DensityScore, cell.RelevanceScore)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert coverage cell %s/%s", cell.CampaignID, cell.Zip)
		}
	}
	return nil
}

// UpdateCoverageStatus implements Repository.
func (s *PostgresRepository) UpdateCoverageStatus(ctx context.Context, campaignID, zip string, businesses, emails int, cost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coverage_cells SET businesses_found = $1, emails_found = $2, cost_usd = $3, scraped_at = $4
		 WHERE campaign_id = $5 AND zip = $6`,
		businesses, emails, cost, timeNow(), campaignID, zip)
	if err != nil {
		return eris.Wrapf(err, "postgres: update coverage status %s/%s", campaignID, zip)
	}
	return checkPgRowsAffected(tag, "coverage_cell", campaignID+"/"+zip)
}

// ListCoverageCells implements Repository.
func (s *PostgresRepository) ListCoverageCells(ctx context.Context, campaignID string) ([]model.CoverageCell, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT campaign_id, zip, keywords, max_results, estimated_businesses, density_score,
			relevance_score, businesses_found, emails_found, cost_usd, scraped_at
		 FROM coverage_cells WHERE campaign_id = $1 ORDER BY zip`, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list coverage cells")
	}
	defer rows.Close()

	var out []model.CoverageCell
	for rows.Next() {
		var c model.CoverageCell
		var keywordsJSON []byte
		if err := rows.Scan(&c.CampaignID, &c.Zip, &keywordsJSON, &c.MaxResults, &c.EstimatedBusinesses,
			&c.DensityScore, &c.RelevanceScore, &c.BusinessesFound, &c.EmailsFound, &c.CostUSD, &c.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coverage cell")
		}
		if err := json.Unmarshal(keywordsJSON, &c.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cell keywords")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBusinesses implements Repository via internal/db's bulk COPY +
// ON CONFLICT upsert helper, since Postgres deployments expect to move
// hundreds of rows per map-scraper batch.
func (s *PostgresRepository) UpsertBusinesses(ctx context.Context, campaignID string, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "campaign_id", "place_id", "name", "address", "phone", "website", "categories",
		"rating", "review_count", "hours", "facebook_url", "instagram_url", "linkedin_url", "email",
		"email_source", "flags", "booking_url", "review_distribution_pct", "sentiment_tags",
		"competitors", "needs_enrichment",
	}

	rows := make([][]any, 0, len(businesses))
	for _, b := range businesses {
		if b.ID == "" {
			b.ID = model.NewID()
		}
		b.CampaignID = campaignID
		cols, err := marshalBusinessColumns(b)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			b.ID, b.CampaignID, b.PlaceID, b.Name, cols.address, b.Phone, b.Website, cols.categories,
			b.Rating, b.ReviewCount, cols.hours, b.FacebookURL, b.InstagramURL, b.LinkedInURL, b.Email,
			string(b.EmailSource), cols.flags, b.BookingURL, cols.reviewDist, cols.sentiment,
			cols.competitors, b.NeedsEnrichment,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "businesses",
		Columns:      columns,
		ConflictKeys: []string{"campaign_id", "place_id"},
		UpdateCols: []string{
			"name", "address", "phone", "website", "categories", "rating", "review_count", "hours",
			"facebook_url", "instagram_url", "linkedin_url", "flags", "booking_url",
			"review_distribution_pct", "sentiment_tags", "competitors",
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk upsert businesses")
	}
	return int(n), nil
}

// GetBusinessesForSocialEnrichment implements Repository.
func (s *PostgresRepository) GetBusinessesForSocialEnrichment(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = $1 AND facebook_url IS NOT NULL AND facebook_url != ''
			AND (social_enrichment_status IS NULL OR social_enrichment_status = '')`,
		campaignID)
}

// GetBusinessesForProfessionalEnrichment implements Repository.
func (s *PostgresRepository) GetBusinessesForProfessionalEnrichment(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = $1 AND (email IS NULL OR email = '')
			AND (professional_enrichment_status IS NULL OR professional_enrichment_status = '')`,
		campaignID)
}

// GetBusinessesNeedingCopy implements Repository.
func (s *PostgresRepository) GetBusinessesNeedingCopy(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = $1 AND email IS NOT NULL AND email != '' AND copy IS NULL`,
		campaignID)
}

func (s *PostgresRepository) queryBusinesses(ctx context.Context, query string, args ...any) ([]model.Business, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query businesses")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanPgBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanPgBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	var addressJSON, categoriesJSON, hoursJSON, flagsJSON, reviewDistJSON, sentimentJSON, competitorsJSON []byte
	var contactJSON, copyJSON []byte

	err := row.Scan(&b.ID, &b.CampaignID, &b.PlaceID, &b.Name, &addressJSON, &b.Phone, &b.Website,
		&categoriesJSON, &b.Rating, &b.ReviewCount, &hoursJSON, &b.FacebookURL, &b.InstagramURL, &b.LinkedInURL,
		&b.Email, &b.EmailSource, &flagsJSON, &b.BookingURL, &reviewDistJSON, &sentimentJSON, &competitorsJSON,
		&contactJSON, &b.NeedsEnrichment, &b.SocialEnrichmentStatus, &b.ProfessionalEnrichmentStatus, &copyJSON)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan business")
	}

	if err := json.Unmarshal(addressJSON, &b.Address); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal address")
	}
	if err := json.Unmarshal(categoriesJSON, &b.Categories); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal categories")
	}
	if err := json.Unmarshal(hoursJSON, &b.Hours); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hours")
	}
	if err := json.Unmarshal(flagsJSON, &b.Flags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flags")
	}
	if err := json.Unmarshal(reviewDistJSON, &b.ReviewDistributionPct); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal review distribution")
	}
	if err := json.Unmarshal(sentimentJSON, &b.SentimentTags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sentiment tags")
	}
	if err := json.Unmarshal(competitorsJSON, &b.Competitors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal competitors")
	}
	if len(contactJSON) > 0 {
		var contact model.ContactName
		if err := json.Unmarshal(contactJSON, &contact); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contact")
		}
		b.Contact = &contact
	}
	if len(copyJSON) > 0 {
		var cp model.CopyResult
		if err := json.Unmarshal(copyJSON, &cp); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal copy")
		}
		b.Copy = &cp
	}
	return &b, nil
}

// SaveSocialEnrichment implements Repository.
func (s *PostgresRepository) SaveSocialEnrichment(ctx context.Context, businessID string, e model.FacebookEnrichment) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}
	foundEmailsJSON, _ := json.Marshal(orEmptySlice(e.FoundEmails))
	riskJSON, err := json.Marshal(e.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk flags")
	}
	var rawJSON []byte
	if e.RawResponse != nil {
		rawJSON, err = json.Marshal(e.RawResponse)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal raw response")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO facebook_enrichments (id, business_id, campaign_id, url, page_name, likes, followers,
			found_emails, primary_email, phone, address, verification_status, verification_score, risk_flags,
			raw_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, businessID, e.CampaignID, e.URL, nullIfEmpty(e.PageName), e.Likes, e.Followers,
		foundEmailsJSON, nullIfEmpty(e.PrimaryEmail), nullIfEmpty(e.Phone), nullIfEmpty(e.Address),
		nullIfEmpty(string(e.VerificationStatus)), e.VerificationScore, riskJSON, nullableJSON(rawJSON), e.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert facebook enrichment for %s", businessID)
	}

	tag, err := tx.Exec(ctx, `UPDATE businesses SET social_enrichment_status = 'done' WHERE id = $1`, businessID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark social enrichment done for %s", businessID)
	}
	if err := checkPgRowsAffected(tag, "business", businessID); err != nil {
		return err
	}

	if e.PrimaryEmail != "" {
		var currentSource string
		if err := tx.QueryRow(ctx, `SELECT email_source FROM businesses WHERE id = $1`, businessID).Scan(&currentSource); err != nil {
			return eris.Wrap(err, "postgres: read current email source")
		}
		if model.PromoteEmail(model.EmailSource(currentSource), model.EmailSourceFacebook) {
			if _, err := tx.Exec(ctx,
				`UPDATE businesses SET email = $1, email_source = $2 WHERE id = $3`,
				e.PrimaryEmail, string(model.EmailSourceFacebook), businessID); err != nil {
				return eris.Wrapf(err, "postgres: promote facebook email for %s", businessID)
			}
		}
	}

	return tx.Commit(ctx)
}

// SaveProfessionalEnrichment implements Repository.
func (s *PostgresRepository) SaveProfessionalEnrichment(ctx context.Context, businessID string, e model.LinkedInEnrichment) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}
	foundEmailsJSON, _ := json.Marshal(orEmptySlice(e.FoundEmails))
	patternsJSON, _ := json.Marshal(orEmptySlice(e.GeneratedPatterns))
	phonesJSON, _ := json.Marshal(orEmptySlice(e.PhoneNumbers))
	riskJSON, err := json.Marshal(e.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk flags")
	}
	var contactJSON, pulledJSON, rawJSON []byte
	if e.Contact != nil {
		contactJSON, err = json.Marshal(e.Contact)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal contact")
		}
	}
	if e.PulledFields != nil {
		pulledJSON, err = json.Marshal(e.PulledFields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal pulled fields")
		}
	}
	if e.RawResponse != nil {
		rawJSON, err = json.Marshal(e.RawResponse)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal raw response")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO linkedin_enrichments (id, business_id, campaign_id, profile_url, profile_type,
			pulled_fields, found_emails, generated_patterns, primary_email, email_quality_tier,
			phone_numbers, contact, verification_status, verification_score, risk_flags, raw_response,
			created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, businessID, e.CampaignID, e.ProfileURL, e.ProfileType, nullableJSON(pulledJSON),
		foundEmailsJSON, patternsJSON, nullIfEmpty(e.PrimaryEmail), int(e.EmailQualityTier),
		phonesJSON, nullableJSON(contactJSON), nullIfEmpty(string(e.VerificationStatus)),
		e.VerificationScore, riskJSON, nullableJSON(rawJSON), e.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert linkedin enrichment for %s", businessID)
	}

	tag, err := tx.Exec(ctx, `UPDATE businesses SET professional_enrichment_status = 'done' WHERE id = $1`, businessID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark professional enrichment done for %s", businessID)
	}
	if err := checkPgRowsAffected(tag, "business", businessID); err != nil {
		return err
	}

	if e.PrimaryEmail != "" {
		var currentSource string
		if err := tx.QueryRow(ctx, `SELECT email_source FROM businesses WHERE id = $1`, businessID).Scan(&currentSource); err != nil {
			return eris.Wrap(err, "postgres: read current email source")
		}
		candidateSource := model.EmailSourceLinkedInPattern
		if e.EmailQualityTier == model.TierLinkedInVerified {
			candidateSource = model.EmailSourceLinkedInVerified
		}
		if model.PromoteEmail(model.EmailSource(currentSource), candidateSource) {
			if _, err := tx.Exec(ctx,
				`UPDATE businesses SET email = $1, email_source = $2 WHERE id = $3`,
				e.PrimaryEmail, string(candidateSource), businessID); err != nil {
				return eris.Wrapf(err, "postgres: promote linkedin email for %s", businessID)
			}
		}
	}

	return tx.Commit(ctx)
}

// UpdateEmailVerification implements Repository: logs the verification
// attempt. The verdict is recorded only on the verification row — an
// undeliverable or low-score result never clears the business's email or
// email_source (spec §8 scenario #4: having an email and having a safe
// email are different facts, and CountBusinessesWithEmail counts the
// former).
func (s *PostgresRepository) UpdateEmailVerification(ctx context.Context, businessID string, v model.EmailVerification) error {
	if v.ID == "" {
		v.ID = model.NewID()
	}
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = timeNow()
	}
	resultJSON, err := json.Marshal(v.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verification result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO email_verifications (id, business_id, campaign_id, email, source, result, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, businessID, v.CampaignID, v.Email, string(v.Source), resultJSON, v.VerifiedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: log verification for %s", businessID)
	}
	return nil
}

// SaveWriterCopy implements Repository.
func (s *PostgresRepository) SaveWriterCopy(ctx context.Context, businessID string, copy model.CopyResult) error {
	copyJSON, err := json.Marshal(copy)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal copy")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE businesses SET copy = $1 WHERE id = $2`, copyJSON, businessID)
	if err != nil {
		return eris.Wrapf(err, "postgres: save writer copy for %s", businessID)
	}
	return checkPgRowsAffected(tag, "business", businessID)
}

// CountBusinessesWithEmail implements Repository: the authoritative,
// re-derived-from-source-of-truth count PipelineExecutor trusts over its
// own running tallies (spec §4.6 invariant). Unions direct business emails
// with social/professional enrichment rows carrying a primary email, since
// a verifier downgrade never clears the business row and a promoted email
// can originate from either enrichment table.
func (s *PostgresRepository) CountBusinessesWithEmail(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM businesses WHERE campaign_id = $1 AND email IS NOT NULL AND email != ''
			UNION
			SELECT business_id FROM facebook_enrichments WHERE campaign_id = $1 AND primary_email IS NOT NULL AND primary_email != ''
			UNION
			SELECT business_id FROM linkedin_enrichments WHERE campaign_id = $1 AND primary_email IS NOT NULL AND primary_email != ''
		) t`,
		campaignID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count businesses with email")
	}
	return n, nil
}

// TrackApiCost implements Repository.
func (s *PostgresRepository) TrackApiCost(ctx context.Context, campaignID, service string, amountUSD float64, units int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO api_costs (id, campaign_id, service, items, cost_usd, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		model.NewID(), campaignID, service, units, amountUSD, timeNow())
	if err != nil {
		return eris.Wrap(err, "postgres: insert api cost")
	}

	column, ok := costColumnFor(service)
	if !ok {
		return tx.Commit(ctx)
	}
	query := `UPDATE campaigns SET costs = jsonb_set(costs, '{` + column + `}',
		to_jsonb(COALESCE((costs->>'` + column + `')::float, 0) + $1::float)) WHERE id = $2`
	if _, err := tx.Exec(ctx, query, amountUSD, campaignID); err != nil {
		return eris.Wrapf(err, "postgres: accumulate cost for campaign %s", campaignID)
	}
	return tx.Commit(ctx)
}

// RefreshMasterLeads implements Repository.
func (s *PostgresRepository) RefreshMasterLeads(ctx context.Context, campaignID string) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT place_id, name, email, email_source FROM businesses
		 WHERE campaign_id = $1 AND email IS NOT NULL AND email != ''`, campaignID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: query businesses for master leads")
	}

	type row struct{ placeID, name, email, source string }
	var leads []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.placeID, &r.name, &r.email, &r.source); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "postgres: scan master lead candidate")
		}
		leads = append(leads, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var touched int
	for _, l := range leads {
		var existingJSON []byte
		err := tx.QueryRow(ctx, `SELECT campaign_ids FROM master_leads WHERE place_id = $1`, l.placeID).Scan(&existingJSON)
		switch {
		case eris.Is(err, pgx.ErrNoRows):
			campaignIDs, _ := json.Marshal([]string{campaignID})
			if _, err := tx.Exec(ctx,
				`INSERT INTO master_leads (place_id, name, email, email_source, campaign_ids, first_seen_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				l.placeID, l.name, l.email, l.source, campaignIDs, timeNow()); err != nil {
				return touched, eris.Wrapf(err, "postgres: insert master lead %s", l.placeID)
			}
		case err != nil:
			return touched, eris.Wrap(err, "postgres: read existing master lead")
		default:
			var campaignIDs []string
			_ = json.Unmarshal(existingJSON, &campaignIDs)
			if !containsString(campaignIDs, campaignID) {
				campaignIDs = append(campaignIDs, campaignID)
			}
			updated, _ := json.Marshal(campaignIDs)
			if _, err := tx.Exec(ctx,
				`UPDATE master_leads SET campaign_ids = $1, name = $2, email = $3, email_source = $4 WHERE place_id = $5`,
				updated, l.name, l.email, l.source, l.placeID); err != nil {
				return touched, eris.Wrapf(err, "postgres: update master lead %s", l.placeID)
			}
		}
		touched++
	}

	return touched, tx.Commit(ctx)
}

type pgconnCommandTag interface{ RowsAffected() int64 }

func checkPgRowsAffected(tag pgconnCommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
