package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/sells-group/leadgen-engine/internal/model"
)

// SQLiteRepository implements Repository using modernc.org/sqlite. It is the
// default backend: single-binary deployments need nothing external.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode so
// PipelineExecutor's concurrent phases don't serialize on a single writer
// lock more than necessary.
func NewSQLite(dsn string) (*SQLiteRepository, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(10)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}

	return &SQLiteRepository{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                  TEXT PRIMARY KEY,
	org_id              TEXT NOT NULL,
	name                TEXT NOT NULL,
	location            TEXT NOT NULL,
	keywords            TEXT NOT NULL,
	profile             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'draft',
	error_message       TEXT,
	template            TEXT,
	businesses_found    INTEGER NOT NULL DEFAULT 0,
	emails_found        INTEGER NOT NULL DEFAULT 0,
	social_pages_found  INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd  REAL NOT NULL DEFAULT 0,
	costs               TEXT NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at          DATETIME,
	completed_at        DATETIME,
	last_heartbeat      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_campaigns_org ON campaigns(org_id);

CREATE TABLE IF NOT EXISTS coverage_cells (
	campaign_id          TEXT NOT NULL REFERENCES campaigns(id),
	zip                  TEXT NOT NULL,
	keywords             TEXT NOT NULL DEFAULT '[]',
	max_results          INTEGER NOT NULL DEFAULT 0,
	estimated_businesses INTEGER NOT NULL DEFAULT 0,
	density_score        REAL NOT NULL DEFAULT 0,
	relevance_score      REAL NOT NULL DEFAULT 0,
	businesses_found     INTEGER NOT NULL DEFAULT 0,
	emails_found         INTEGER NOT NULL DEFAULT 0,
	cost_usd             REAL NOT NULL DEFAULT 0,
	scraped_at           DATETIME,
	PRIMARY KEY (campaign_id, zip)
);

CREATE TABLE IF NOT EXISTS businesses (
	id                              TEXT PRIMARY KEY,
	campaign_id                     TEXT NOT NULL REFERENCES campaigns(id),
	place_id                        TEXT NOT NULL,
	name                            TEXT NOT NULL,
	address                         TEXT NOT NULL DEFAULT '{}',
	phone                           TEXT,
	website                         TEXT,
	categories                      TEXT NOT NULL DEFAULT '[]',
	rating                          REAL NOT NULL DEFAULT 0,
	review_count                    INTEGER NOT NULL DEFAULT 0,
	hours                           TEXT NOT NULL DEFAULT '{}',
	facebook_url                    TEXT,
	instagram_url                   TEXT,
	linkedin_url                    TEXT,
	email                           TEXT,
	email_source                    TEXT NOT NULL DEFAULT 'not_found',
	flags                           TEXT NOT NULL DEFAULT '{}',
	booking_url                     TEXT,
	review_distribution_pct         TEXT NOT NULL DEFAULT '{}',
	sentiment_tags                  TEXT NOT NULL DEFAULT '[]',
	competitors                     TEXT NOT NULL DEFAULT '[]',
	contact                         TEXT,
	needs_enrichment                INTEGER NOT NULL DEFAULT 1,
	social_enrichment_status        TEXT,
	professional_enrichment_status  TEXT,
	copy                            TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_campaign_place ON businesses(campaign_id, place_id);
CREATE INDEX IF NOT EXISTS idx_businesses_campaign ON businesses(campaign_id);
CREATE INDEX IF NOT EXISTS idx_businesses_facebook_url ON businesses(facebook_url);
CREATE INDEX IF NOT EXISTS idx_businesses_email ON businesses(email);

CREATE TABLE IF NOT EXISTS facebook_enrichments (
	id                  TEXT PRIMARY KEY,
	business_id         TEXT NOT NULL REFERENCES businesses(id),
	campaign_id         TEXT NOT NULL,
	url                 TEXT NOT NULL,
	page_name           TEXT,
	likes               INTEGER NOT NULL DEFAULT 0,
	followers           INTEGER NOT NULL DEFAULT 0,
	found_emails        TEXT NOT NULL DEFAULT '[]',
	primary_email       TEXT,
	phone               TEXT,
	address             TEXT,
	verification_status TEXT,
	verification_score  INTEGER NOT NULL DEFAULT 0,
	risk_flags          TEXT NOT NULL DEFAULT '{}',
	raw_response        TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_facebook_enrichments_business ON facebook_enrichments(business_id);

CREATE TABLE IF NOT EXISTS linkedin_enrichments (
	id                  TEXT PRIMARY KEY,
	business_id         TEXT NOT NULL REFERENCES businesses(id),
	campaign_id         TEXT NOT NULL,
	profile_url         TEXT NOT NULL,
	profile_type        TEXT NOT NULL DEFAULT 'company',
	pulled_fields        TEXT,
	found_emails        TEXT NOT NULL DEFAULT '[]',
	generated_patterns  TEXT NOT NULL DEFAULT '[]',
	primary_email       TEXT,
	email_quality_tier  INTEGER NOT NULL DEFAULT 0,
	phone_numbers       TEXT NOT NULL DEFAULT '[]',
	contact             TEXT,
	verification_status TEXT,
	verification_score  INTEGER NOT NULL DEFAULT 0,
	risk_flags          TEXT NOT NULL DEFAULT '{}',
	raw_response        TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_linkedin_enrichments_business ON linkedin_enrichments(business_id);

CREATE TABLE IF NOT EXISTS api_costs (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	service     TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	timestamp   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_api_costs_campaign ON api_costs(campaign_id);

CREATE TABLE IF NOT EXISTS email_verifications (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL REFERENCES businesses(id),
	campaign_id TEXT NOT NULL,
	email       TEXT NOT NULL,
	source      TEXT NOT NULL,
	result      TEXT NOT NULL,
	verified_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_email_verifications_business ON email_verifications(business_id);

CREATE TABLE IF NOT EXISTS master_leads (
	place_id      TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	email_source  TEXT NOT NULL,
	campaign_ids  TEXT NOT NULL DEFAULT '[]',
	first_seen_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Ping implements Repository.
func (s *SQLiteRepository) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate implements Repository.
func (s *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close implements Repository.
func (s *SQLiteRepository) Close() error { return s.db.Close() }

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// CreateCampaign implements Repository.
func (s *SQLiteRepository) CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error) {
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = timeNow()
	}

	keywordsJSON, err := json.Marshal(c.Keywords)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal keywords")
	}
	costsJSON, err := json.Marshal(c.Costs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal costs")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, org_id, name, location, keywords, profile, status, template,
			estimated_cost_usd, costs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, c.Location, string(keywordsJSON), string(c.Profile), string(c.Status),
		c.Template, c.EstimatedCostUSD, string(costsJSON), c.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert campaign")
	}
	return &c, nil
}

// GetCampaign implements Repository.
func (s *SQLiteRepository) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, location, keywords, profile, status, error_message, template,
			businesses_found, emails_found, social_pages_found, estimated_cost_usd, costs,
			created_at, started_at, completed_at, last_heartbeat
		 FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func scanCampaign(row interface{ Scan(dest ...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var keywordsJSON, costsJSON string
	var errMsg, template sql.NullString
	var startedAt, completedAt, lastHeartbeat sql.NullTime

	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Location, &keywordsJSON, &c.Profile, &c.Status,
		&errMsg, &template, &c.BusinessesFound, &c.EmailsFound, &c.SocialPagesFound,
		&c.EstimatedCostUSD, &costsJSON, &c.CreatedAt, &startedAt, &completedAt, &lastHeartbeat)
	if err == sql.ErrNoRows {
		return nil, eris.New("campaign not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan campaign")
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &c.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	if err := json.Unmarshal([]byte(costsJSON), &c.Costs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal costs")
	}
	c.ErrorMessage = errMsg.String
	c.Template = template.String
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if lastHeartbeat.Valid {
		c.LastHeartbeat = &lastHeartbeat.Time
	}
	return &c, nil
}

// UpdateCampaignStatus implements Repository.
func (s *SQLiteRepository) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, errMsg string) error {
	var res sql.Result
	var err error
	if status == model.StatusRunning {
		res, err = s.db.ExecContext(ctx,
			`UPDATE campaigns SET status = ?, error_message = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), nullIfEmpty(errMsg), timeNow(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE campaigns SET status = ?, error_message = ? WHERE id = ?`,
			string(status), nullIfEmpty(errMsg), id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign status %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// UpdateCampaignHeartbeat implements Repository.
func (s *SQLiteRepository) UpdateCampaignHeartbeat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET last_heartbeat = ? WHERE id = ?`, timeNow(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: heartbeat campaign %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// UpdateCampaignCounts implements Repository.
func (s *SQLiteRepository) UpdateCampaignCounts(ctx context.Context, id string, businesses, emails, socialPages int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET businesses_found = ?, emails_found = ?, social_pages_found = ? WHERE id = ?`,
		businesses, emails, socialPages, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign counts %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// CompleteCampaign implements Repository.
func (s *SQLiteRepository) CompleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, completed_at = ? WHERE id = ?`,
		string(model.StatusCompleted), timeNow(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete campaign %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// UpsertCoverageCells implements Repository.
func (s *SQLiteRepository) UpsertCoverageCells(ctx context.Context, cells []model.CoverageCell) error {
	if len(cells) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, cell := range cells {
		keywordsJSON, err := json.Marshal(cell.Keywords)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal cell keywords")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO coverage_cells (campaign_id, zip, keywords, max_results, estimated_businesses,
				density_score, relevance_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (campaign_id, zip) DO UPDATE SET
				keywords = excluded.keywords, max_results = excluded.max_results,
				estimated_businesses = excluded.estimated_businesses,
				density_score = excluded.density_score, relevance_score = excluded.relevance_score`,
			cell.CampaignID, cell.Zip, string(keywordsJSON), cell.MaxResults, cell.EstimatedBusinesses,
			cell.DensityScore, cell.RelevanceScore)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert coverage cell %s/%s", cell.CampaignID, cell.Zip)
		}
	}
	return tx.Commit()
}

// UpdateCoverageStatus implements Repository.
func (s *SQLiteRepository) UpdateCoverageStatus(ctx context.Context, campaignID, zip string, businesses, emails int, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE coverage_cells SET businesses_found = ?, emails_found = ?, cost_usd = ?, scraped_at = ?
		 WHERE campaign_id = ? AND zip = ?`,
		businesses, emails, cost, timeNow(), campaignID, zip)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update coverage status %s/%s", campaignID, zip)
	}
	return checkRowsAffected(res, "coverage_cell", campaignID+"/"+zip)
}

// ListCoverageCells implements Repository.
func (s *SQLiteRepository) ListCoverageCells(ctx context.Context, campaignID string) ([]model.CoverageCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, zip, keywords, max_results, estimated_businesses, density_score,
			relevance_score, businesses_found, emails_found, cost_usd, scraped_at
		 FROM coverage_cells WHERE campaign_id = ? ORDER BY zip`, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list coverage cells")
	}
	defer rows.Close()

	var out []model.CoverageCell
	for rows.Next() {
		var c model.CoverageCell
		var keywordsJSON string
		var scrapedAt sql.NullTime
		if err := rows.Scan(&c.CampaignID, &c.Zip, &keywordsJSON, &c.MaxResults, &c.EstimatedBusinesses,
			&c.DensityScore, &c.RelevanceScore, &c.BusinessesFound, &c.EmailsFound, &c.CostUSD, &scrapedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage cell")
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &c.Keywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal cell keywords")
		}
		if scrapedAt.Valid {
			c.ScrapedAt = &scrapedAt.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBusinesses implements Repository; idempotent on (campaign_id,
// place_id). Returns the number of rows actually inserted or updated.
func (s *SQLiteRepository) UpsertBusinesses(ctx context.Context, campaignID string, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	for _, b := range businesses {
		if b.ID == "" {
			b.ID = model.NewID()
		}
		b.CampaignID = campaignID

		cols, err := marshalBusinessColumns(b)
		if err != nil {
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO businesses (id, campaign_id, place_id, name, address, phone, website, categories,
				rating, review_count, hours, facebook_url, instagram_url, linkedin_url, email, email_source,
				flags, booking_url, review_distribution_pct, sentiment_tags, competitors, contact,
				needs_enrichment, social_enrichment_status, professional_enrichment_status, copy)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (campaign_id, place_id) DO UPDATE SET
				name = excluded.name, address = excluded.address, phone = excluded.phone,
				website = excluded.website, categories = excluded.categories, rating = excluded.rating,
				review_count = excluded.review_count, hours = excluded.hours,
				facebook_url = excluded.facebook_url, instagram_url = excluded.instagram_url,
				linkedin_url = excluded.linkedin_url, flags = excluded.flags,
				booking_url = excluded.booking_url, review_distribution_pct = excluded.review_distribution_pct,
				sentiment_tags = excluded.sentiment_tags, competitors = excluded.competitors`,
			b.ID, b.CampaignID, b.PlaceID, b.Name, cols.address, b.Phone, b.Website, cols.categories,
			b.Rating, b.ReviewCount, cols.hours, b.FacebookURL, b.InstagramURL, b.LinkedInURL, b.Email,
			string(b.EmailSource), cols.flags, b.BookingURL, cols.reviewDist, cols.sentiment, cols.competitors,
			cols.contact, boolToInt(b.NeedsEnrichment), nullIfEmpty(b.SocialEnrichmentStatus),
			nullIfEmpty(b.ProfessionalEnrichmentStatus), cols.copy)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert business %s/%s", campaignID, b.PlaceID)
		}
		count++
	}
	return count, tx.Commit()
}

type businessColumns struct {
	address, categories, hours, flags, reviewDist, sentiment, competitors string
	contact, copy                                                        any
}

func marshalBusinessColumns(b model.Business) (businessColumns, error) {
	var c businessColumns
	for _, pair := range []struct {
		dst *string
		src any
	}{
		{&c.address, b.Address},
		{&c.categories, orEmptySlice(b.Categories)},
		{&c.hours, orEmptyMap(b.Hours)},
		{&c.flags, b.Flags},
		{&c.reviewDist, orEmptyFloatMap(b.ReviewDistributionPct)},
		{&c.sentiment, orEmptySlice(b.SentimentTags)},
		{&c.competitors, orEmptyCompetitors(b.Competitors)},
	} {
		data, err := json.Marshal(pair.src)
		if err != nil {
			return c, eris.Wrap(err, "sqlite: marshal business column")
		}
		*pair.dst = string(data)
	}
	if b.Contact != nil {
		data, err := json.Marshal(b.Contact)
		if err != nil {
			return c, eris.Wrap(err, "sqlite: marshal contact")
		}
		c.contact = string(data)
	}
	if b.Copy != nil {
		data, err := json.Marshal(b.Copy)
		if err != nil {
			return c, eris.Wrap(err, "sqlite: marshal copy")
		}
		c.copy = string(data)
	}
	return c, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m model.Hours) model.Hours {
	if m == nil {
		return model.Hours{}
	}
	return m
}

func orEmptyFloatMap(m map[int]float64) map[int]float64 {
	if m == nil {
		return map[int]float64{}
	}
	return m
}

func orEmptyCompetitors(c []model.Competitor) []model.Competitor {
	if c == nil {
		return []model.Competitor{}
	}
	return c
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetBusinessesForSocialEnrichment implements Repository: businesses with a
// Facebook URL that have not yet had a social enrichment attempt recorded.
func (s *SQLiteRepository) GetBusinessesForSocialEnrichment(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = ? AND facebook_url IS NOT NULL AND facebook_url != ''
			AND (social_enrichment_status IS NULL OR social_enrichment_status = '')`,
		campaignID)
}

// GetBusinessesForProfessionalEnrichment implements Repository: businesses
// still without any email after social enrichment, eligible for the
// LinkedIn search-and-scrape step.
func (s *SQLiteRepository) GetBusinessesForProfessionalEnrichment(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = ? AND (email IS NULL OR email = '')
			AND (professional_enrichment_status IS NULL OR professional_enrichment_status = '')`,
		campaignID)
}

// GetBusinessesNeedingCopy implements Repository: businesses that have an
// email (deliverable or not) but no Writer copy yet, eligible for Phase 3.
func (s *SQLiteRepository) GetBusinessesNeedingCopy(ctx context.Context, campaignID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx,
		`SELECT id, campaign_id, place_id, name, address, phone, website, categories, rating, review_count,
			hours, facebook_url, instagram_url, linkedin_url, email, email_source, flags, booking_url,
			review_distribution_pct, sentiment_tags, competitors, contact, needs_enrichment,
			social_enrichment_status, professional_enrichment_status, copy
		 FROM businesses
		 WHERE campaign_id = ? AND email IS NOT NULL AND email != '' AND copy IS NULL`,
		campaignID)
}

func (s *SQLiteRepository) queryBusinesses(ctx context.Context, query string, args ...any) ([]model.Business, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query businesses")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBusiness(row interface{ Scan(dest ...any) error }) (*model.Business, error) {
	var b model.Business
	var addressJSON, categoriesJSON, hoursJSON, flagsJSON, reviewDistJSON, sentimentJSON, competitorsJSON string
	var phone, website, facebookURL, instagramURL, linkedInURL, email, bookingURL sql.NullString
	var contactJSON, copyJSON sql.NullString
	var needsEnrichment int
	var socialStatus, professionalStatus sql.NullString

	err := row.Scan(&b.ID, &b.CampaignID, &b.PlaceID, &b.Name, &addressJSON, &phone, &website,
		&categoriesJSON, &b.Rating, &b.ReviewCount, &hoursJSON, &facebookURL, &instagramURL, &linkedInURL,
		&email, &b.EmailSource, &flagsJSON, &bookingURL, &reviewDistJSON, &sentimentJSON, &competitorsJSON,
		&contactJSON, &needsEnrichment, &socialStatus, &professionalStatus, &copyJSON)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan business")
	}

	if err := json.Unmarshal([]byte(addressJSON), &b.Address); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal address")
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &b.Categories); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal categories")
	}
	if err := json.Unmarshal([]byte(hoursJSON), &b.Hours); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hours")
	}
	if err := json.Unmarshal([]byte(flagsJSON), &b.Flags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal flags")
	}
	if err := json.Unmarshal([]byte(reviewDistJSON), &b.ReviewDistributionPct); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal review distribution")
	}
	if err := json.Unmarshal([]byte(sentimentJSON), &b.SentimentTags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sentiment tags")
	}
	if err := json.Unmarshal([]byte(competitorsJSON), &b.Competitors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal competitors")
	}
	if contactJSON.Valid && contactJSON.String != "" {
		var contact model.ContactName
		if err := json.Unmarshal([]byte(contactJSON.String), &contact); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contact")
		}
		b.Contact = &contact
	}
	if copyJSON.Valid && copyJSON.String != "" {
		var cp model.CopyResult
		if err := json.Unmarshal([]byte(copyJSON.String), &cp); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal copy")
		}
		b.Copy = &cp
	}

	b.Phone = phone.String
	b.Website = website.String
	b.FacebookURL = facebookURL.String
	b.InstagramURL = instagramURL.String
	b.LinkedInURL = linkedInURL.String
	b.Email = email.String
	b.BookingURL = bookingURL.String
	b.NeedsEnrichment = needsEnrichment != 0
	b.SocialEnrichmentStatus = socialStatus.String
	b.ProfessionalEnrichmentStatus = professionalStatus.String

	return &b, nil
}

// SaveSocialEnrichment implements Repository: records the enrichment
// attempt, then promotes the business's email if the new source outranks
// the current one (model.PromoteEmail).
func (s *SQLiteRepository) SaveSocialEnrichment(ctx context.Context, businessID string, e model.FacebookEnrichment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}

	foundEmailsJSON, _ := json.Marshal(orEmptySlice(e.FoundEmails))
	riskJSON, err := json.Marshal(e.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal risk flags")
	}
	var rawJSON []byte
	if e.RawResponse != nil {
		rawJSON, err = json.Marshal(e.RawResponse)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal raw response")
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO facebook_enrichments (id, business_id, campaign_id, url, page_name, likes, followers,
			found_emails, primary_email, phone, address, verification_status, verification_score, risk_flags,
			raw_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, businessID, e.CampaignID, e.URL, nullIfEmpty(e.PageName), e.Likes, e.Followers,
		string(foundEmailsJSON), nullIfEmpty(e.PrimaryEmail), nullIfEmpty(e.Phone), nullIfEmpty(e.Address),
		nullIfEmpty(string(e.VerificationStatus)), e.VerificationScore, string(riskJSON), nullableJSON(rawJSON), e.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert facebook enrichment for %s", businessID)
	}

	res, err := tx.ExecContext(ctx, `UPDATE businesses SET social_enrichment_status = 'done' WHERE id = ?`, businessID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark social enrichment done for %s", businessID)
	}
	if err := checkRowsAffected(res, "business", businessID); err != nil {
		return err
	}

	if e.PrimaryEmail != "" {
		var currentSource string
		if err := tx.QueryRowContext(ctx, `SELECT email_source FROM businesses WHERE id = ?`, businessID).Scan(&currentSource); err != nil {
			return eris.Wrap(err, "sqlite: read current email source")
		}
		if model.PromoteEmail(model.EmailSource(currentSource), model.EmailSourceFacebook) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE businesses SET email = ?, email_source = ? WHERE id = ?`,
				e.PrimaryEmail, string(model.EmailSourceFacebook), businessID); err != nil {
				return eris.Wrapf(err, "sqlite: promote facebook email for %s", businessID)
			}
		}
	}

	return tx.Commit()
}

// SaveProfessionalEnrichment implements Repository, same promotion rule as
// SaveSocialEnrichment but sourced from LinkedIn (pattern or verified).
func (s *SQLiteRepository) SaveProfessionalEnrichment(ctx context.Context, businessID string, e model.LinkedInEnrichment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

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
		return eris.Wrap(err, "sqlite: marshal risk flags")
	}
	var contactJSON, pulledJSON, rawJSON []byte
	if e.Contact != nil {
		contactJSON, err = json.Marshal(e.Contact)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal contact")
		}
	}
	if e.PulledFields != nil {
		pulledJSON, err = json.Marshal(e.PulledFields)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal pulled fields")
		}
	}
	if e.RawResponse != nil {
		rawJSON, err = json.Marshal(e.RawResponse)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal raw response")
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO linkedin_enrichments (id, business_id, campaign_id, profile_url, profile_type,
			pulled_fields, found_emails, generated_patterns, primary_email, email_quality_tier,
			phone_numbers, contact, verification_status, verification_score, risk_flags, raw_response,
			created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, businessID, e.CampaignID, e.ProfileURL, e.ProfileType, nullableJSON(pulledJSON),
		string(foundEmailsJSON), string(patternsJSON), nullIfEmpty(e.PrimaryEmail), int(e.EmailQualityTier),
		string(phonesJSON), nullableJSON(contactJSON), nullIfEmpty(string(e.VerificationStatus)),
		e.VerificationScore, string(riskJSON), nullableJSON(rawJSON), e.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert linkedin enrichment for %s", businessID)
	}

	res, err := tx.ExecContext(ctx, `UPDATE businesses SET professional_enrichment_status = 'done' WHERE id = ?`, businessID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark professional enrichment done for %s", businessID)
	}
	if err := checkRowsAffected(res, "business", businessID); err != nil {
		return err
	}

	if e.PrimaryEmail != "" {
		var currentSource string
		if err := tx.QueryRowContext(ctx, `SELECT email_source FROM businesses WHERE id = ?`, businessID).Scan(&currentSource); err != nil {
			return eris.Wrap(err, "sqlite: read current email source")
		}
		candidateSource := model.EmailSourceLinkedInPattern
		if e.EmailQualityTier == model.TierLinkedInVerified {
			candidateSource = model.EmailSourceLinkedInVerified
		}
		if model.PromoteEmail(model.EmailSource(currentSource), candidateSource) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE businesses SET email = ?, email_source = ? WHERE id = ?`,
				e.PrimaryEmail, string(candidateSource), businessID); err != nil {
				return eris.Wrapf(err, "sqlite: promote linkedin email for %s", businessID)
			}
		}
	}

	return tx.Commit()
}

// UpdateEmailVerification implements Repository: logs the verification
// attempt. The verdict is recorded only on the verification row — an
// undeliverable or low-score result never clears the business's email or
// email_source (spec §8 scenario #4: having an email and having a safe
// email are different facts, and CountBusinessesWithEmail counts the
// former).
func (s *SQLiteRepository) UpdateEmailVerification(ctx context.Context, businessID string, v model.EmailVerification) error {
	if v.ID == "" {
		v.ID = model.NewID()
	}
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = timeNow()
	}
	resultJSON, err := json.Marshal(v.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verification result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_verifications (id, business_id, campaign_id, email, source, result, verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, businessID, v.CampaignID, v.Email, string(v.Source), string(resultJSON), v.VerifiedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: log verification for %s", businessID)
	}
	return nil
}

// SaveWriterCopy implements Repository.
func (s *SQLiteRepository) SaveWriterCopy(ctx context.Context, businessID string, copy model.CopyResult) error {
	copyJSON, err := json.Marshal(copy)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal copy")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET copy = ? WHERE id = ?`, string(copyJSON), businessID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save writer copy for %s", businessID)
	}
	return checkRowsAffected(res, "business", businessID)
}

// CountBusinessesWithEmail implements Repository: the authoritative,
// re-derived-from-source-of-truth count PipelineExecutor trusts over its
// own running tallies (spec §4.6 invariant). Unions direct business emails
// with social/professional enrichment rows carrying a primary email, since
// a verifier downgrade never clears the business row and a promoted email
// can originate from either enrichment table.
func (s *SQLiteRepository) CountBusinessesWithEmail(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM businesses WHERE campaign_id = ? AND email IS NOT NULL AND email != ''
			UNION
			SELECT business_id FROM facebook_enrichments WHERE campaign_id = ? AND primary_email IS NOT NULL AND primary_email != ''
			UNION
			SELECT business_id FROM linkedin_enrichments WHERE campaign_id = ? AND primary_email IS NOT NULL AND primary_email != ''
		)`,
		campaignID, campaignID, campaignID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count businesses with email")
	}
	return n, nil
}

// TrackApiCost implements Repository: logs the cost entry and bumps the
// owning campaign's per-service accumulator in the same transaction.
func (s *SQLiteRepository) TrackApiCost(ctx context.Context, campaignID, service string, amountUSD float64, units int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO api_costs (id, campaign_id, service, items, cost_usd, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		model.NewID(), campaignID, service, units, amountUSD, timeNow())
	if err != nil {
		return eris.Wrap(err, "sqlite: insert api cost")
	}

	column, ok := costColumnFor(service)
	if !ok {
		return tx.Commit()
	}
	query := `UPDATE campaigns SET costs = json_set(costs, '$.` + column + `',
		COALESCE(json_extract(costs, '$.` + column + `'), 0) + ?) WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, amountUSD, campaignID); err != nil {
		return eris.Wrapf(err, "sqlite: accumulate cost for campaign %s", campaignID)
	}
	return tx.Commit()
}

func costColumnFor(service string) (string, bool) {
	switch service {
	case "apify_maps":
		return "map_scraping_usd", true
	case "apify_facebook":
		return "social_enrichment_usd", true
	case "apify_linkedin":
		return "professional_usd", true
	case "verifier":
		return "email_verification_usd", true
	case "llm":
		return "llm_usd", true
	default:
		return "", false
	}
}

// RefreshMasterLeads implements Repository: merges this campaign's
// businesses that have an email into the cross-campaign deduplicated view,
// appending the campaign ID to existing rows rather than overwriting them.
func (s *SQLiteRepository) RefreshMasterLeads(ctx context.Context, campaignID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id, name, email, email_source FROM businesses
		 WHERE campaign_id = ? AND email IS NOT NULL AND email != ''`, campaignID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: query businesses for master leads")
	}
	defer rows.Close()

	type row struct {
		placeID, name, email, source string
	}
	var leads []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.placeID, &r.name, &r.email, &r.source); err != nil {
			return 0, eris.Wrap(err, "sqlite: scan master lead candidate")
		}
		leads = append(leads, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var touched int
	for _, l := range leads {
		var existingCampaignsJSON sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT campaign_ids FROM master_leads WHERE place_id = ?`, l.placeID).Scan(&existingCampaignsJSON)
		switch {
		case err == sql.ErrNoRows:
			campaignIDs, _ := json.Marshal([]string{campaignID})
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO master_leads (place_id, name, email, email_source, campaign_ids, first_seen_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				l.placeID, l.name, l.email, l.source, string(campaignIDs), timeNow()); err != nil {
				return touched, eris.Wrapf(err, "sqlite: insert master lead %s", l.placeID)
			}
		case err != nil:
			return touched, eris.Wrap(err, "sqlite: read existing master lead")
		default:
			var campaignIDs []string
			if existingCampaignsJSON.Valid {
				_ = json.Unmarshal([]byte(existingCampaignsJSON.String), &campaignIDs)
			}
			if !containsString(campaignIDs, campaignID) {
				campaignIDs = append(campaignIDs, campaignID)
			}
			updated, _ := json.Marshal(campaignIDs)
			if _, err := tx.ExecContext(ctx,
				`UPDATE master_leads SET campaign_ids = ?, name = ?, email = ?, email_source = ? WHERE place_id = ?`,
				string(updated), l.name, l.email, l.source, l.placeID); err != nil {
				return touched, eris.Wrapf(err, "sqlite: update master lead %s", l.placeID)
			}
		}
		touched++
	}

	return touched, tx.Commit()
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
