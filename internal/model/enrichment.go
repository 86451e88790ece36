package model

import "time"

// VerificationStatus is the EmailVerifier's deliverability verdict.
type VerificationStatus string

const (
	VerificationDeliverable   VerificationStatus = "deliverable"
	VerificationUndeliverable VerificationStatus = "undeliverable"
	VerificationRisky         VerificationStatus = "risky"
	VerificationUnknown       VerificationStatus = "unknown"
	VerificationError         VerificationStatus = "error"
)

// RiskFlags are the EmailVerifier's quality signals for an address.
type RiskFlags struct {
	IsDisposable bool `json:"is_disposable"`
	IsRoleBased  bool `json:"is_role_based"`
	IsFree       bool `json:"is_free"`
	IsGibberish  bool `json:"is_gibberish"`
}

// VerificationResult is the EmailVerifier's full response for one address.
type VerificationResult struct {
	Email     string             `json:"email"`
	Status    VerificationStatus `json:"status"`
	Score     int                `json:"score"`
	Risk      RiskFlags          `json:"risk"`
	Domain    string             `json:"domain,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	MXFound   bool               `json:"mx_found"`
	SMTPCheck bool               `json:"smtp_check"`
}

// IsSafe reports whether the address is deliverable with a high enough
// score. Having an email is not the same as the email being safe to send to.
func (r VerificationResult) IsSafe() bool {
	return r.Status == VerificationDeliverable && r.Score >= 70
}

// EmailQualityTier mirrors the source's numeric tiering: lower is better.
type EmailQualityTier int

const (
	TierLinkedInVerified EmailQualityTier = 2
	TierPatternGenerated EmailQualityTier = 4
	TierNotFound         EmailQualityTier = 5
)

// SocialEnrichmentSource names which provider an enrichment row came from.
type SocialEnrichmentSource string

const (
	SourceGoogleMaps SocialEnrichmentSource = "google_maps"
	SourceFacebook   SocialEnrichmentSource = "facebook"
	SourceLinkedIn   SocialEnrichmentSource = "linkedin"
)

// FacebookEnrichment is one attempt to enrich a business from its Facebook
// page. Inserted even on failure, so reruns can detect "already tried".
type FacebookEnrichment struct {
	ID              string                 `json:"id"`
	BusinessID      string                 `json:"business_id"`
	CampaignID      string                 `json:"campaign_id"`
	URL             string                 `json:"url"` // normalised
	PageName        string                 `json:"page_name,omitempty"`
	Likes           int                    `json:"likes,omitempty"`
	Followers       int                    `json:"followers,omitempty"`
	FoundEmails     []string               `json:"found_emails,omitempty"`
	PrimaryEmail    string                 `json:"primary_email,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	Address         string                 `json:"address,omitempty"`
	VerificationStatus VerificationStatus  `json:"verification_status,omitempty"`
	VerificationScore  int                 `json:"verification_score,omitempty"`
	RiskFlags       RiskFlags              `json:"risk_flags"`
	RawResponse     map[string]any         `json:"raw_response,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// LinkedInEnrichment is one attempt to enrich a business from a LinkedIn
// company or personal profile. Inserted even on failure.
type LinkedInEnrichment struct {
	ID                string             `json:"id"`
	BusinessID        string             `json:"business_id"`
	CampaignID        string             `json:"campaign_id"`
	ProfileURL        string             `json:"profile_url"` // normalised
	ProfileType       string             `json:"profile_type"` // company|personal
	PulledFields      map[string]any     `json:"pulled_fields,omitempty"`
	FoundEmails       []string           `json:"found_emails,omitempty"`
	GeneratedPatterns []string           `json:"generated_patterns,omitempty"`
	PrimaryEmail      string             `json:"primary_email,omitempty"`
	EmailQualityTier  EmailQualityTier   `json:"email_quality_tier,omitempty"`
	PhoneNumbers      []string           `json:"phone_numbers,omitempty"`
	Contact           *ContactName       `json:"contact,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	VerificationScore  int               `json:"verification_score,omitempty"`
	RiskFlags         RiskFlags          `json:"risk_flags"`
	RawResponse       map[string]any     `json:"raw_response,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// EmailVerification is a log record per verification attempt, joined to its
// origin enrichment row.
type EmailVerification struct {
	ID           string                 `json:"id"`
	BusinessID   string                 `json:"business_id"`
	CampaignID   string                 `json:"campaign_id"`
	Email        string                 `json:"email"`
	Source       SocialEnrichmentSource `json:"source"`
	Result       VerificationResult     `json:"result"`
	VerifiedAt   time.Time              `json:"verified_at"`
}

// ApiCost is a per-call cost ledger entry, aggregated back into the owning
// campaign's service-specific cost accumulator on insert.
type ApiCost struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Service    string    `json:"service"`
	Items      int       `json:"items"`
	CostUSD    float64   `json:"cost_usd"`
	Timestamp  time.Time `json:"timestamp"`
}

// MasterLead is one row of the materialised, cross-campaign,
// cross-organisation deduplicated view of businesses with emails.
type MasterLead struct {
	PlaceID       string   `json:"place_id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmailSource   EmailSource `json:"email_source"`
	CampaignIDs   []string `json:"campaign_ids"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}
