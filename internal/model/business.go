package model

// EmailSource records which provider contributed a business's current email.
// Priority when multiple sources are available: google_maps < facebook <
// linkedin_verified > linkedin_pattern (a verified LinkedIn email always
// wins, even over a pattern-guessed email from the same provider).
type EmailSource string

const (
	EmailSourceNone             EmailSource = "not_found"
	EmailSourceGoogleMaps       EmailSource = "google_maps"
	EmailSourceFacebook         EmailSource = "facebook"
	EmailSourceLinkedInVerified EmailSource = "linkedin_verified"
	EmailSourceLinkedInPattern  EmailSource = "linkedin_pattern"
)

// emailSourceRank orders sources for the "best available" comparison used by
// PromoteEmail. Higher wins; linkedin_verified is deliberately the single
// highest rank regardless of insertion order.
var emailSourceRank = map[EmailSource]int{
	EmailSourceNone:             0,
	EmailSourceGoogleMaps:       1,
	EmailSourceFacebook:         2,
	EmailSourceLinkedInPattern:  3,
	EmailSourceLinkedInVerified: 4,
}

// PromoteEmail decides whether a newly discovered email should replace the
// business's current one, per the priority order in the data model.
func PromoteEmail(currentSource EmailSource, candidateSource EmailSource) bool {
	return emailSourceRank[candidateSource] > emailSourceRank[currentSource]
}

// Address is a business's full postal address with the extracted 5-digit
// ZIP, which may differ from the input ZIP a map-scraper batch targeted.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country,omitempty"`
}

// Hours is a day-of-week -> free-text opening hours string.
type Hours map[string]string

// ContactName is parsed from a personal LinkedIn/Facebook profile URL when
// available (e.g. "jane-doe" -> {First: "Jane", Last: "Doe"}).
type ContactName struct {
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// AttributeFlags are structured booleans extracted from a map provider's
// free-form "additional info" attribute buckets.
type AttributeFlags struct {
	WomenOwned          bool `json:"women_owned"`
	SmallBusiness        bool `json:"small_business"`
	WheelchairAccessible bool `json:"wheelchair_accessible"`
	BlackOwned           bool `json:"black_owned,omitempty"`
	VeteranOwned         bool `json:"veteran_owned,omitempty"`
	LGBTQOwned           bool `json:"lgbtq_owned,omitempty"`
}

// Competitor is a nearby business surfaced by the map provider's
// "people also search for" list, capped at 10 per business.
type Competitor struct {
	Name    string `json:"name"`
	PlaceID string `json:"place_id,omitempty"`
}

// CopyResult is the Writer's output, attached to a business once generated.
type CopyResult struct {
	Icebreaker   string `json:"icebreaker"`
	SubjectLine  string `json:"subject_line"`
	TemplateUsed string `json:"template_used"`
	FormulaUsed  string `json:"formula_used"`
	Variant      int    `json:"variant"`
}

// Business is one physical/commercial entity within a campaign, externally
// keyed by the map provider's place identifier. (CampaignID, PlaceID) is
// unique: every write is an upsert on that key.
type Business struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	PlaceID    string `json:"place_id"`

	Name        string   `json:"name"`
	Address     Address  `json:"address"`
	Phone       string   `json:"phone,omitempty"`
	Website     string   `json:"website,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count,omitempty"`
	Hours       Hours    `json:"hours,omitempty"`

	FacebookURL  string `json:"facebook_url,omitempty"`
	InstagramURL string `json:"instagram_url,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`

	Email       string      `json:"email,omitempty"`
	EmailSource EmailSource `json:"email_source"`

	Flags                  AttributeFlags `json:"flags"`
	BookingURL             string         `json:"booking_url,omitempty"`
	ReviewDistributionPct  map[int]float64 `json:"review_distribution_pct,omitempty"` // star -> percent
	SentimentTags          []string       `json:"sentiment_tags,omitempty"`
	Competitors            []Competitor   `json:"competitors,omitempty"` // capped at 10
	Contact                *ContactName   `json:"contact,omitempty"`

	NeedsEnrichment           bool   `json:"needs_enrichment"`
	SocialEnrichmentStatus    string `json:"social_enrichment_status,omitempty"` // pending|done
	ProfessionalEnrichmentStatus string `json:"professional_enrichment_status,omitempty"`

	Copy *CopyResult `json:"copy,omitempty"`
}

// HasEmail reports whether the business currently has any email on file,
// regardless of deliverability.
func (b Business) HasEmail() bool { return b.Email != "" }
