// Package professionalscraper adapts the two-step LinkedIn enrichment actor
// pair (spec §4.4 ProfessionalScraper contract): a batch Google search to
// find candidate profile URLs, then a batch profile/company scrape grouped
// by URL type, matched back by normalised URL.
package professionalscraper

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/resilience"
	"github.com/sells-group/leadgen-engine/pkg/actorclient"
)

// Default actor IDs for the search and profile-scrape steps.
const (
	DefaultSearchActorID  = "apify/google-search-scraper"
	DefaultProfileActorID = "apimaestro/linkedin-profile-batch-scraper"

	ActionGetCompanies = "get-companies"
	ActionGetProfiles  = "get-profiles"
)

// ServiceName is the RateGovernor bucket key for professional-enrichment
// calls (both the search and the profile-scrape steps share one bucket,
// since both come from the same quota pool).
const ServiceName = "apify_linkedin"

// socialDomains are excluded when generating pattern emails from a
// business's website domain — a social/map URL is never a contact domain.
var socialDomains = []string{"facebook.com", "instagram.com", "linkedin.com", "twitter.com", "google.com"}

// Config parameterises a Scraper.
type Config struct {
	BaseURL         string
	SearchActorID   string
	ProfileActorID  string
	Token           string
	Governor        *rategovernor.Governor
	Retry           resilience.RetryConfig
}

// Scraper is the ProfessionalScraper adapter.
type Scraper struct {
	search  *actorclient.Client
	profile *actorclient.Client
}

// New builds a Scraper.
func New(cfg Config) *Scraper {
	searchActorID := cfg.SearchActorID
	if searchActorID == "" {
		searchActorID = DefaultSearchActorID
	}
	profileActorID := cfg.ProfileActorID
	if profileActorID == "" {
		profileActorID = DefaultProfileActorID
	}
	return &Scraper{
		search: actorclient.New(actorclient.Config{
			BaseURL: cfg.BaseURL, ActorID: searchActorID, Token: cfg.Token,
			ServiceName: ServiceName, Governor: cfg.Governor, Retry: cfg.Retry,
		}),
		profile: actorclient.New(actorclient.Config{
			BaseURL: cfg.BaseURL, ActorID: profileActorID, Token: cfg.Token,
			ServiceName: ServiceName, Governor: cfg.Governor, Retry: cfg.Retry,
		}),
	}
}

// Query is one business to search LinkedIn for.
type Query struct {
	BusinessID string
	Name       string
	City       string
	Website    string
}

// ProfileResult is one business's matched LinkedIn profile/company page and
// whatever emails could be derived from it.
type ProfileResult struct {
	BusinessID      string
	ProfileURL      string // normalised; empty if no match found
	IsCompany       bool
	ContactName     *model.ContactName
	VerifiedEmail   string   // tier 2, from the profile page itself
	GeneratedEmails []string // tier 4, pattern-guessed from name + website domain
}

type searchRunInput struct {
	Queries string `json:"queries"`
}

type searchResultItem struct {
	SearchQuery struct {
		Term string `json:"term"`
	} `json:"searchQuery"`
	OrganicResults []struct {
		URL string `json:"url"`
	} `json:"organicResults"`
}

type profileRunInput struct {
	Action string   `json:"action"`
	URLs   []string `json:"urls"`
}

type profileResultItem struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EnrichBatch runs the two-step search-then-scrape flow for one batch of
// queries (spec: default batch size 15). Results are returned in the same
// order as queries; a query with no matched profile still gets a result row
// with an empty ProfileURL — "save enrichment rows even for profiles where
// nothing was found" per spec §4.7.
func (s *Scraper) EnrichBatch(ctx context.Context, queries []Query) ([]ProfileResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	profileURLByBusiness, err := s.findProfileURLs(ctx, queries)
	if err != nil {
		return nil, err
	}

	var companyURLs, personalURLs []string
	for _, u := range profileURLByBusiness {
		if u == "" {
			continue
		}
		if isCompanyURL(u) {
			companyURLs = append(companyURLs, u)
		} else {
			personalURLs = append(personalURLs, u)
		}
	}

	profilesByURL := make(map[string]profileResultItem)
	if len(companyURLs) > 0 {
		items, err := s.scrapeProfiles(ctx, ActionGetCompanies, dedup(companyURLs))
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			profilesByURL[NormalizeURL(it.URL)] = it
		}
	}
	if len(personalURLs) > 0 {
		items, err := s.scrapeProfiles(ctx, ActionGetProfiles, dedup(personalURLs))
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			profilesByURL[NormalizeURL(it.URL)] = it
		}
	}

	results := make([]ProfileResult, 0, len(queries))
	for _, q := range queries {
		profileURL := profileURLByBusiness[q.BusinessID]
		r := ProfileResult{BusinessID: q.BusinessID, ProfileURL: profileURL, IsCompany: isCompanyURL(profileURL)}
		if profileURL != "" {
			if p, ok := profilesByURL[NormalizeURL(profileURL)]; ok && p.Email != "" {
				r.VerifiedEmail = strings.ToLower(strings.TrimSpace(p.Email))
			}
			if !r.IsCompany {
				r.ContactName = model.DeriveContactName(profileURL)
			}
		}
		if r.VerifiedEmail == "" {
			r.GeneratedEmails = GeneratePatternEmails(contactFullName(r.ContactName, q.Name), q.Website)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Scraper) findProfileURLs(ctx context.Context, queries []Query) (map[string]string, error) {
	terms := make([]string, 0, len(queries))
	queryToBusiness := make(map[string]string, len(queries))
	for _, q := range queries {
		term := `"` + q.Name + `" site:linkedin.com ` + q.City
		terms = append(terms, term)
		queryToBusiness[term] = q.BusinessID
	}

	datasetID, err := s.search.Run(ctx, searchRunInput{Queries: strings.Join(terms, "\n")})
	if err != nil {
		return nil, err
	}
	items, err := actorclient.FetchItems[searchResultItem](ctx, s.search, datasetID)
	if err != nil {
		return nil, err
	}

	byBusiness := make(map[string]string, len(queries))
	for _, it := range items {
		businessID, ok := queryToBusiness[it.SearchQuery.Term]
		if !ok {
			continue
		}
		for _, r := range it.OrganicResults {
			if isProfileURL(r.URL) {
				byBusiness[businessID] = NormalizeURL(r.URL)
				break
			}
		}
	}
	return byBusiness, nil
}

func (s *Scraper) scrapeProfiles(ctx context.Context, action string, urls []string) ([]profileResultItem, error) {
	datasetID, err := s.profile.Run(ctx, profileRunInput{Action: action, URLs: urls})
	if err != nil {
		return nil, err
	}
	return actorclient.FetchItems[profileResultItem](ctx, s.profile, datasetID)
}

// NormalizeURL lowercases a LinkedIn URL, drops "www.", and strips a
// trailing slash so matching absorbs case/host variance.
func NormalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimSuffix(u, "/")
	u = strings.Replace(u, "://www.", "://", 1)
	return u
}

func isProfileURL(u string) bool {
	lu := strings.ToLower(u)
	return strings.Contains(lu, "linkedin.com/in/") || strings.Contains(lu, "linkedin.com/company/")
}

func isCompanyURL(u string) bool {
	return strings.Contains(strings.ToLower(u), "linkedin.com/company/")
}

func dedup(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := NormalizeURL(u)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, u)
	}
	return out
}

func contactFullName(c *model.ContactName, fallback string) string {
	if c != nil && c.First != "" {
		return strings.TrimSpace(c.First + " " + c.Last)
	}
	return fallback
}

// GeneratePatternEmails guesses likely contact addresses from a person's
// full name and a business website, skipping social/map domains. Pattern
// order follows spec §4.7: first@, first.last@, flast@, firstlast@, last@,
// f.last@, then contact@/info@.
func GeneratePatternEmails(fullName, website string) []string {
	domain := extractDomain(website)
	if domain == "" || isSocialDomain(domain) {
		return nil
	}

	first, last := splitName(fullName)
	var patterns []string
	if first != "" {
		patterns = append(patterns, first+"@"+domain)
		if last != "" {
			patterns = append(patterns,
				first+"."+last+"@"+domain,
				string(first[0])+last+"@"+domain,
				first+last+"@"+domain,
				last+"@"+domain,
				string(first[0])+"."+last+"@"+domain,
			)
		}
	}
	patterns = append(patterns, "contact@"+domain, "info@"+domain)

	return patterns
}

func extractDomain(website string) string {
	if website == "" {
		return ""
	}
	w := website
	if !strings.Contains(w, "://") {
		w = "https://" + w
	}
	u, err := url.Parse(w)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}

func isSocialDomain(domain string) bool {
	for _, d := range socialDomains {
		if strings.Contains(domain, d) {
			return true
		}
	}
	return false
}

func splitName(fullName string) (first, last string) {
	fields := strings.Fields(strings.ToLower(fullName))
	if len(fields) == 0 {
		return "", ""
	}
	first = fields[0]
	if len(fields) > 1 {
		last = strings.Join(fields[1:], "")
	}
	return first, last
}
