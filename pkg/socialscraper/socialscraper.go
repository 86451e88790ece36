// Package socialscraper adapts the Facebook-page enrichment actor (spec
// §4.4 SocialScraper contract) on top of pkg/actorclient: normalises page
// URLs, extracts candidate emails from page text, and picks a primary
// address by preference order.
package socialscraper

import (
	"context"
	"regexp"
	"strings"

	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/resilience"
	"github.com/sells-group/leadgen-engine/pkg/actorclient"
)

// DefaultActorID is the generic web-scraper actor the teacher points at
// Facebook pages (a dedicated Facebook actor is unnecessary for contact-info
// extraction).
const DefaultActorID = "apify/web-scraper"

// ServiceName is the RateGovernor bucket key for Facebook enrichment calls.
const ServiceName = "apify_facebook"

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// genericEmailSubstrings flags platform-internal or placeholder addresses
// that should never be treated as a business's contact email.
var genericEmailSubstrings = []string{
	"noreply", "no-reply", "donotreply", "example.com", "@facebook.com", "@fb.com",
}

// primaryPrefixes is the preference order for picking the primary email
// among several valid candidates found on one page.
var primaryPrefixes = []string{"info@", "contact@", "hello@", "support@"}

// Scraper is the SocialScraper adapter.
type Scraper struct {
	actor *actorclient.Client
}

// Config parameterises a Scraper.
type Config struct {
	BaseURL  string
	ActorID  string
	Token    string
	Governor *rategovernor.Governor
	Retry    resilience.RetryConfig
}

// New builds a Scraper. ActorID defaults to DefaultActorID when empty.
func New(cfg Config) *Scraper {
	actorID := cfg.ActorID
	if actorID == "" {
		actorID = DefaultActorID
	}
	return &Scraper{actor: actorclient.New(actorclient.Config{
		BaseURL:     cfg.BaseURL,
		ActorID:     actorID,
		Token:       cfg.Token,
		ServiceName: ServiceName,
		Governor:    cfg.Governor,
		Retry:       cfg.Retry,
	})}
}

// Enrichment is one Facebook page's extracted contact information.
type Enrichment struct {
	URL          string
	PageName     string
	Likes        int
	Followers    int
	Emails       []string
	PrimaryEmail string
	Phone        string
	Address      string
}

type runInput struct {
	StartURLs []struct {
		URL string `json:"url"`
	} `json:"startUrls"`
}

type rawPage struct {
	URL       string   `json:"url"`
	PageName  string   `json:"pageName"`
	Likes     int      `json:"likes"`
	Followers int      `json:"followers"`
	BodyText  string   `json:"bodyText"`
	Emails    []string `json:"emails"`
	Phone     string   `json:"phone"`
	Address   string   `json:"address"`
}

// NormalizeURL lowercases a Facebook page URL, forces the canonical host,
// and strips trailing slash/query/fragment, per spec §4.4.
func NormalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimSuffix(u, "/")

	idx := strings.Index(u, "facebook.com")
	if idx < 0 {
		return u
	}
	path := u[idx+len("facebook.com"):]
	return "https://www.facebook.com" + path
}

// Enrich scrapes a batch of already-deduplicated, normalised Facebook page
// URLs and returns one Enrichment per successfully scraped page.
func (s *Scraper) Enrich(ctx context.Context, urls []string) ([]Enrichment, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	input := runInput{}
	for _, u := range urls {
		input.StartURLs = append(input.StartURLs, struct {
			URL string `json:"url"`
		}{URL: u})
	}

	datasetID, err := s.actor.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	pages, err := actorclient.FetchItems[rawPage](ctx, s.actor, datasetID)
	if err != nil {
		return nil, err
	}

	out := make([]Enrichment, 0, len(pages))
	for _, p := range pages {
		out = append(out, toEnrichment(p))
	}
	return out, nil
}

func toEnrichment(p rawPage) Enrichment {
	candidates := p.Emails
	if len(candidates) == 0 && p.BodyText != "" {
		candidates = emailPattern.FindAllString(p.BodyText, -1)
	}

	valid := validEmails(candidates)
	return Enrichment{
		URL:          NormalizeURL(p.URL),
		PageName:     p.PageName,
		Likes:        p.Likes,
		Followers:    p.Followers,
		Emails:       valid,
		PrimaryEmail: choosePrimary(valid),
		Phone:        p.Phone,
		Address:      p.Address,
	}
}

func validEmails(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" || seen[e] || isGenericEmail(e) || !emailPattern.MatchString(e) {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func isGenericEmail(email string) bool {
	for _, skip := range genericEmailSubstrings {
		if strings.Contains(email, skip) {
			return true
		}
	}
	return false
}

// choosePrimary picks the first email matching the preferred prefix order,
// falling back to the first valid address.
func choosePrimary(emails []string) string {
	if len(emails) == 0 {
		return ""
	}
	for _, prefix := range primaryPrefixes {
		for _, e := range emails {
			if strings.HasPrefix(e, prefix) {
				return e
			}
		}
	}
	return emails[0]
}
