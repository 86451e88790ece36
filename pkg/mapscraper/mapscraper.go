// Package mapscraper adapts the map-discovery actor (spec §4.4 MapScraper
// contract) on top of pkg/actorclient: one run searches every keyword
// against a batch of ZIPs, and results are partitioned by each item's own
// extracted address ZIP rather than the input ZIP an actor run targeted.
package mapscraper

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/resilience"
	"github.com/sells-group/leadgen-engine/pkg/actorclient"
)

// DefaultActorID is the Apify Google Maps Scraper actor this adapter targets.
const DefaultActorID = "nwua9Gu5YrADL7ZDj"

// ServiceName is the RateGovernor bucket key shared by every map-scraper run.
const ServiceName = "apify_maps"

var zipPattern = regexp.MustCompile(`\b(\d{5})\b`)

// Scraper is the MapScraper adapter.
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

type runInput struct {
	SearchStringsArray []string `json:"searchStringsArray"`
	MaxCrawledPlacesPerSearch int `json:"maxCrawledPlacesPerSearch"`
	Language                  string `json:"language"`
}

// rawItem mirrors the actor's loosely-typed output item. Every field is
// optional; the actor's schema drifts across provider versions.
type rawItem struct {
	Title        string              `json:"title"`
	PlaceID      string              `json:"placeId"`
	Address      string              `json:"address"`
	City         string              `json:"city"`
	State        string              `json:"state"`
	PostalCode   string              `json:"postalCode"`
	Location     *struct{ Lat, Lng float64 } `json:"location"`
	Phone        string              `json:"phone"`
	Website      string              `json:"website"`
	CategoryName string              `json:"categoryName"`
	Categories   []string            `json:"categories"`
	TotalScore   float64             `json:"totalScore"`
	ReviewsCount int                 `json:"reviewsCount"`
	OpeningHours []struct {
		Day   string `json:"day"`
		Hours string `json:"hours"`
	} `json:"openingHours"`
	Facebooks          []string           `json:"facebooks"`
	Instagrams         []string           `json:"instagrams"`
	LinkedIns          []string           `json:"linkedIns"`
	ReviewsDistribution map[string]float64 `json:"reviewsDistribution"`
	ReviewsTags         []struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
	} `json:"reviewsTags"`
	PeopleAlsoSearch []struct {
		Title   string `json:"title"`
		PlaceID string `json:"placeId"`
	} `json:"peopleAlsoSearch"`
	AdditionalInfo map[string][]struct {
		Text string `json:"text"`
	} `json:"additionalInfo"`
	BookingLinks []string `json:"orderBy"`

	// Direct-email fields the actor sometimes surfaces straight off the
	// Google Maps listing, checked in this priority order (mirrors the
	// original scraper's email_fields list).
	Emails        []string `json:"emails"`
	DirectEmails  []string `json:"directEmails"`
	Email         string   `json:"email"`
	ContactEmail  string   `json:"contactEmail"`
	BusinessEmail string   `json:"businessEmail"`
}

// directEmail returns the first direct email the actor surfaced on this
// item, checking emails/directEmails/email/contactEmail/businessEmail in
// that priority order (spec §4.4 MapScraper contract / §4.7 Phase 1 direct
// email path).
func (it rawItem) directEmail() string {
	if len(it.Emails) > 0 {
		return it.Emails[0]
	}
	if len(it.DirectEmails) > 0 {
		return it.DirectEmails[0]
	}
	if it.Email != "" {
		return it.Email
	}
	if it.ContactEmail != "" {
		return it.ContactEmail
	}
	return it.BusinessEmail
}

// Search runs one actor invocation across every "{keyword} {zip}" query
// string for the given keyword set and ZIP batch, and partitions results by
// each returned item's own extracted ZIP. All keywords share that single
// run; no separate run is issued per keyword.
func (s *Scraper) Search(ctx context.Context, keywords []string, zips []string, maxResultsPerQuery int) (map[string][]model.RawBusiness, error) {
	queries := make([]string, 0, len(keywords)*len(zips))
	for _, kw := range keywords {
		for _, z := range zips {
			queries = append(queries, kw+" "+z)
		}
	}

	datasetID, err := s.actor.Run(ctx, runInput{
		SearchStringsArray:        queries,
		MaxCrawledPlacesPerSearch: maxResultsPerQuery,
		Language:                  "en",
	})
	if err != nil {
		return nil, err
	}

	items, err := actorclient.FetchItems[rawItem](ctx, s.actor, datasetID)
	if err != nil {
		return nil, err
	}

	byZip := make(map[string][]model.RawBusiness)
	for _, it := range items {
		raw := toRawBusiness(it)
		zip := raw.Address.Zip
		if zip == "" {
			zip = "UNKNOWN"
		}
		byZip[zip] = append(byZip[zip], raw)
	}
	return byZip, nil
}

func toRawBusiness(it rawItem) model.RawBusiness {
	zip := it.PostalCode
	if zip == "" {
		zip = extractZip(it.Address)
	}

	hours := model.Hours{}
	for _, h := range it.OpeningHours {
		if h.Day != "" {
			hours[h.Day] = h.Hours
		}
	}

	dist := make(map[int]float64, len(it.ReviewsDistribution))
	for star, pct := range it.ReviewsDistribution {
		if n, err := strconv.Atoi(strings.TrimSpace(star)); err == nil {
			dist[n] = pct
		}
	}

	tags := make([]string, 0, len(it.ReviewsTags))
	for _, t := range it.ReviewsTags {
		if t.Tag != "" {
			tags = append(tags, t.Tag)
		} else if t.Text != "" {
			tags = append(tags, t.Text)
		}
	}

	competitors := make([]model.RawCompetitor, 0, len(it.PeopleAlsoSearch))
	for _, c := range it.PeopleAlsoSearch {
		competitors = append(competitors, model.RawCompetitor{Name: c.Title, PlaceID: c.PlaceID})
	}

	additional := make(map[string][]string, len(it.AdditionalInfo))
	for bucket, entries := range it.AdditionalInfo {
		values := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Text != "" {
				values = append(values, e.Text)
			}
		}
		additional[bucket] = values
	}

	categories := it.Categories
	if len(categories) == 0 && it.CategoryName != "" {
		categories = []string{it.CategoryName}
	}

	var lat, lon float64
	if it.Location != nil {
		lat, lon = it.Location.Lat, it.Location.Lng
	}

	return model.RawBusiness{
		Name:    it.Title,
		PlaceID: it.PlaceID,
		Address: model.Address{
			Street: it.Address,
			City:   it.City,
			State:  it.State,
			Zip:    zip,
		},
		Lat:                lat,
		Lon:                lon,
		Phone:              it.Phone,
		Website:            it.Website,
		Categories:         categories,
		Rating:             it.TotalScore,
		ReviewCount:        it.ReviewsCount,
		Hours:              hours,
		FacebookURL:        first(it.Facebooks),
		InstagramURL:       first(it.Instagrams),
		LinkedInURL:        first(it.LinkedIns),
		Email:              it.directEmail(),
		ReviewDistribution: dist,
		ReviewTags:         tags,
		PeopleAlsoSearch:   competitors,
		AdditionalInfo:     additional,
		BookingLinks:       it.BookingLinks,
	}
}

func extractZip(address string) string {
	return zipPattern.FindString(address)
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
