package model

import "strings"

// RawBusiness carries a canonical subset of known MapScraper fields plus an
// opaque attribute bag for everything else. Actor payloads have loose,
// evolving schemas; extraction helpers below are pure functions over the bag
// and must tolerate missing keys.
type RawBusiness struct {
	Name        string
	PlaceID     string
	Address     Address
	Lat, Lon    float64
	Phone       string
	Website     string
	Categories  []string
	Rating      float64
	ReviewCount int
	Hours       Hours

	FacebookURL  string
	InstagramURL string
	LinkedInURL  string

	// Email is a direct email the map provider surfaced on the listing
	// itself (spec §2/§4.7 Phase 1 direct-email path), distinct from
	// anything later discovered by social/professional enrichment.
	Email string

	ReviewDistribution map[int]float64
	ReviewTags         []string
	PeopleAlsoSearch   []RawCompetitor

	// AdditionalInfo mirrors the map provider's free-form attribute bag
	// (service options, payments, accessibility, highlights, …), each
	// value a list of strings as returned by the actor.
	AdditionalInfo map[string][]string

	BookingLinks []string
}

// RawCompetitor is one "people also search for" entry before capping/mapping
// into model.Competitor.
type RawCompetitor struct {
	Name    string
	PlaceID string
}

// DeriveBusinessFlags extracts AttributeFlags from a raw business's
// additional-info attribute bag. Tolerant of missing keys; matches on
// lowercased substrings the way the map provider's free-text buckets are
// authored.
func DeriveBusinessFlags(raw RawBusiness) AttributeFlags {
	text := flattenAdditionalInfo(raw.AdditionalInfo)
	return AttributeFlags{
		WomenOwned:           strings.Contains(text, "women-owned") || strings.Contains(text, "women owned"),
		SmallBusiness:        strings.Contains(text, "small business"),
		WheelchairAccessible: strings.Contains(text, "wheelchair"),
		BlackOwned:           strings.Contains(text, "black-owned") || strings.Contains(text, "black owned"),
		VeteranOwned:         strings.Contains(text, "veteran-owned") || strings.Contains(text, "veteran owned"),
		LGBTQOwned:           strings.Contains(text, "lgbtq"),
	}
}

func flattenAdditionalInfo(info map[string][]string) string {
	var sb strings.Builder
	for _, values := range info {
		for _, v := range values {
			sb.WriteString(strings.ToLower(v))
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

// DeriveBookingURL returns the first usable booking link, if any.
func DeriveBookingURL(raw RawBusiness) string {
	if len(raw.BookingLinks) > 0 {
		return raw.BookingLinks[0]
	}
	return ""
}

// DeriveReviewDistribution copies the raw star -> percent map, defaulting to
// an empty map rather than nil so callers can range over it safely.
func DeriveReviewDistribution(raw RawBusiness) map[int]float64 {
	if raw.ReviewDistribution == nil {
		return map[int]float64{}
	}
	return raw.ReviewDistribution
}

// DeriveSentimentTags returns up to 10 non-empty review tags, the original
// source's cap, preserving order.
func DeriveSentimentTags(raw RawBusiness) []string {
	tags := make([]string, 0, min(10, len(raw.ReviewTags)))
	for _, t := range raw.ReviewTags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		tags = append(tags, t)
		if len(tags) == 10 {
			break
		}
	}
	return tags
}

// DeriveCompetitors maps up to 10 "people also search for" entries into
// Competitor records.
func DeriveCompetitors(raw RawBusiness) []Competitor {
	n := len(raw.PeopleAlsoSearch)
	if n > 10 {
		n = 10
	}
	out := make([]Competitor, 0, n)
	for i := 0; i < n; i++ {
		c := raw.PeopleAlsoSearch[i]
		out = append(out, Competitor{Name: c.Name, PlaceID: c.PlaceID})
	}
	return out
}

// contactNameFromSlug maps "/in/jane-doe" or "/in/john.smith-12345" style
// LinkedIn personal-profile slugs into a best-effort (first, last) name.
func contactNameFromSlug(slug string) *ContactName {
	slug = strings.Trim(slug, "/")
	slug = strings.TrimPrefix(slug, "in/")
	if slug == "" {
		return nil
	}
	// Strip a trailing numeric/hash suffix often appended by LinkedIn
	// ("jane-doe-04a1b2c3").
	parts := strings.Split(slug, "-")
	for len(parts) > 1 && isLikelyIDSuffix(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return nil
	}
	first := strings.Title(strings.ReplaceAll(parts[0], ".", " ")) //nolint:staticcheck
	var last string
	if len(parts) > 1 {
		last = strings.Title(strings.Join(parts[1:], " ")) //nolint:staticcheck
	}
	return &ContactName{First: first, Last: last}
}

func isLikelyIDSuffix(s string) bool {
	if len(s) < 4 {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= len(s)/2
}

// DeriveContactName parses a personal LinkedIn profile URL (/in/...) into a
// ContactName, returning nil for company pages or unparseable slugs.
func DeriveContactName(profileURL string) *ContactName {
	idx := strings.Index(profileURL, "/in/")
	if idx < 0 {
		return nil
	}
	slug := profileURL[idx+len("/in/"):]
	if i := strings.IndexAny(slug, "/?#"); i >= 0 {
		slug = slug[:i]
	}
	return contactNameFromSlug(slug)
}
