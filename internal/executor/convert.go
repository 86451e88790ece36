package executor

import (
	"strings"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/professionalscraper"
	"github.com/sells-group/leadgen-engine/pkg/socialscraper"
)

// deriveBusiness converts one MapScraper result into a persistable Business,
// applying the RawBusiness attribute-bag extraction helpers and normalising
// whichever social URLs the map provider happened to surface directly.
func deriveBusiness(raw model.RawBusiness, campaignID string) model.Business {
	facebookURL := raw.FacebookURL
	if facebookURL != "" {
		facebookURL = socialscraper.NormalizeURL(facebookURL)
	}
	linkedInURL := raw.LinkedInURL
	if linkedInURL != "" {
		linkedInURL = professionalscraper.NormalizeURL(linkedInURL)
	}

	email := strings.TrimSpace(raw.Email)
	emailSource := model.EmailSourceNone
	if email != "" {
		emailSource = model.EmailSourceGoogleMaps
	}

	return model.Business{
		ID:                    model.NewID(),
		CampaignID:            campaignID,
		PlaceID:               raw.PlaceID,
		Name:                  raw.Name,
		Address:               raw.Address,
		Phone:                 raw.Phone,
		Website:               raw.Website,
		Categories:            raw.Categories,
		Rating:                raw.Rating,
		ReviewCount:           raw.ReviewCount,
		Hours:                 raw.Hours,
		FacebookURL:           facebookURL,
		InstagramURL:          raw.InstagramURL,
		LinkedInURL:           linkedInURL,
		Email:                 email,
		EmailSource:           emailSource,
		Flags:                 model.DeriveBusinessFlags(raw),
		BookingURL:            model.DeriveBookingURL(raw),
		ReviewDistributionPct: model.DeriveReviewDistribution(raw),
		SentimentTags:         model.DeriveSentimentTags(raw),
		Competitors:           model.DeriveCompetitors(raw),
		NeedsEnrichment:       true,
	}
}

// dedupeByPlaceID keeps the first occurrence of each place id, the
// within-batch, per-output-ZIP dedup spec §4.7 Phase 1 requires.
func dedupeByPlaceID(businesses []model.Business) []model.Business {
	seen := make(map[string]bool, len(businesses))
	out := make([]model.Business, 0, len(businesses))
	for _, b := range businesses {
		if b.PlaceID == "" || seen[b.PlaceID] {
			continue
		}
		seen[b.PlaceID] = true
		out = append(out, b)
	}
	return out
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func chunkBusinesses(items []model.Business, size int) [][]model.Business {
	if size <= 0 {
		size = len(items)
	}
	var out [][]model.Business
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
