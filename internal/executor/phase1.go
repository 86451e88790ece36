package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/mapscraper"
)

// zipBatchSize is the number of ZIPs grouped into one MapScraper run, per
// cell (spec §4.7 Phase 1: "ZIPs are batched in groups of 10").
const zipBatchSize = 10

// phase1 runs map discovery over every unscraped coverage cell, batch by
// batch, and writes the authoritative totals back into businessesFound (summed
// from the coverage_cells rows it just updated) and emailsFound (from
// Repository.CountBusinessesWithEmail). A non-nil return is always either errPaused or a fatal
// (timeout/infra) error — per-batch actor failures are logged and skipped.
func (e *Executor) phase1(ctx context.Context, campaign *model.Campaign, maxPerZip int, businessesFound, emailsFound *int) error {
	log := e.log.With(zap.String("campaign_id", campaign.ID), zap.String("phase", "phase1"))

	cells, err := e.deps.Repo.ListCoverageCells(ctx, campaign.ID)
	if err != nil {
		return err
	}

	var pendingZips []string
	for _, c := range cells {
		if !c.Scraped() {
			pendingZips = append(pendingZips, c.Zip)
		}
	}

	for _, batch := range chunkStrings(pendingZips, zipBatchSize) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.checkPaused(ctx, campaign.ID); err != nil {
			return err
		}

		byZip, err := e.deps.MapScraper.Search(ctx, campaign.Keywords, batch, maxPerZip)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("executor: map scraper batch failed, skipping batch", zap.Strings("zips", batch), zap.Error(err))
			continue
		}

		var batchBusinesses []model.Business
		for zip, raws := range byZip {
			converted := make([]model.Business, 0, len(raws))
			for _, raw := range raws {
				converted = append(converted, deriveBusiness(raw, campaign.ID))
			}
			byZip[zip] = nil // allow GC of the raw slice once converted
			batchBusinesses = append(batchBusinesses, dedupeByPlaceID(converted)...)
		}

		if len(batchBusinesses) > 0 {
			if _, err := e.deps.Repo.UpsertBusinesses(ctx, campaign.ID, batchBusinesses); err != nil {
				log.Warn("executor: failed to upsert phase1 businesses", zap.Error(err))
			}
		}
		if e.deps.CostCalc != nil {
			if err := e.deps.Repo.TrackApiCost(ctx, campaign.ID, mapscraper.ServiceName,
				e.deps.CostCalc.MapScraping(len(batchBusinesses)), len(batchBusinesses)); err != nil {
				log.Warn("executor: failed to track map scraping cost", zap.Error(err))
			}
		}

		for _, b := range batchBusinesses {
			if b.Email == "" {
				continue
			}
			e.verifyAndTrack(ctx, campaign.ID, b.ID, b.Email, model.SourceGoogleMaps, log)
		}

		for _, zip := range batch {
			matched := countByZip(batchBusinesses, zip)
			emailed := countWithEmail(batchBusinesses, zip)
			cost := 0.0
			if e.deps.CostCalc != nil {
				cost = e.deps.CostCalc.MapScraping(matched)
			}
			if err := e.deps.Repo.UpdateCoverageStatus(ctx, campaign.ID, zip, matched, emailed, cost); err != nil {
				log.Warn("executor: failed to update coverage status", zap.String("zip", zip), zap.Error(err))
			}
		}
	}

	// Authoritative re-query: sum the coverage_cells rows this phase just
	// wrote rather than trusting any upsert return value or in-memory tally
	// (spec §4.7/§5: campaign counters come only from the database).
	refreshed, err := e.deps.Repo.ListCoverageCells(ctx, campaign.ID)
	if err != nil {
		return err
	}
	totalBusinesses := 0
	for _, c := range refreshed {
		totalBusinesses += c.BusinessesFound
	}
	*businessesFound = totalBusinesses

	authoritativeEmails, err := e.deps.Repo.CountBusinessesWithEmail(ctx, campaign.ID)
	if err != nil {
		return err
	}
	*emailsFound = authoritativeEmails

	return ctx.Err()
}

func countByZip(businesses []model.Business, zip string) int {
	n := 0
	for _, b := range businesses {
		if b.Address.Zip == zip {
			n++
		}
	}
	return n
}

func countWithEmail(businesses []model.Business, zip string) int {
	n := 0
	for _, b := range businesses {
		if b.Address.Zip == zip && b.HasEmail() {
			n++
		}
	}
	return n
}
