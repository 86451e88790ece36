package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/professionalscraper"
)

// professionalBatchFallback is used when config does not set a batch size.
const professionalBatchFallback = 15

// phase2point5 enriches businesses via LinkedIn search-and-scrape, running up
// to MaxParallelProfessionalBatches batches concurrently. Each batch worker
// always returns nil to the errgroup on a scraper failure, so one bad batch
// never cancels its siblings — only context cancellation and checkPaused do.
func (e *Executor) phase2point5(ctx context.Context, campaignID string, emailsFound *int) error {
	log := e.log.With(zap.String("campaign_id", campaignID), zap.String("phase", "phase2.5"))

	candidates, err := e.deps.Repo.GetBusinessesForProfessionalEnrichment(ctx, campaignID)
	if err != nil {
		return err
	}

	batchSize := e.deps.Pipeline.ProfessionalBatchSize
	if batchSize <= 0 {
		batchSize = professionalBatchFallback
	}
	batches := chunkBusinesses(candidates, batchSize)

	g, gCtx := newLimitedGroup(ctx, e.deps.Pipeline.MaxParallelProfessionalBatches)

	var pauseOnce sync.Once
	var pauseErr error

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			if err := e.checkPaused(gCtx, campaignID); err != nil {
				pauseOnce.Do(func() { pauseErr = err })
				return err
			}

			queries := make([]professionalscraper.Query, 0, len(batch))
			for _, b := range batch {
				queries = append(queries, professionalscraper.Query{
					BusinessID: b.ID,
					Name:       b.Name,
					City:       b.Address.City,
					Website:    b.Website,
				})
			}

			results, err := e.deps.ProfessionalScraper.EnrichBatch(gCtx, queries)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("executor: professional scraper batch failed, skipping batch", zap.Int("size", len(batch)), zap.Error(err))
				return nil
			}
			if e.deps.CostCalc != nil {
				if err := e.deps.Repo.TrackApiCost(gCtx, campaignID, professionalscraper.ServiceName,
					e.deps.CostCalc.Professional(len(batch)), len(batch)); err != nil {
					log.Warn("executor: failed to track professional cost", zap.Error(err))
				}
			}

			for _, r := range results {
				tier := model.TierNotFound
				primaryEmail := ""
				switch {
				case r.VerifiedEmail != "":
					tier = model.TierLinkedInVerified
					primaryEmail = r.VerifiedEmail
				case len(r.GeneratedEmails) > 0:
					tier = model.TierPatternGenerated
					primaryEmail = r.GeneratedEmails[0]
				}

				profileType := "personal"
				if r.IsCompany {
					profileType = "company"
				}
				li := model.LinkedInEnrichment{
					ID:                model.NewID(),
					BusinessID:        r.BusinessID,
					CampaignID:        campaignID,
					ProfileURL:        r.ProfileURL,
					ProfileType:       profileType,
					GeneratedPatterns: r.GeneratedEmails,
					PrimaryEmail:      primaryEmail,
					EmailQualityTier:  tier,
					Contact:           r.ContactName,
					CreatedAt:         time.Now().UTC(),
				}
				if err := e.deps.Repo.SaveProfessionalEnrichment(gCtx, r.BusinessID, li); err != nil {
					log.Warn("executor: failed to save professional enrichment", zap.String("business_id", r.BusinessID), zap.Error(err))
					continue
				}
				if primaryEmail != "" {
					e.verifyAndTrack(gCtx, campaignID, r.BusinessID, primaryEmail, model.SourceLinkedIn, log)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if pauseErr != nil {
			return pauseErr
		}
		return err
	}

	authoritativeEmails, err := e.deps.Repo.CountBusinessesWithEmail(ctx, campaignID)
	if err != nil {
		return err
	}
	*emailsFound = authoritativeEmails

	return ctx.Err()
}
