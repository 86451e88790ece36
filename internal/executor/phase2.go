package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/socialscraper"
)

// maxSocialEnrichmentCandidates caps how many businesses Phase 2 considers
// per run (spec §4.7: "default cap 500").
const maxSocialEnrichmentCandidates = 500

// socialURLBatchSize is the sub-batch size for Facebook scraper calls.
const socialURLBatchSize = 50

// phase2 enriches businesses with Facebook pages: normalise and dedupe their
// URLs, scrape in sub-batches, fan each result out to every business sharing
// the normalised URL (chains), and verify the primary email each page
// yields. Per-batch scraper failures are logged and skipped.
func (e *Executor) phase2(ctx context.Context, campaignID string, emailsFound, socialPagesFound *int) error {
	log := e.log.With(zap.String("campaign_id", campaignID), zap.String("phase", "phase2"))

	candidates, err := e.deps.Repo.GetBusinessesForSocialEnrichment(ctx, campaignID)
	if err != nil {
		return err
	}
	if len(candidates) > maxSocialEnrichmentCandidates {
		log.Info("executor: phase2 candidate pool exceeds cap, truncating",
			zap.Int("candidates", len(candidates)), zap.Int("cap", maxSocialEnrichmentCandidates))
		candidates = candidates[:maxSocialEnrichmentCandidates]
	}

	businessesByURL := make(map[string][]model.Business, len(candidates))
	for _, b := range candidates {
		normalized := socialscraper.NormalizeURL(b.FacebookURL)
		businessesByURL[normalized] = append(businessesByURL[normalized], b)
	}

	urls := make([]string, 0, len(businessesByURL))
	for u := range businessesByURL {
		urls = append(urls, u)
	}

	processed := 0
	for _, batch := range chunkStrings(urls, socialURLBatchSize) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.checkPaused(ctx, campaignID); err != nil {
			return err
		}

		enrichments, err := e.deps.SocialScraper.Enrich(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("executor: social scraper batch failed, skipping batch", zap.Int("urls", len(batch)), zap.Error(err))
			continue
		}
		if e.deps.CostCalc != nil {
			if err := e.deps.Repo.TrackApiCost(ctx, campaignID, socialscraper.ServiceName,
				e.deps.CostCalc.Social(len(batch)), len(batch)); err != nil {
				log.Warn("executor: failed to track social cost", zap.Error(err))
			}
		}

		for _, enrichment := range enrichments {
			businesses := businessesByURL[enrichment.URL]
			for _, b := range businesses {
				fb := model.FacebookEnrichment{
					ID:           model.NewID(),
					BusinessID:   b.ID,
					CampaignID:   campaignID,
					URL:          enrichment.URL,
					PageName:     enrichment.PageName,
					Likes:        enrichment.Likes,
					Followers:    enrichment.Followers,
					FoundEmails:  enrichment.Emails,
					PrimaryEmail: enrichment.PrimaryEmail,
					Phone:        enrichment.Phone,
					Address:      enrichment.Address,
					CreatedAt:    time.Now().UTC(),
				}
				if err := e.deps.Repo.SaveSocialEnrichment(ctx, b.ID, fb); err != nil {
					log.Warn("executor: failed to save social enrichment", zap.String("business_id", b.ID), zap.Error(err))
					continue
				}
				if enrichment.PrimaryEmail != "" {
					e.verifyAndTrack(ctx, campaignID, b.ID, enrichment.PrimaryEmail, model.SourceFacebook, log)
				}
			}
			processed++
		}
	}

	*socialPagesFound = processed

	authoritativeEmails, err := e.deps.Repo.CountBusinessesWithEmail(ctx, campaignID)
	if err != nil {
		return err
	}
	*emailsFound = authoritativeEmails

	return ctx.Err()
}
