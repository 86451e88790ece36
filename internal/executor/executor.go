// Package executor implements PipelineExecutor: the orchestrator that drives
// one campaign through coverage analysis, map discovery, social enrichment,
// professional enrichment, and copy generation, in that strict order, while
// each stage internally fans out to the configured concurrency limit.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-engine/internal/config"
	"github.com/sells-group/leadgen-engine/internal/coverage"
	"github.com/sells-group/leadgen-engine/internal/cost"
	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/internal/rategovernor"
	"github.com/sells-group/leadgen-engine/internal/repository"
	"github.com/sells-group/leadgen-engine/pkg/professionalscraper"
	"github.com/sells-group/leadgen-engine/pkg/socialscraper"
	"github.com/sells-group/leadgen-engine/pkg/writer"
)

// errPaused is returned internally by a phase when it observes the campaign
// row flipped to paused between batches. It never reaches the caller as a
// wrapped error — Execute translates it into a paused Summary.
var errPaused = errors.New("executor: campaign paused")

// MapScraper is the subset of pkg/mapscraper.Scraper the executor depends on.
type MapScraper interface {
	Search(ctx context.Context, keywords []string, zips []string, maxResultsPerQuery int) (map[string][]model.RawBusiness, error)
}

// SocialScraper is the subset of pkg/socialscraper.Scraper the executor
// depends on.
type SocialScraper interface {
	Enrich(ctx context.Context, urls []string) ([]socialscraper.Enrichment, error)
}

// ProfessionalScraper is the subset of pkg/professionalscraper.Scraper the
// executor depends on.
type ProfessionalScraper interface {
	EnrichBatch(ctx context.Context, queries []professionalscraper.Query) ([]professionalscraper.ProfileResult, error)
}

// EmailVerifier is the subset of pkg/emailverifier.Verifier the executor
// depends on.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) (model.VerificationResult, error)
}

// CopyWriter is the subset of pkg/writer.Writer the executor depends on.
type CopyWriter interface {
	Generate(ctx context.Context, in writer.Input) model.CopyResult
}

// Deps bundles every collaborator the Executor needs. All fields are
// required except Log, which defaults to zap's global logger.
type Deps struct {
	Repo                repository.Repository
	CoverageAnalyzer    *coverage.Analyzer
	MapScraper          MapScraper
	SocialScraper       SocialScraper
	ProfessionalScraper ProfessionalScraper
	EmailVerifier       EmailVerifier
	Writer              CopyWriter
	Governor            *rategovernor.Governor
	CostCalc            *cost.Calculator
	Product             writer.Product
	Pipeline            config.PipelineConfig
	Log                 *zap.Logger
}

// Executor is the PipelineExecutor component.
type Executor struct {
	deps Deps
	log  *zap.Logger
}

// New builds an Executor from its dependencies.
func New(deps Deps) *Executor {
	log := deps.Log
	if log == nil {
		log = zap.L()
	}
	return &Executor{deps: deps, log: log}
}

// Summary is Execute's return value: the campaign's terminal state plus the
// authoritative counts re-queried from the store.
type Summary struct {
	CampaignID       string
	Status           model.CampaignStatus
	BusinessesFound  int
	EmailsFound      int
	SocialPagesFound int
	ErrorMessage     string
}

// Create runs the CoverageAnalyzer for a new campaign and persists it in
// draft status with its chosen ZIPs and cost estimate (spec §4.7 Create).
func (e *Executor) Create(ctx context.Context, name, location string, keywords []string, profile model.CoverageProfile) (*model.Campaign, error) {
	if len(keywords) == 0 {
		return nil, eris.New("executor: at least one keyword is required")
	}

	result, err := e.deps.CoverageAnalyzer.Analyze(ctx, location, keywords, profile)
	if err != nil {
		return nil, eris.Wrap(err, "executor: coverage analysis")
	}

	campaign := model.Campaign{
		ID:               model.NewID(),
		Name:             name,
		Location:         location,
		Keywords:         keywords,
		Profile:          profile,
		Status:           model.StatusDraft,
		EstimatedCostUSD: result.EstimatedCost.Total(),
		CreatedAt:        time.Now().UTC(),
	}
	created, err := e.deps.Repo.CreateCampaign(ctx, campaign)
	if err != nil {
		return nil, eris.Wrap(err, "executor: persist campaign")
	}

	if result.ManualMode || len(result.Zips) == 0 {
		e.log.Warn("executor: coverage analyzer returned no zips, campaign created in manual mode",
			zap.String("campaign_id", created.ID))
		return created, nil
	}

	cells := make([]model.CoverageCell, 0, len(result.Zips))
	for _, zip := range result.Zips {
		c := result.Candidates[zip]
		cells = append(cells, model.CoverageCell{
			CampaignID:          created.ID,
			Zip:                 zip,
			Keywords:            keywords,
			EstimatedBusinesses: c.EstimatedBusinesses,
			DensityScore:        c.DensityScore,
			RelevanceScore:      c.RelevanceScore,
		})
	}
	if err := e.deps.Repo.UpsertCoverageCells(ctx, cells); err != nil {
		return nil, eris.Wrap(err, "executor: persist coverage cells")
	}
	return created, nil
}

// FromManualZips creates a campaign directly from an operator-supplied ZIP
// list, bypassing LLM candidate generation — the "custom" profile path.
func (e *Executor) FromManualZips(ctx context.Context, name, location string, keywords []string, zips []string, profile model.CoverageProfile) (*model.Campaign, error) {
	result, err := e.deps.CoverageAnalyzer.FromManualZips(zips, profile)
	if err != nil {
		return nil, eris.Wrap(err, "executor: manual zip coverage")
	}

	campaign := model.Campaign{
		ID:               model.NewID(),
		Name:             name,
		Location:         location,
		Keywords:         keywords,
		Profile:          profile,
		Status:           model.StatusDraft,
		EstimatedCostUSD: result.EstimatedCost.Total(),
		CreatedAt:        time.Now().UTC(),
	}
	created, err := e.deps.Repo.CreateCampaign(ctx, campaign)
	if err != nil {
		return nil, eris.Wrap(err, "executor: persist campaign")
	}

	cells := make([]model.CoverageCell, 0, len(result.Zips))
	for _, zip := range result.Zips {
		c := result.Candidates[zip]
		cells = append(cells, model.CoverageCell{
			CampaignID:          created.ID,
			Zip:                 zip,
			Keywords:            keywords,
			EstimatedBusinesses: c.EstimatedBusinesses,
			DensityScore:        c.DensityScore,
			RelevanceScore:      c.RelevanceScore,
		})
	}
	if err := e.deps.Repo.UpsertCoverageCells(ctx, cells); err != nil {
		return nil, eris.Wrap(err, "executor: persist coverage cells")
	}
	return created, nil
}

// Pause flips a running campaign to paused. The executor does not hold any
// in-process cancellation channel for a running campaign — Execute notices
// the flip by re-reading the campaign row between batches, the same
// authoritative-re-query discipline the rest of the engine uses for counters.
func (e *Executor) Pause(ctx context.Context, campaignID string) error {
	return e.deps.Repo.UpdateCampaignStatus(ctx, campaignID, model.StatusPaused, "")
}

// Resume re-enters Execute for a paused campaign. Every phase's query
// (unscraped cells, businesses still needing enrichment, businesses missing
// copy) already excludes completed work, so resuming is just calling Execute
// again rather than a distinct code path.
func (e *Executor) Resume(ctx context.Context, campaignID string, maxPerZip int) (*Summary, error) {
	return e.Execute(ctx, campaignID, maxPerZip)
}

// Execute runs the four phases for an existing draft or paused campaign
// (spec §4.7). It is idempotent: rerunning a partially completed campaign
// only processes what its phase queries still find outstanding.
func (e *Executor) Execute(ctx context.Context, campaignID string, maxPerZip int) (*Summary, error) {
	campaign, err := e.deps.Repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "executor: load campaign %s", campaignID)
	}
	if campaign.Status == model.StatusRunning {
		return nil, eris.Errorf("executor: campaign %s is already running", campaignID)
	}
	if campaign.Status == model.StatusCompleted {
		return nil, eris.Errorf("executor: campaign %s already completed", campaignID)
	}

	log := e.log.With(zap.String("campaign_id", campaignID))

	if err := e.deps.Repo.UpdateCampaignStatus(ctx, campaignID, model.StatusRunning, ""); err != nil {
		return nil, eris.Wrap(err, "executor: mark campaign running")
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		e.runHeartbeat(heartbeatCtx, campaignID)
	}()
	defer func() {
		stopHeartbeat()
		heartbeatWG.Wait()
	}()

	var businessesFound, emailsFound, socialPagesFound int

	phase1Ctx, cancel1 := phaseTimeout(ctx, e.deps.Pipeline.Phase1TimeoutMinutes, 30)
	err = e.phase1(phase1Ctx, campaign, maxPerZip, &businessesFound, &emailsFound)
	cancel1()
	if result, done := e.handlePhaseOutcome(ctx, campaignID, "phase1", err, log); done {
		return result, nil
	}

	if err := e.deps.Repo.UpdateCampaignCounts(ctx, campaignID, businessesFound, emailsFound, socialPagesFound); err != nil {
		log.Warn("executor: failed to persist phase1 counts", zap.Error(err))
	}

	phase2Ctx, cancel2 := phaseTimeout(ctx, e.deps.Pipeline.Phase2TimeoutMinutes, 60)
	err = e.phase2(phase2Ctx, campaignID, &emailsFound, &socialPagesFound)
	cancel2()
	if result, done := e.handlePhaseOutcome(ctx, campaignID, "phase2", err, log); done {
		return result, nil
	}
	if err := e.deps.Repo.UpdateCampaignCounts(ctx, campaignID, businessesFound, emailsFound, socialPagesFound); err != nil {
		log.Warn("executor: failed to persist phase2 counts", zap.Error(err))
	}

	phase25Ctx, cancel25 := phaseTimeout(ctx, e.deps.Pipeline.Phase2point5TimeoutMinutes, 90)
	err = e.phase2point5(phase25Ctx, campaignID, &emailsFound)
	cancel25()
	if result, done := e.handlePhaseOutcome(ctx, campaignID, "phase2.5", err, log); done {
		return result, nil
	}
	if err := e.deps.Repo.UpdateCampaignCounts(ctx, campaignID, businessesFound, emailsFound, socialPagesFound); err != nil {
		log.Warn("executor: failed to persist phase2.5 counts", zap.Error(err))
	}

	// Phase 3 is not wrapped in a timeout (spec §4.7): its worker pool
	// self-limits and failures are always logged/skipped, never fatal.
	if err := e.phase3(ctx, campaignID); err != nil {
		if errors.Is(err, errPaused) {
			return e.finalizePaused(ctx, campaignID)
		}
		log.Warn("executor: phase3 failed, continuing to finalisation", zap.Error(err))
	}

	return e.finalizeCompleted(ctx, campaignID, businessesFound, emailsFound, socialPagesFound, log)
}

// handlePhaseOutcome classifies a phase's returned error: nil means the
// phase returned normally (possibly having logged/skipped internal
// failures); errPaused means Execute should stop and report paused;
// anything else is a phase timeout or fatal infrastructure error and the
// campaign is marked failed. The bool return reports whether Execute should
// stop and return the accompanying Summary now.
func (e *Executor) handlePhaseOutcome(ctx context.Context, campaignID, phase string, err error, log *zap.Logger) (*Summary, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, errPaused) {
		summary, finalizeErr := e.finalizePaused(ctx, campaignID)
		if finalizeErr != nil {
			log.Warn("executor: failed to finalize paused campaign", zap.Error(finalizeErr))
		}
		return summary, true
	}

	log.Error("executor: phase failed fatally, marking campaign failed", zap.String("phase", phase), zap.Error(err))
	msg := phase + ": " + err.Error()
	if updateErr := e.deps.Repo.UpdateCampaignStatus(ctx, campaignID, model.StatusFailed, msg); updateErr != nil {
		log.Warn("executor: failed to persist failed status", zap.Error(updateErr))
	}
	return &Summary{CampaignID: campaignID, Status: model.StatusFailed, ErrorMessage: msg}, true
}

func (e *Executor) finalizePaused(ctx context.Context, campaignID string) (*Summary, error) {
	campaign, err := e.deps.Repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return &Summary{CampaignID: campaignID, Status: model.StatusPaused}, err
	}
	return &Summary{
		CampaignID:       campaignID,
		Status:           model.StatusPaused,
		BusinessesFound:  campaign.BusinessesFound,
		EmailsFound:      campaign.EmailsFound,
		SocialPagesFound: campaign.SocialPagesFound,
	}, nil
}

func (e *Executor) finalizeCompleted(ctx context.Context, campaignID string, businesses, emails, socialPages int, log *zap.Logger) (*Summary, error) {
	if err := e.deps.Repo.UpdateCampaignCounts(ctx, campaignID, businesses, emails, socialPages); err != nil {
		log.Warn("executor: failed to persist final counts", zap.Error(err))
	}
	if err := e.deps.Repo.CompleteCampaign(ctx, campaignID); err != nil {
		return nil, eris.Wrap(err, "executor: complete campaign")
	}
	if _, err := e.deps.Repo.RefreshMasterLeads(ctx, campaignID); err != nil {
		log.Warn("executor: failed to refresh master leads", zap.Error(err))
	}
	return &Summary{
		CampaignID:       campaignID,
		Status:           model.StatusCompleted,
		BusinessesFound:  businesses,
		EmailsFound:      emails,
		SocialPagesFound: socialPages,
	}, nil
}

// runHeartbeat writes campaign.last_heartbeat every HeartbeatIntervalS
// seconds until ctx is cancelled (spec §4.7: stopped in the terminal path).
func (e *Executor) runHeartbeat(ctx context.Context, campaignID string) {
	interval := time.Duration(e.deps.Pipeline.HeartbeatIntervalS) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.deps.Repo.UpdateCampaignHeartbeat(ctx, campaignID); err != nil {
				e.log.Warn("executor: heartbeat write failed", zap.String("campaign_id", campaignID), zap.Error(err))
			}
		}
	}
}

// checkPaused re-reads the campaign row and reports whether it has been
// flipped to paused, the between-batch suspension point spec §4.7 requires.
func (e *Executor) checkPaused(ctx context.Context, campaignID string) error {
	campaign, err := e.deps.Repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil // a transient read failure here is not worth aborting the batch loop over
	}
	if campaign.Status == model.StatusPaused {
		return errPaused
	}
	return nil
}

func phaseTimeout(ctx context.Context, minutes, fallback int) (context.Context, context.CancelFunc) {
	if minutes <= 0 {
		minutes = fallback
	}
	return context.WithTimeout(ctx, time.Duration(minutes)*time.Minute)
}

// verifyAndTrack verifies a single email, persists the verification record,
// and tracks the verifier API cost. Errors are logged and swallowed — a
// failed verification attempt never aborts the enclosing phase.
func (e *Executor) verifyAndTrack(ctx context.Context, campaignID, businessID, email string, source model.SocialEnrichmentSource, log *zap.Logger) {
	result, err := e.deps.EmailVerifier.Verify(ctx, email)
	if err != nil {
		log.Warn("executor: email verification call failed", zap.String("email", email), zap.Error(err))
	}
	verification := model.EmailVerification{
		ID:         model.NewID(),
		BusinessID: businessID,
		CampaignID: campaignID,
		Email:      email,
		Source:     source,
		Result:     result,
		VerifiedAt: time.Now().UTC(),
	}
	if err := e.deps.Repo.UpdateEmailVerification(ctx, businessID, verification); err != nil {
		log.Warn("executor: failed to save email verification", zap.String("business_id", businessID), zap.Error(err))
	}
	if e.deps.CostCalc != nil {
		if err := e.deps.Repo.TrackApiCost(ctx, campaignID, "verifier", e.deps.CostCalc.EmailVerification(1), 1); err != nil {
			log.Warn("executor: failed to track verifier cost", zap.Error(err))
		}
	}
}

// newLimitedGroup is a small helper so phase2point5 reads top-to-bottom
// without repeating the SetLimit/WithContext boilerplate.
func newLimitedGroup(ctx context.Context, limit int) (*errgroup.Group, context.Context) {
	g, gCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return g, gCtx
}
