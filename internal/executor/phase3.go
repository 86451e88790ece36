package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/pkg/writer"
)

// icebreakerWorkerFallback is used when config does not set a worker count.
const icebreakerWorkerFallback = 5

// phase3 generates icebreaker copy for every business with an email (the
// verifier's verdict is not consulted) that has not yet been written to (spec §4.7 Phase 3): a fixed pool
// of workers pulls from a shared queue, a mutex guards only the completed
// counter, and Writer.Generate never errors so the only failure mode here is
// a SaveWriterCopy write, which is logged and skipped per business.
func (e *Executor) phase3(ctx context.Context, campaignID string) error {
	log := e.log.With(zap.String("campaign_id", campaignID), zap.String("phase", "phase3"))

	campaign, err := e.deps.Repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	candidates, err := e.deps.Repo.GetBusinessesNeedingCopy(ctx, campaignID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	workers := e.deps.Pipeline.MaxParallelIcebreakerWorkers
	if workers <= 0 {
		workers = icebreakerWorkerFallback
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	queue := make(chan int, len(candidates))
	for i := range candidates {
		queue <- i
	}
	close(queue)

	var mu sync.Mutex
	var completed int
	var wg sync.WaitGroup
	var pausedOnce sync.Once
	var pauseErr error

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					return
				}
				if err := e.checkPaused(ctx, campaignID); err != nil {
					pausedOnce.Do(func() { pauseErr = err })
					return
				}

				b := candidates[i]
				result := e.deps.Writer.Generate(ctx, writer.Input{
					Business:      b,
					Template:      campaign.Template,
					Product:       e.deps.Product,
					PageSummaries: nil,
				})
				if err := e.deps.Repo.SaveWriterCopy(ctx, b.ID, result); err != nil {
					log.Warn("executor: failed to save writer copy", zap.String("business_id", b.ID), zap.Error(err))
					continue
				}
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	log.Info("executor: phase3 complete", zap.Int("completed", completed), zap.Int("candidates", len(candidates)))

	if pauseErr != nil {
		return pauseErr
	}
	return ctx.Err()
}
