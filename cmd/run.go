package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/llm"
)

var (
	runCampaignID string
	runMaxPerZip  int
	runTest       bool
)

// runCmd drives an existing draft/paused campaign through the four-phase
// pipeline, or — with --test — exercises a single connectivity smoke test
// against every external collaborator without touching the store.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a campaign, or smoke-test connectivity to every external service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runTest {
			return runConnectivityTest(ctx)
		}

		if runCampaignID == "" {
			return eris.New("run: --campaign-id is required (or pass --test)")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Executor.Execute(ctx, runCampaignID, runMaxPerZip)
		if err != nil {
			return eris.Wrapf(err, "run: execute campaign %s", runCampaignID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return eris.Wrap(err, "run: encode summary")
		}

		if summary.Status == model.StatusFailed {
			os.Exit(1)
		}
		return nil
	},
}

// runConnectivityTest exercises one minimal call against each external
// collaborator (Apify map actor, email verifier, OpenAI) and reports a pass
// or fail per service. It never touches the configured store. Exit code 2
// on any connectivity failure, per spec §6.
func runConnectivityTest(ctx context.Context) error {
	if err := cfg.Validate("test"); err != nil {
		return err
	}

	env := newTestEnv()

	results := map[string]string{}
	ok := true

	testCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := env.scraper.Search(testCtx, []string{"coffee shop"}, []string{"10001"}, 1); err != nil {
		results["map_scraper"] = "fail: " + err.Error()
		ok = false
	} else {
		results["map_scraper"] = "ok"
	}

	if _, err := env.verifier.Verify(testCtx, "test@example.com"); err != nil {
		results["email_verifier"] = "fail: " + err.Error()
		ok = false
	} else {
		results["email_verifier"] = "ok"
	}

	if _, err := env.llmClient.CreateJSON(testCtx, llm.Request{
		Model:     cfg.OpenAI.LightModel,
		MaxTokens: 16,
		System:    "Reply with JSON only.",
		Prompt:    `Reply with {"ok": true}.`,
	}); err != nil {
		results["llm"] = "fail: " + err.Error()
		ok = false
	} else {
		results["llm"] = "ok"
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	if !ok {
		os.Exit(2)
	}
	return nil
}

var (
	createName     string
	createLocation string
	createKeywords string
	createProfile  string
)

// createCmd runs the CoverageAnalyzer and persists a new draft campaign,
// the "Create" half of the PipelineExecutor contract (spec §4.7).
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Analyze coverage for a location+keywords target and create a draft campaign",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if createLocation == "" {
			return eris.New("create: --location is required")
		}
		keywords := splitCommaList(createKeywords)
		if len(keywords) == 0 {
			return eris.New("create: --keywords is required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		name := createName
		if name == "" {
			name = createLocation + " / " + strings.Join(keywords, ", ")
		}

		campaign, err := env.Executor.Create(ctx, name, createLocation, keywords, model.CoverageProfile(createProfile))
		if err != nil {
			return eris.Wrap(err, "create: coverage analysis")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(campaign)
	},
}

var scheduleEvery string

// scheduleCmd re-invokes run on a fixed interval until interrupted — an
// in-process substitute for an external cron, illustrative per spec §6 (the
// HTTP control-plane and its own scheduler are out of scope collaborators).
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run a campaign repeatedly on a fixed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runCampaignID == "" {
			return eris.New("schedule: --campaign-id is required")
		}
		interval, err := time.ParseDuration(scheduleEvery)
		if err != nil {
			return eris.Wrapf(err, "schedule: invalid --every %q", scheduleEvery)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			summary, err := env.Executor.Execute(ctx, runCampaignID, runMaxPerZip)
			if err != nil {
				zap.L().Error("schedule: run failed", zap.Error(err))
			} else {
				zap.L().Info("schedule: run completed",
					zap.String("status", string(summary.Status)),
					zap.Int("businesses_found", summary.BusinessesFound),
					zap.Int("emails_found", summary.EmailsFound))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	runCmd.Flags().StringVar(&runCampaignID, "campaign-id", "", "campaign to execute")
	runCmd.Flags().IntVar(&runMaxPerZip, "max-per-zip", 20, "max results per keyword per ZIP for the map scraper")
	runCmd.Flags().BoolVar(&runTest, "test", false, "run a single-call connectivity test against every external service, ignoring --campaign-id")

	createCmd.Flags().StringVar(&createName, "name", "", "campaign name (defaults to location/keywords)")
	createCmd.Flags().StringVar(&createLocation, "location", "", "target location: city, state, or ZIP")
	createCmd.Flags().StringVar(&createKeywords, "keywords", "", "comma-separated business keywords")
	createCmd.Flags().StringVar(&createProfile, "profile", string(model.ProfileBalanced), "coverage profile: budget|balanced|aggressive|custom")

	scheduleCmd.Flags().StringVar(&runCampaignID, "campaign-id", "", "campaign to execute on each tick")
	scheduleCmd.Flags().StringVar(&scheduleEvery, "every", "15m", "interval between runs, e.g. 15m")
	scheduleCmd.Flags().IntVar(&runMaxPerZip, "max-per-zip", 20, "max results per keyword per ZIP for the map scraper")

	rootCmd.AddCommand(runCmd, createCmd, scheduleCmd)
}
