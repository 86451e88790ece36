// Package coverage implements the CoverageAnalyzer: given a location string,
// a keyword list, and a coverage profile, it asks an LLM for candidate ZIPs
// (fanning out city-by-city in parallel for state-level searches) and then
// applies greedy distance-based spatial selection to minimise overlap.
package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-engine/internal/config"
	"github.com/sells-group/leadgen-engine/internal/cost"
	"github.com/sells-group/leadgen-engine/internal/geo"
	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/llm"
)

// minPopulationFloor filters the LLM's scored candidate ZIPs by population
// before spatial selection, so sparsely populated ZIPs are never scraped
// (original_source/modules/zipcode_optimizer.py equivalent;
// SPEC_FULL.md §C.2). Profile-dependent: aggressive campaigns admit sparser
// ZIPs than budget ones.
var minPopulationFloor = map[model.CoverageProfile]int{
	model.ProfileBudget:     1500,
	model.ProfileBalanced:   750,
	model.ProfileAggressive: 250,
	model.ProfileCustom:     500,
}

// Candidate is one scored ZIP before spatial de-overlap.
type Candidate struct {
	Zip               string
	DensityScore      float64
	RelevanceScore     float64
	EstimatedBusinesses int
	Score             float64 // 0.6*density + 0.4*relevance
}

// CostEstimate breaks down the estimated spend for a chosen set of ZIPs
// (spec §4.3 step 5).
type CostEstimate struct {
	MapScrapingUSD       float64
	SocialUSD            float64
	ProfessionalUSD      float64
	EmailVerificationUSD float64
	LLMUSD               float64
}

// Total sums every component of the estimate.
func (c CostEstimate) Total() float64 {
	return c.MapScrapingUSD + c.SocialUSD + c.ProfessionalUSD + c.EmailVerificationUSD + c.LLMUSD
}

// Result is the CoverageAnalyzer's output for one (location, keywords,
// profile) request.
type Result struct {
	Zips          []string
	Candidates    map[string]Candidate
	SpacingMiles  float64
	EstimatedCost CostEstimate
	ManualMode    bool // true when the LLM failed or returned no candidates
}

// Analyzer is the CoverageAnalyzer component.
type Analyzer struct {
	llm      llm.Client
	catalog  *geo.Catalog
	calc     *cost.Calculator
	cfg      config.CoverageConfig
	heavyModel string
}

// New builds an Analyzer.
func New(llmClient llm.Client, catalog *geo.Catalog, calc *cost.Calculator, cfg config.CoverageConfig, heavyModel string) *Analyzer {
	return &Analyzer{llm: llmClient, catalog: catalog, calc: calc, cfg: cfg, heavyModel: heavyModel}
}

// profileTarget returns the min/max ZIP bounds and default spacing for a
// profile, falling back to the balanced preset for unknown custom configs
// with no explicit entry.
func (a *Analyzer) profileTarget(profile model.CoverageProfile) config.ProfileParams {
	if p, ok := a.cfg.Profiles[string(profile)]; ok {
		return p
	}
	return config.ProfileParams{MinZips: 10, MaxZips: 25, DefaultSpacing: 4.0}
}

// Analyze runs the full coverage-selection procedure for a location string,
// keyword list, and profile (spec §4.3 steps 1-5).
func (a *Analyzer) Analyze(ctx context.Context, location string, keywords []string, profile model.CoverageProfile) (*Result, error) {
	if len(keywords) == 0 {
		return nil, eris.New("coverage: at least one keyword is required")
	}

	classification := geo.Classify(location)

	switch classification.Kind {
	case geo.KindZip:
		return a.singleZipResult(classification.Zip, keywords)
	case geo.KindState:
		return a.analyzeState(ctx, classification, keywords, profile)
	default:
		return a.analyzeCity(ctx, classification.City, keywords, profile)
	}
}

// FromManualZips seeds a result directly from an operator-supplied ZIP list,
// bypassing LLM candidate generation (SPEC_FULL.md §C.5, the "custom"
// profile's user-defined coverage target). Spatial de-overlap and cost
// estimation still run.
func (a *Analyzer) FromManualZips(zips []string, profile model.CoverageProfile) (*Result, error) {
	if len(zips) == 0 {
		return nil, eris.New("coverage: manual ZIP list is empty")
	}

	candidates := make(map[string]Candidate, len(zips))
	for _, z := range zips {
		candidates[z] = Candidate{Zip: z, EstimatedBusinesses: 50, Score: 1.0}
	}

	target := a.profileTarget(profile)
	selected, spacing := a.selectSpatial(candidates, target)
	return &Result{
		Zips:          selected,
		Candidates:    candidates,
		SpacingMiles:  spacing,
		EstimatedCost: a.estimateCost(selected, candidates),
	}, nil
}

func (a *Analyzer) singleZipResult(zip string, keywords []string) (*Result, error) {
	candidates := map[string]Candidate{
		zip: {Zip: zip, EstimatedBusinesses: 250, Score: 1.0},
	}
	return &Result{
		Zips:          []string{zip},
		Candidates:    candidates,
		SpacingMiles:  0,
		EstimatedCost: a.estimateCost([]string{zip}, candidates),
	}, nil
}

func (a *Analyzer) analyzeCity(ctx context.Context, city string, keywords []string, profile model.CoverageProfile) (*Result, error) {
	candidates, err := a.requestCandidates(ctx, city, keywords)
	if err != nil || len(candidates) == 0 {
		zap.L().Warn("coverage: LLM candidate generation failed, entering manual mode",
			zap.String("city", city), zap.Error(err))
		return &Result{ManualMode: true}, nil
	}

	candidates = a.filterByPopulationFloor(candidates, profile)
	target := a.profileTarget(profile)
	selected, spacing := a.selectSpatial(candidates, target)
	return &Result{
		Zips:          selected,
		Candidates:    candidates,
		SpacingMiles:  spacing,
		EstimatedCost: a.estimateCost(selected, candidates),
	}, nil
}

func (a *Analyzer) analyzeState(ctx context.Context, classification geo.Classification, keywords []string, profile model.CoverageProfile) (*Result, error) {
	cities, err := a.requestStateCities(ctx, classification.State, profile)
	if err != nil || len(cities) == 0 {
		zap.L().Warn("coverage: state city enumeration failed, entering manual mode",
			zap.String("state", classification.State), zap.Error(err))
		return &Result{ManualMode: true}, nil
	}

	fanOutCtx, cancel := withFanOutTimeout(ctx, a.cfg.CityFanOutTimeoutMinutes)
	defer cancel()

	g, gCtx := errgroup.WithContext(fanOutCtx)
	concurrency := a.cfg.CityFanOutConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	g.SetLimit(concurrency)

	var mu sync.Mutex
	merged := make(map[string]Candidate)

	for _, city := range cities {
		city := city
		g.Go(func() error {
			cityCandidates, cityErr := a.requestCandidates(gCtx, city, keywords)
			if cityErr != nil {
				zap.L().Warn("coverage: city candidate fan-out failed, skipping city",
					zap.String("city", city), zap.Error(cityErr))
				return nil
			}
			mu.Lock()
			mergeCandidates(merged, cityCandidates)
			mu.Unlock()
			return nil
		})
	}
	// errgroup never returns an error here since per-city failures are
	// swallowed; a non-nil error would only come from context cancellation.
	_ = g.Wait()

	if len(merged) == 0 {
		return &Result{ManualMode: true}, nil
	}

	merged = a.filterByPopulationFloor(merged, profile)
	target := a.profileTarget(profile)
	selected, spacing := a.selectSpatial(merged, target)
	return &Result{
		Zips:          selected,
		Candidates:    merged,
		SpacingMiles:  spacing,
		EstimatedCost: a.estimateCost(selected, merged),
	}, nil
}

// mergeCandidates deduplicates by ZIP, keeping the higher-scoring entry
// (spec §4.3 step 2: "collect and deduplicate by ZIP, keeping highest score").
func mergeCandidates(dst map[string]Candidate, src map[string]Candidate) {
	for zip, c := range src {
		if existing, ok := dst[zip]; !ok || c.Score > existing.Score {
			dst[zip] = c
		}
	}
}

func (a *Analyzer) filterByPopulationFloor(candidates map[string]Candidate, profile model.CoverageProfile) map[string]Candidate {
	if a.catalog == nil {
		return candidates
	}
	floor, ok := minPopulationFloor[profile]
	if !ok {
		floor = 500
	}
	out := make(map[string]Candidate, len(candidates))
	for zip, c := range candidates {
		entry, found := a.catalog.Lookup(zip)
		if !found || entry.Population == 0 || entry.Population >= floor {
			out[zip] = c
		}
	}
	if len(out) == 0 {
		return candidates // never filter everything out
	}
	return out
}

type zipCandidateLLMItem struct {
	Zip                 string  `json:"zip"`
	DensityScore        float64 `json:"density_score"`
	RelevanceScore      float64 `json:"relevance_score"`
	EstimatedBusinesses int     `json:"estimated_businesses"`
}

// requestCandidates issues one LLM call for a city/neighbourhood and parses
// its JSON array of candidate ZIPs (spec §4.3 step 2).
func (a *Analyzer) requestCandidates(ctx context.Context, city string, keywords []string) (map[string]Candidate, error) {
	system := `You are a local-business market analyst. Given a city and a set of business keywords, ` +
		`return a JSON array of candidate ZIP codes most likely to contain matching businesses. ` +
		`Respond with ONLY a JSON object: {"candidates": [{"zip": "78701", "density_score": 0.0-1.0, ` +
		`"relevance_score": 0.0-1.0, "estimated_businesses": 0}]}`
	prompt := fmt.Sprintf("City: %s\nKeywords: %s", city, strings.Join(keywords, ", "))

	resp, err := a.llm.CreateJSON(ctx, llm.Request{
		Model:     a.heavyModel,
		MaxTokens: 2048,
		System:    system,
		Prompt:    prompt,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: request candidates for %s", city)
	}

	var parsed struct {
		Candidates []zipCandidateLLMItem `json:"candidates"`
	}
	if err := parseJSONObject(resp.Text, &parsed); err != nil {
		return nil, eris.Wrapf(err, "coverage: parse candidates for %s", city)
	}

	out := make(map[string]Candidate, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		if c.Zip == "" {
			continue
		}
		out[c.Zip] = Candidate{
			Zip:                 c.Zip,
			DensityScore:        c.DensityScore,
			RelevanceScore:      c.RelevanceScore,
			EstimatedBusinesses: c.EstimatedBusinesses,
			Score:               0.6*c.DensityScore + 0.4*c.RelevanceScore,
		}
	}
	return out, nil
}

// cityCounts determines how many major/medium/small cities to enumerate for
// a state search, scaled by profile (spec §4.3 step 2).
var cityCounts = map[model.CoverageProfile]int{
	model.ProfileBudget:     10,
	model.ProfileBalanced:   25,
	model.ProfileAggressive: 50,
	model.ProfileCustom:     25,
}

// requestStateCities asks the LLM to enumerate cities within a state for the
// fan-out step of state-mode coverage analysis.
func (a *Analyzer) requestStateCities(ctx context.Context, stateCode string, profile model.CoverageProfile) ([]string, error) {
	n, ok := cityCounts[profile]
	if !ok {
		n = 25
	}

	system := `You are a US geography expert. List major, medium, and small cities within the given state ` +
		`suitable for a local-business search. Respond with ONLY a JSON object: {"cities": ["City Name", ...]}`
	prompt := fmt.Sprintf("State: %s\nReturn up to %d cities.", stateCode, n)

	resp, err := a.llm.CreateJSON(ctx, llm.Request{
		Model:     a.heavyModel,
		MaxTokens: 1024,
		System:    system,
		Prompt:    prompt,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: request cities for state %s", stateCode)
	}

	var parsed struct {
		Cities []string `json:"cities"`
	}
	if err := parseJSONObject(resp.Text, &parsed); err != nil {
		return nil, eris.Wrapf(err, "coverage: parse cities for state %s", stateCode)
	}
	if len(parsed.Cities) > n {
		parsed.Cities = parsed.Cities[:n]
	}
	return parsed.Cities, nil
}

// parseJSONObject extracts the first top-level JSON object from text (the
// LLM may wrap its JSON in prose despite instructions) and unmarshals it.
func parseJSONObject(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end <= start {
		return eris.Errorf("coverage: no JSON object in response: %s", truncate(text, 200))
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func withFanOutTimeout(ctx context.Context, minutes int) (context.Context, context.CancelFunc) {
	if minutes <= 0 {
		minutes = 15
	}
	return context.WithTimeout(ctx, time.Duration(minutes)*time.Minute)
}

// selectSpatial applies spec §4.3 step 4: sort by combined score descending,
// greedily accept candidates whose distance to every already-accepted ZIP
// meets the threshold, stop at maxZips; relax to 0.7x threshold if too few
// were accepted, then fall back to the top minZips regardless.
func (a *Analyzer) selectSpatial(candidates map[string]Candidate, target config.ProfileParams) ([]string, float64) {
	sorted := sortedCandidates(candidates)

	threshold := a.spacingThreshold(sorted, target.DefaultSpacing)

	selected := greedySelect(sorted, a.catalog, threshold, target.MaxZips)
	if len(selected) >= target.MinZips || target.MinZips <= 0 {
		return selected, threshold
	}

	relaxed := threshold * 0.7
	selected = greedySelect(sorted, a.catalog, relaxed, target.MaxZips)
	if len(selected) >= target.MinZips {
		return selected, relaxed
	}

	// Still short: take the top minZips regardless of spacing.
	n := target.MinZips
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sorted[i].Zip)
	}
	return out, relaxed
}

func sortedCandidates(candidates map[string]Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Zip < out[j].Zip // deterministic tiebreak
	})
	return out
}

// spacingThreshold picks the minimum-distance threshold from the average
// population density of the top candidates, falling back to the profile
// default when the catalog has no density data (spec §4.3 step 4).
func (a *Analyzer) spacingThreshold(sorted []Candidate, defaultSpacing float64) float64 {
	if a.catalog == nil || len(sorted) == 0 {
		return defaultSpacing
	}
	topN := sorted
	if len(topN) > 10 {
		topN = topN[:10]
	}
	zips := make([]string, 0, len(topN))
	for _, c := range topN {
		zips = append(zips, c.Zip)
	}
	avgDensity := a.catalog.AverageDensity(zips)
	if avgDensity <= 0 {
		return defaultSpacing
	}
	return geo.DensityBand(avgDensity)
}

func greedySelect(sorted []Candidate, catalog *geo.Catalog, threshold float64, maxZips int) []string {
	var selected []string
	var selectedEntries []geo.ZipEntry

	for _, c := range sorted {
		if maxZips > 0 && len(selected) >= maxZips {
			break
		}
		entry, ok := catalogLookup(catalog, c.Zip)
		if !ok {
			// No spatial data: accept unconditionally, can't check distance.
			selected = append(selected, c.Zip)
			continue
		}

		farEnough := true
		for _, accepted := range selectedEntries {
			if geo.HaversineMiles(entry.Lat(), entry.Lon(), accepted.Lat(), accepted.Lon()) < threshold {
				farEnough = false
				break
			}
		}
		if farEnough {
			selected = append(selected, c.Zip)
			selectedEntries = append(selectedEntries, entry)
		}
	}
	return selected
}

func catalogLookup(catalog *geo.Catalog, zip string) (geo.ZipEntry, bool) {
	if catalog == nil {
		return geo.ZipEntry{}, false
	}
	return catalog.Lookup(zip)
}

// estimateCost computes spec §4.3 step 5's per-service cost projection:
// map-scraper cost from expected businesses per ZIP, Facebook at a 30%
// coverage assumption, LinkedIn at 50%, email verification at a 15%
// discovery rate applied to verify-all.
func (a *Analyzer) estimateCost(selected []string, candidates map[string]Candidate) CostEstimate {
	if a.calc == nil {
		return CostEstimate{}
	}

	var expectedBusinesses int
	for _, zip := range selected {
		if c, ok := candidates[zip]; ok {
			expectedBusinesses += c.EstimatedBusinesses
		}
	}

	facebookCoverage := int(float64(expectedBusinesses) * 0.30)
	linkedInCoverage := int(float64(expectedBusinesses) * 0.50)
	discoveredEmails := int(float64(expectedBusinesses) * 0.15)

	return CostEstimate{
		MapScrapingUSD:       a.calc.MapScraping(expectedBusinesses),
		SocialUSD:            a.calc.Social(facebookCoverage),
		ProfessionalUSD:      a.calc.Professional(linkedInCoverage),
		EmailVerificationUSD: a.calc.EmailVerification(discoveredEmails),
	}
}
