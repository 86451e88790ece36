package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/leadgen-engine/internal/config"
	"github.com/sells-group/leadgen-engine/internal/cost"
	"github.com/sells-group/leadgen-engine/internal/geo"
	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/llm"
	"github.com/sells-group/leadgen-engine/pkg/llm/mocks"
)

type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) CreateJSON(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &llm.Response{Text: f.responses[idx]}, nil
}

func testCfg() config.CoverageConfig {
	return config.CoverageConfig{
		Profiles: map[string]config.ProfileParams{
			"balanced": {MinZips: 2, MaxZips: 5, DefaultSpacing: 3.0},
		},
		CityFanOutConcurrency:    10,
		CityFanOutTimeoutMinutes: 15,
	}
}

func testCatalog() *geo.Catalog {
	return geo.NewCatalog([]geo.ZipEntry{
		{Zip: "78701", Point: *geom.NewPointFlat(geom.XY, []float64{-97.74, 30.27}), Population: 5000, AreaSqMi: 1, Density: 5000},
		{Zip: "78702", Point: *geom.NewPointFlat(geom.XY, []float64{-97.71, 30.26}), Population: 4000, AreaSqMi: 1, Density: 4000},
		{Zip: "78703", Point: *geom.NewPointFlat(geom.XY, []float64{-97.77, 30.29}), Population: 3000, AreaSqMi: 1, Density: 3000},
	})
}

func TestAnalyzeZipModeBypassesLLM(t *testing.T) {
	a := New(&fakeLLM{}, nil, cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	result, err := a.Analyze(context.Background(), "78701", []string{"plumber"}, model.ProfileBalanced)
	require.NoError(t, err)
	assert.Equal(t, []string{"78701"}, result.Zips)
	assert.False(t, result.ManualMode)
}

func TestAnalyzeCityParsesCandidatesAndScores(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"candidates": [
			{"zip": "78701", "density_score": 0.9, "relevance_score": 0.8, "estimated_businesses": 40},
			{"zip": "78702", "density_score": 0.5, "relevance_score": 0.5, "estimated_businesses": 20}
		]}`,
	}}
	a := New(fake, testCatalog(), cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	result, err := a.Analyze(context.Background(), "Austin", []string{"plumber"}, model.ProfileBalanced)
	require.NoError(t, err)
	require.False(t, result.ManualMode)
	require.Contains(t, result.Candidates, "78701")
	assert.InDelta(t, 0.6*0.9+0.4*0.8, result.Candidates["78701"].Score, 0.001)
	assert.NotEmpty(t, result.Zips)
	assert.Greater(t, result.EstimatedCost.Total(), 0.0)
}

func TestAnalyzeCityEntersManualModeOnLLMFailure(t *testing.T) {
	mockClient := mocks.NewMockClient(t)
	mockClient.On("CreateJSON", mock.Anything, mock.Anything).Return(nil, assertErr{})

	a := New(mockClient, testCatalog(), cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	result, err := a.Analyze(context.Background(), "Austin", []string{"plumber"}, model.ProfileBalanced)
	require.NoError(t, err)
	assert.True(t, result.ManualMode)
	assert.Empty(t, result.Zips)
}

func TestAnalyzeCityEntersManualModeOnUnparsableResponse(t *testing.T) {
	a := New(&fakeLLM{responses: []string{"not json at all"}}, testCatalog(), cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	result, err := a.Analyze(context.Background(), "Austin", []string{"plumber"}, model.ProfileBalanced)
	require.NoError(t, err)
	assert.True(t, result.ManualMode)
}

func TestFromManualZipsAppliesSpatialSelection(t *testing.T) {
	a := New(&fakeLLM{}, testCatalog(), cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	result, err := a.FromManualZips([]string{"78701", "78702", "78703"}, model.ProfileBalanced)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Zips)
	assert.False(t, result.ManualMode)
}

func TestFromManualZipsRejectsEmptyList(t *testing.T) {
	a := New(&fakeLLM{}, nil, cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	_, err := a.FromManualZips(nil, model.ProfileBalanced)
	assert.Error(t, err)
}

func TestMergeCandidatesKeepsHigherScore(t *testing.T) {
	dst := map[string]Candidate{"78701": {Zip: "78701", Score: 0.3}}
	src := map[string]Candidate{"78701": {Zip: "78701", Score: 0.8}, "78702": {Zip: "78702", Score: 0.2}}
	mergeCandidates(dst, src)
	assert.InDelta(t, 0.8, dst["78701"].Score, 0.001)
	assert.InDelta(t, 0.2, dst["78702"].Score, 0.001)
}

func TestSelectSpatialRelaxesThresholdWhenTooFewAccepted(t *testing.T) {
	candidates := map[string]Candidate{
		"78701": {Zip: "78701", Score: 0.9, EstimatedBusinesses: 10},
		"78702": {Zip: "78702", Score: 0.8, EstimatedBusinesses: 10},
		"78703": {Zip: "78703", Score: 0.7, EstimatedBusinesses: 10},
	}
	a := New(&fakeLLM{}, testCatalog(), cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	target := config.ProfileParams{MinZips: 3, MaxZips: 5, DefaultSpacing: 10000}
	selected, _ := a.selectSpatial(candidates, target)
	assert.Len(t, selected, 3)
}

func TestAnalyzeKeywordsRequired(t *testing.T) {
	a := New(&fakeLLM{}, nil, cost.NewCalculator(cost.DefaultRates()), testCfg(), "claude-haiku-4-5-20251001")
	_, err := a.Analyze(context.Background(), "78701", nil, model.ProfileBalanced)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "llm unavailable" }
