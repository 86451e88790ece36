package professionalscraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePatternEmailsSkipsSocialDomains(t *testing.T) {
	assert.Nil(t, GeneratePatternEmails("Jane Doe", "https://www.facebook.com/acme"))
	assert.Nil(t, GeneratePatternEmails("Jane Doe", ""))
}

func TestGeneratePatternEmailsOrdersByPattern(t *testing.T) {
	got := GeneratePatternEmails("Jane Doe", "https://acme.com")
	require.NotEmpty(t, got)
	assert.Equal(t, "jane@acme.com", got[0])
	assert.Contains(t, got, "jane.doe@acme.com")
	assert.Contains(t, got, "contact@acme.com")
	assert.Contains(t, got, "info@acme.com")
	assert.Equal(t, []string{
		"jane@acme.com",
		"jane.doe@acme.com",
		"jdoe@acme.com",
		"janedoe@acme.com",
		"doe@acme.com",
		"j.doe@acme.com",
		"contact@acme.com",
		"info@acme.com",
	}, got)
}

func TestNormalizeURLAndTyping(t *testing.T) {
	assert.Equal(t, "https://linkedin.com/in/jane-doe", NormalizeURL("https://www.linkedin.com/in/jane-doe/"))
	assert.True(t, isCompanyURL("https://www.linkedin.com/company/acme/"))
	assert.False(t, isCompanyURL("https://www.linkedin.com/in/jane-doe/"))
}

func TestEnrichBatchFallsBackToPatternWhenNoVerifiedEmail(t *testing.T) {
	var callCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "run1", "status": "SUCCEEDED", "defaultDatasetId": "ds1"},
			})
		case callCount <= 2:
			// search dataset fetch: no results so no profile is matched.
			_ = json.NewEncoder(w).Encode([]searchResultItem{})
		default:
			_ = json.NewEncoder(w).Encode([]profileResultItem{})
		}
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Token: "tok"})
	results, err := s.EnrichBatch(context.Background(), []Query{
		{BusinessID: "b1", Name: "Acme Plumbing", City: "Austin", Website: "https://acme.com"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].ProfileURL)
	assert.NotEmpty(t, results[0].GeneratedEmails)
}
