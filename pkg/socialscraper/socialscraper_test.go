package socialscraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://www.facebook.com/AcmeRoofing/":           "https://www.facebook.com/acmeroofing",
		"HTTP://FACEBOOK.COM/acme?ref=123":                "https://www.facebook.com/acme",
		"https://m.facebook.com/acme/#reviews":            "https://www.facebook.com/acme",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in))
	}
}

func TestChoosePrimaryPrefersKnownPrefixes(t *testing.T) {
	assert.Equal(t, "info@acme.com", choosePrimary([]string{"jane@acme.com", "info@acme.com"}))
	assert.Equal(t, "jane@acme.com", choosePrimary([]string{"jane@acme.com"}))
	assert.Equal(t, "", choosePrimary(nil))
}

func TestValidEmailsFiltersGenericAndDuplicates(t *testing.T) {
	got := validEmails([]string{"info@acme.com", "noreply@acme.com", "INFO@acme.com", "bad-email"})
	assert.Equal(t, []string{"info@acme.com"}, got)
}

func TestEnrichExtractsEmailsFromBodyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "run1", "status": "SUCCEEDED", "defaultDatasetId": "ds1"},
			})
		default:
			_ = json.NewEncoder(w).Encode([]rawPage{
				{URL: "https://www.facebook.com/acme/", PageName: "Acme", BodyText: "Reach us at contact@acme.com or noreply@acme.com"},
			})
		}
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Token: "tok"})
	results, err := s.Enrich(context.Background(), []string{"https://www.facebook.com/acme/"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "contact@acme.com", results[0].PrimaryEmail)
	assert.Equal(t, "https://www.facebook.com/acme", results[0].URL)
}
