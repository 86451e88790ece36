package mapscraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPartitionsByExtractedZip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "run1", "status": "SUCCEEDED", "defaultDatasetId": "ds1"},
			})
		default:
			_ = json.NewEncoder(w).Encode([]rawItem{
				{Title: "Acme Plumbing", PlaceID: "p1", Address: "1 Main St", PostalCode: "73301"},
				{Title: "Acme Roofing", PlaceID: "p2", Address: "2 Oak Ave, Austin, TX 78701"},
			})
		}
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Token: "tok"})
	byZip, err := s.Search(context.Background(), []string{"plumber"}, []string{"73301", "78701"}, 50)
	require.NoError(t, err)

	require.Contains(t, byZip, "73301")
	assert.Equal(t, "Acme Plumbing", byZip["73301"][0].Name)
	require.Contains(t, byZip, "78701")
	assert.Equal(t, "Acme Roofing", byZip["78701"][0].Name)
}

func TestToRawBusinessMapsAdditionalInfoAndTags(t *testing.T) {
	it := rawItem{
		Title:      "Sunny Cafe",
		PlaceID:    "p3",
		CategoryName: "Cafe",
		ReviewsTags: []struct {
			Tag  string `json:"tag"`
			Text string `json:"text"`
		}{{Tag: "great coffee"}, {Text: "fast service"}},
		AdditionalInfo: map[string][]struct {
			Text string `json:"text"`
		}{
			"Accessibility": {{Text: "Wheelchair accessible entrance"}},
		},
	}

	raw := toRawBusiness(it)
	assert.Equal(t, []string{"Cafe"}, raw.Categories)
	assert.Equal(t, []string{"great coffee", "fast service"}, raw.ReviewTags)
	flags := raw.AdditionalInfo["Accessibility"]
	require.Len(t, flags, 1)
	assert.Contains(t, flags[0], "Wheelchair")
}

func TestDirectEmailPriorityOrder(t *testing.T) {
	assert.Equal(t, "a@x.com", rawItem{Emails: []string{"a@x.com"}, Email: "b@x.com"}.directEmail())
	assert.Equal(t, "b@x.com", rawItem{DirectEmails: []string{"b@x.com"}, Email: "c@x.com"}.directEmail())
	assert.Equal(t, "c@x.com", rawItem{Email: "c@x.com", ContactEmail: "d@x.com"}.directEmail())
	assert.Equal(t, "d@x.com", rawItem{ContactEmail: "d@x.com", BusinessEmail: "e@x.com"}.directEmail())
	assert.Equal(t, "e@x.com", rawItem{BusinessEmail: "e@x.com"}.directEmail())
	assert.Equal(t, "", rawItem{}.directEmail())
}

func TestToRawBusinessCarriesDirectEmail(t *testing.T) {
	it := rawItem{Title: "Acme Plumbing", PlaceID: "p1", Emails: []string{"hello@acme.com"}}
	raw := toRawBusiness(it)
	assert.Equal(t, "hello@acme.com", raw.Email)
}
