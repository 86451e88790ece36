package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-engine/internal/model"
)

func TestDeriveBusinessSetsGoogleMapsEmailSource(t *testing.T) {
	raw := model.RawBusiness{PlaceID: "p1", Name: "Acme", Email: "  hello@acme.com  "}
	b := deriveBusiness(raw, "camp-1")
	assert.Equal(t, "hello@acme.com", b.Email)
	assert.Equal(t, model.EmailSourceGoogleMaps, b.EmailSource)
}

func TestDeriveBusinessNoEmailLeavesSourceNone(t *testing.T) {
	raw := model.RawBusiness{PlaceID: "p1", Name: "Acme"}
	b := deriveBusiness(raw, "camp-1")
	assert.Equal(t, "", b.Email)
	assert.Equal(t, model.EmailSourceNone, b.EmailSource)
}

func TestDedupeByPlaceIDKeepsFirstOccurrence(t *testing.T) {
	businesses := []model.Business{
		{PlaceID: "p1", Name: "First"},
		{PlaceID: "p1", Name: "Second"},
		{PlaceID: "p2", Name: "Third"},
	}
	out := dedupeByPlaceID(businesses)
	assert.Len(t, out, 2)
	assert.Equal(t, "First", out[0].Name)
	assert.Equal(t, "Third", out[1].Name)
}
