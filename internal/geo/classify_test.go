package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		loc      string
		wantKind LocationKind
		wantZip  string
		wantCity string
		wantST   string
	}{
		{"bare zip", "90210", KindZip, "90210", "", ""},
		{"zip with whitespace", "  78701 ", KindZip, "78701", "", ""},
		{"full state name", "Texas", KindState, "", "", "TX"},
		{"two-letter code", "tx", KindState, "", "", "TX"},
		{"city, state code", "Austin, TX", KindCity, "", "Austin", "TX"},
		{"city state full name", "Austin, Texas", KindCity, "", "Austin", "TX"},
		{"city state space separated", "Austin TX", KindCity, "", "Austin", "TX"},
		{"bare city", "Austin", KindCity, "", "Austin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.loc)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantZip, got.Zip)
			assert.Equal(t, tt.wantCity, got.City)
			assert.Equal(t, tt.wantST, got.State)
		})
	}
}

func TestHaversineMiles(t *testing.T) {
	// Austin, TX to Dallas, TX is roughly 182 miles.
	d := HaversineMiles(30.2672, -97.7431, 32.7767, -96.7970)
	assert.InDelta(t, 182, d, 10)

	assert.Equal(t, 0.0, HaversineMiles(30.0, -97.0, 30.0, -97.0))
}

func TestDensityBand(t *testing.T) {
	assert.Equal(t, 2.0, DensityBand(15000))
	assert.Equal(t, 3.0, DensityBand(5000))
	assert.Equal(t, 4.0, DensityBand(2000))
	assert.Equal(t, 6.0, DensityBand(500))
	assert.Equal(t, 10.0, DensityBand(10))
}
