package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestCatalogLookupAndDensity(t *testing.T) {
	cat := NewCatalog([]ZipEntry{
		{Zip: "78701", Point: *geom.NewPointFlat(geom.XY, []float64{-97.74, 30.27}), Population: 8000, AreaSqMi: 1.0, Density: 8000},
		{Zip: "78702", Point: *geom.NewPointFlat(geom.XY, []float64{-97.72, 30.26}), Population: 4000, AreaSqMi: 1.0, Density: 4000},
		{Zip: "78703", Point: *geom.NewPointFlat(geom.XY, []float64{-97.77, 30.29})}, // no population data
	})

	assert.Equal(t, 3, cat.Len())

	e, ok := cat.Lookup("78701")
	assert.True(t, ok)
	assert.InDelta(t, 30.27, e.Lat(), 0.001)
	assert.InDelta(t, -97.74, e.Lon(), 0.001)

	_, ok = cat.Lookup("00000")
	assert.False(t, ok)

	avg := cat.AverageDensity([]string{"78701", "78702", "78703"})
	assert.InDelta(t, 6000, avg, 0.001)
}
