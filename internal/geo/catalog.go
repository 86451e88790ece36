package geo

import "github.com/twpayne/go-geom"

// Demographics carries optional ZIP-level census attributes. Most ZCTA
// gazetteers only supply population; when a richer source is loaded these
// are populated and used to refine CoverageAnalyzer's density-band
// thresholds, never as a hard requirement.
type Demographics struct {
	MedianHouseholdIncomeUSD int
	MedianAge                float64
}

// ZipEntry is one gazetteer record: a ZIP code with its centroid, population,
// and derived density.
type ZipEntry struct {
	Zip         string
	Point       geom.Point // X=lon, Y=lat
	Population  int
	AreaSqMi    float64
	Density     float64 // people per square mile; 0 if AreaSqMi is 0
	Demographics *Demographics
}

func (e ZipEntry) Lat() float64 { return e.Point.Y() }
func (e ZipEntry) Lon() float64 { return e.Point.X() }

// Catalog is an in-memory, read-only ZIP gazetteer: ZIP -> (lat, lon,
// population, density). It is built once (typically via LoadShapefile) and
// shared read-only across concurrent CoverageAnalyzer calls.
type Catalog struct {
	entries map[string]ZipEntry
}

// NewCatalog builds a Catalog from a slice of entries, keyed by ZIP.
func NewCatalog(entries []ZipEntry) *Catalog {
	m := make(map[string]ZipEntry, len(entries))
	for _, e := range entries {
		m[e.Zip] = e
	}
	return &Catalog{entries: m}
}

// Lookup returns the entry for a ZIP code, if known.
func (c *Catalog) Lookup(zip string) (ZipEntry, bool) {
	e, ok := c.entries[zip]
	return e, ok
}

// Len returns the number of ZIPs in the catalog.
func (c *Catalog) Len() int { return len(c.entries) }

// AverageDensity returns the mean population density across zips, or 0 if
// none are found or all have zero area.
func (c *Catalog) AverageDensity(zips []string) float64 {
	var sum float64
	var n int
	for _, z := range zips {
		if e, ok := c.entries[z]; ok && e.Density > 0 {
			sum += e.Density
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
