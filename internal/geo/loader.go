package geo

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// squareMetersPerSqMile converts ALAND (square meters, Census convention)
// to square miles.
const squareMetersPerSqMile = 2_589_988.110336

// candidate shapefile attribute names across Census ZCTA vintages
// (ZCTA5CE10/20 for 2010/2020 TIGER releases).
var (
	zipFieldNames    = []string{"ZCTA5CE20", "ZCTA5CE10", "ZCTA5CE", "GEOID20", "GEOID10", "GEOID"}
	landAreaFields   = []string{"ALAND20", "ALAND10", "ALAND"}
	centroidLatNames = []string{"INTPTLAT20", "INTPTLAT10", "INTPTLAT"}
	centroidLonNames = []string{"INTPTLON20", "INTPTLON10", "INTPTLON"}
)

// LoadShapefile builds a Catalog from a ZCTA (ZIP Code Tabulation Area)
// shapefile. population is an optional ZIP->population side table (most
// ZCTA shapefiles carry geometry and land area but not population); when a
// ZIP is absent from it, Population and Density are left zero and the
// candidate is still usable for CoverageAnalyzer's spatial de-overlap, just
// not its density-band threshold selection.
func LoadShapefile(shpPath string, population map[string]int) (*Catalog, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open ZCTA shapefile")
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	zipIdx := firstFieldIndex(fields, zipFieldNames)
	landIdx := firstFieldIndex(fields, landAreaFields)
	latIdx := firstFieldIndex(fields, centroidLatNames)
	lonIdx := firstFieldIndex(fields, centroidLonNames)
	if zipIdx < 0 {
		return nil, eris.New("geo: ZCTA shapefile missing a ZCTA5CE/GEOID field")
	}

	var entries []ZipEntry
	for reader.Next() {
		_, shape := reader.Shape()
		zipCode := strings.TrimSpace(reader.Attribute(zipIdx))
		if len(zipCode) != 5 {
			continue
		}

		var lat, lon float64
		if latIdx >= 0 && lonIdx >= 0 {
			lat, _ = strconv.ParseFloat(strings.TrimSpace(reader.Attribute(latIdx)), 64)
			lon, _ = strconv.ParseFloat(strings.TrimSpace(reader.Attribute(lonIdx)), 64)
		}
		if lat == 0 && lon == 0 {
			lat, lon = polygonCentroid(shape)
		}

		var areaSqMi float64
		if landIdx >= 0 {
			if sqm, err := strconv.ParseFloat(strings.TrimSpace(reader.Attribute(landIdx)), 64); err == nil {
				areaSqMi = sqm / squareMetersPerSqMile
			}
		}

		entry := ZipEntry{
			Zip:      zipCode,
			Point:    *geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			AreaSqMi: areaSqMi,
		}
		if pop, ok := population[zipCode]; ok {
			entry.Population = pop
			if areaSqMi > 0 {
				entry.Density = float64(pop) / areaSqMi
			}
		}
		entries = append(entries, entry)
	}

	return NewCatalog(entries), nil
}

// DownloadAndLoad fetches a ZCTA shapefile archive, extracts it to tempDir,
// and loads it into a Catalog.
func DownloadAndLoad(ctx context.Context, httpClient *http.Client, shapefileZipURL, tempDir string, population map[string]int) (*Catalog, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := zap.L().With(zap.String("component", "geo.loader"))

	archivePath := filepath.Join(tempDir, "zcta.zip")
	log.Info("downloading ZCTA shapefile", zap.String("url", shapefileZipURL))
	if err := downloadFile(ctx, httpClient, shapefileZipURL, archivePath); err != nil {
		return nil, eris.Wrap(err, "geo: download ZCTA shapefile")
	}

	extractDir := filepath.Join(tempDir, "zcta")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "geo: create extract dir")
	}
	if err := extractZIP(archivePath, extractDir); err != nil {
		return nil, eris.Wrap(err, "geo: extract ZCTA archive")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return nil, eris.Wrap(err, "geo: find .shp file")
	}

	cat, err := LoadShapefile(shpPath, population)
	if err != nil {
		return nil, err
	}
	log.Info("ZCTA shapefile loaded", zap.Int("zips", cat.Len()))
	return cat, nil
}

// LoadPopulationCSV reads a two-column (zip,population) CSV — the side
// table most ZCTA shapefiles omit — into the map LoadShapefile/
// DownloadAndLoad expect. A header row is tolerated: rows whose population
// column fails to parse as an integer are skipped rather than erroring the
// whole file.
func LoadPopulationCSV(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open population csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	out := make(map[string]int)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "geo: read population csv")
		}
		if len(row) < 2 {
			continue
		}
		zipCode := strings.TrimSpace(row[0])
		pop, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil || len(zipCode) != 5 {
			continue
		}
		out[zipCode] = pop
	}
	return out, nil
}

func firstFieldIndex(fields []shp.Field, names []string) int {
	for _, n := range names {
		for i, f := range fields {
			if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), n) {
				return i
			}
		}
	}
	return -1
}

// polygonCentroid computes the unweighted vertex-average centroid of a
// shape's outer ring, a cheap stand-in when INTPTLAT/LON attributes are
// absent from the shapefile.
func polygonCentroid(s shp.Shape) (lat, lon float64) {
	p, ok := s.(*shp.Polygon)
	if !ok || len(p.Points) == 0 {
		return 0, 0
	}
	var sumX, sumY float64
	for _, pt := range p.Points {
		sumX += pt.X
		sumY += pt.Y
	}
	n := float64(len(p.Points))
	return sumY / n, sumX / n
}

func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, resp.Body); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}

func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}
		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}
		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}
	return nil
}

func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
