// Command genmock writes a synthetic boundary catalog and contour layer for
// local runs and tests. Boundaries are a grid of unit cells; contour bands
// are nested squares centred on the grid, one per level, so every band
// crosses several boundaries.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -catalog-out data/mock/boundaries.geojson \
//	  -layer-out data/mock/global_wind_speed_plot.json \
//	  -rows 3 -cols 4 -levels 39,47,55
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-data-wind-service/internal/contour"
	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

const cellSize = 10.0

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	catalogOut := flag.String("catalog-out", "", "output path for the boundary catalog")
	layerOut := flag.String("layer-out", "", "output path for the contour layer")
	rows := flag.Int("rows", 3, "boundary grid rows")
	cols := flag.Int("cols", 4, "boundary grid columns")
	levelList := flag.String("levels", "39,47,55", "comma-separated wind speed levels")
	flag.Parse()

	if *catalogOut == "" || *layerOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -catalog-out, -layer-out")
	}
	if *rows < 1 || *cols < 1 || *rows**cols > 26*26 {
		return fmt.Errorf("grid %dx%d out of range", *rows, *cols)
	}

	levels, err := parseLevels(*levelList)
	if err != nil {
		return err
	}

	boundaries := boundaryGrid(*rows, *cols)
	if err := writeCollection(*catalogOut, boundaries); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	log.Printf("wrote catalog: %s (%d boundaries)", *catalogOut, len(boundaries.Features))

	layer := contourBands(*rows, *cols, levels)
	if err := writeCollection(*layerOut, layer); err != nil {
		return fmt.Errorf("writing layer: %w", err)
	}
	log.Printf("wrote layer: %s (%d bands, levels %s)", *layerOut, len(layer.Features), contour.JoinLevels(levels))
	return nil
}

// boundaryGrid lays out rows x cols cells named AA, AB, ... in row-major order.
func boundaryGrid(rows, cols int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for r := range rows {
		for c := range cols {
			n := r*cols + c
			abbr := string(rune('A'+n/26)) + string(rune('A'+n%26))
			minX, minY := float64(c)*cellSize, float64(r)*cellSize
			f := geojson.NewFeature(square(minX, minY, minX+cellSize, minY+cellSize))
			f.Properties["abbreviation"] = abbr
			f.Properties["name"] = "Region " + abbr
			fc.Append(f)
		}
	}
	return fc
}

// contourBands returns one square per level, shrinking toward the grid centre
// as the level rises.
func contourBands(rows, cols int, levels []float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{"type": "name", "properties": map[string]any{"name": domain.CRS84}},
	}
	cx, cy := float64(cols)*cellSize/2, float64(rows)*cellSize/2
	half := min(cx, cy)
	step := half / float64(len(levels)+1)
	for i, level := range levels {
		h := half - float64(i)*step
		f := geojson.NewFeature(square(cx-h, cy-h, cx+h, cy+h))
		f.Properties["level"] = level
		f.Properties["unit"] = "mph"
		f.Properties["source"] = "genmock"
		fc.Append(f)
	}
	return fc
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func parseLevels(s string) ([]float64, error) {
	var levels []float64
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", p, err)
		}
		levels = append(levels, v)
	}
	return levels, nil
}

func writeCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
