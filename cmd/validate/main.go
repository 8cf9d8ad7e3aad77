// Command validate performs integrity checks on a windmap output directory:
// layout, artifact format, boundary containment, and attribute provenance.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -out-dir /tmp/wind \
//	  -catalog data/states/states.geojson
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/storm-data-wind-service/internal/catalog"
	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
	"github.com/couchcryptid/storm-data-wind-service/internal/geometry"
	"github.com/couchcryptid/storm-data-wind-service/internal/pipeline"
)

const areaTolerance = 1e-6

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// artifactFile is one decoded per-boundary artifact.
type artifactFile struct {
	abbreviation string
	path         string
	fc           *geojson.FeatureCollection
}

func main() {
	outDir := flag.String("out-dir", "", "windmap output directory")
	catalogPath := flag.String("catalog", "data/states/states.geojson", "boundary catalog GeoJSON")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*outDir, *catalogPath); code != 0 {
		os.Exit(code)
	}
}

func run(outDir, catalogPath string) int {
	fmt.Println("=== Wind Map Output Validation ===")
	fmt.Println()

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	artifacts, layout := loadArtifacts(outDir)
	layers, err := loadLayers(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load contour layers: %v\n", err)
		return 1
	}
	if _, ok := layers[pipeline.GlobalLayer]; !ok {
		layout.errorf("global layer file missing from %s", outDir)
	}

	intersector := geometry.NewIntersector()
	phases := []*phase{
		layout,
		validateFormat(artifacts),
		validateContainment(artifacts, cat, intersector),
		validateProvenance(artifacts, layers),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Artifacts: %d, layers: %d, catalog boundaries: %d\n", len(artifacts), len(layers), cat.Len())

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Layout ──

func loadArtifacts(outDir string) ([]artifactFile, *phase) {
	p := &phase{name: "Phase 1: Layout (directories, names)"}

	pattern := pipeline.ArtifactTemplate(outDir)
	matches, err := filepath.Glob(strings.Replace(pattern, domain.PathPlaceholder, "*", 1))
	if err != nil {
		p.errorf("glob %s: %v", pattern, err)
		return nil, p
	}
	sort.Strings(matches)

	prefix, suffix, _ := strings.Cut(filepath.Base(pattern), domain.PathPlaceholder)
	var out []artifactFile
	for _, m := range matches {
		abbr := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), suffix)
		data, err := os.ReadFile(m)
		if err != nil {
			p.errorf("%s: %v", m, err)
			continue
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			p.errorf("%s: not a feature collection: %v", m, err)
			continue
		}
		out = append(out, artifactFile{abbreviation: abbr, path: m, fc: fc})
	}
	if len(matches) == 0 {
		fmt.Println("  Note: no artifacts found (no boundary overlapped any contour band)")
	}
	return out, p
}

// loadLayers reads every phase-1 layer file, keyed by layer name.
func loadLayers(outDir string) (map[string]*geojson.FeatureCollection, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "*_wind_speed_plot.json"))
	if err != nil {
		return nil, err
	}
	layers := make(map[string]*geojson.FeatureCollection, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		name := strings.ToLower(strings.TrimSuffix(filepath.Base(m), "_wind_speed_plot.json"))
		layers[name] = fc
	}
	return layers, nil
}

// ── Phase 2: Artifact Format ──

func validateFormat(artifacts []artifactFile) *phase {
	p := &phase{name: "Phase 2: Artifact Format (GeoJSON, CRS)"}
	for _, a := range artifacts {
		checkCRS(p, a)
		if len(a.fc.Features) == 0 {
			p.errorf("%s: empty artifact written", a.abbreviation)
		}
		for i, f := range a.fc.Features {
			switch f.Geometry.(type) {
			case orb.Polygon, orb.MultiPolygon:
			default:
				p.errorf("%s feature %d: geometry %T is not polygonal", a.abbreviation, i, f.Geometry)
				continue
			}
			if planar.Area(f.Geometry) <= 0 {
				p.errorf("%s feature %d: zero-area geometry", a.abbreviation, i)
			}
		}
	}
	return p
}

func checkCRS(p *phase, a artifactFile) {
	raw, ok := a.fc.ExtraMembers["crs"]
	if !ok {
		p.errorf("%s: crs member missing", a.abbreviation)
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		p.errorf("%s: crs member unreadable: %v", a.abbreviation, err)
		return
	}
	var crs struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &crs); err != nil {
		p.errorf("%s: crs member malformed: %v", a.abbreviation, err)
		return
	}
	if crs.Type != "name" || crs.Properties.Name != domain.CRS84 {
		p.errorf("%s: crs is %s/%q, expected name/%q", a.abbreviation, crs.Type, crs.Properties.Name, domain.CRS84)
	}
}

// ── Phase 3: Boundary Containment ──
// Every conflict feature must lie inside the boundary named by its file.

func validateContainment(artifacts []artifactFile, cat *catalog.Catalog, intersector *geometry.Intersector) *phase {
	p := &phase{name: "Phase 3: Boundary Containment"}
	for _, a := range artifacts {
		b, ok := cat.Lookup(a.abbreviation)
		if !ok {
			p.errorf("%s: no such boundary in catalog", a.abbreviation)
			continue
		}
		if b.Abbreviation != a.abbreviation {
			p.errorf("%s: file name case differs from catalog abbreviation %q", a.abbreviation, b.Abbreviation)
		}
		for i, f := range a.fc.Features {
			clipped, overlap, err := intersector.Intersect(b.Geometry, f.Geometry)
			if err != nil {
				p.errorf("%s feature %d: %v", a.abbreviation, i, err)
				continue
			}
			if !overlap {
				p.errorf("%s feature %d: outside its boundary", a.abbreviation, i)
				continue
			}
			want, got := planar.Area(f.Geometry), planar.Area(clipped)
			if math.Abs(want-got) > areaTolerance*math.Max(1, want) {
				p.errorf("%s feature %d: %.6f of %.6f area lies inside the boundary", a.abbreviation, i, got, want)
			}
		}
	}
	return p
}

// ── Phase 4: Attribute Provenance ──
// Artifact properties must be copied verbatim from a band of the source layer.

func validateProvenance(artifacts []artifactFile, layers map[string]*geojson.FeatureCollection) *phase {
	p := &phase{name: "Phase 4: Attribute Provenance"}
	for _, a := range artifacts {
		layer, ok := layers[strings.ToLower(a.abbreviation)]
		if !ok {
			layer, ok = layers[pipeline.GlobalLayer]
		}
		if !ok {
			p.errorf("%s: no source layer", a.abbreviation)
			continue
		}
		for i, f := range a.fc.Features {
			if !fromLayer(f.Properties, layer) {
				p.errorf("%s feature %d: properties %v not found in source layer", a.abbreviation, i, f.Properties)
			}
		}
	}
	return p
}

func fromLayer(props geojson.Properties, layer *geojson.FeatureCollection) bool {
	for _, src := range layer.Features {
		if cmp.Equal(map[string]any(props), map[string]any(src.Properties)) {
			return true
		}
	}
	return false
}
