// Package catalog loads the read-only boundary reference dataset.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// Attribute keys, preferred first.
var (
	abbreviationKeys = []string{"abbreviation", "STATE_ABBR"}
	nameKeys         = []string{"name", "STATE_NAME"}
)

// Catalog is the immutable, ordered set of known boundaries.
type Catalog struct {
	features []domain.BoundaryFeature
	byAbbr   map[string]int
}

// Load reads a GeoJSON FeatureCollection of boundary polygons. Any problem
// with the file is reported as a *domain.CatalogLoadError.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.CatalogLoadError{Path: path, Err: err}
	}
	c, err := Parse(data)
	if err != nil {
		return nil, &domain.CatalogLoadError{Path: path, Err: err}
	}
	return c, nil
}

// Parse builds a Catalog from GeoJSON bytes.
func Parse(data []byte) (*Catalog, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("catalog has no features")
	}

	c := &Catalog{
		features: make([]domain.BoundaryFeature, 0, len(fc.Features)),
		byAbbr:   make(map[string]int, len(fc.Features)),
	}

	for i, f := range fc.Features {
		abbr := firstString(f.Properties, abbreviationKeys)
		if abbr == "" {
			return nil, fmt.Errorf("feature %d: missing abbreviation", i)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d (%s): geometry must be Polygon or MultiPolygon", i, abbr)
		}

		key := strings.ToLower(abbr)
		if prev, dup := c.byAbbr[key]; dup {
			return nil, fmt.Errorf("feature %d: abbreviation %q duplicates feature %d", i, abbr, prev)
		}
		c.byAbbr[key] = len(c.features)
		c.features = append(c.features, domain.BoundaryFeature{
			Abbreviation: abbr,
			Name:         firstString(f.Properties, nameKeys),
			Geometry:     f.Geometry,
		})
	}
	return c, nil
}

// Features returns the boundaries in file order. The slice is a copy; the
// geometries are shared and must not be mutated.
func (c *Catalog) Features() []domain.BoundaryFeature {
	out := make([]domain.BoundaryFeature, len(c.features))
	copy(out, c.features)
	return out
}

// Lookup finds a boundary by abbreviation, ignoring case.
func (c *Catalog) Lookup(abbreviation string) (domain.BoundaryFeature, bool) {
	i, ok := c.byAbbr[strings.ToLower(strings.TrimSpace(abbreviation))]
	if !ok {
		return domain.BoundaryFeature{}, false
	}
	return c.features[i], true
}

// Len returns the number of boundaries.
func (c *Catalog) Len() int {
	return len(c.features)
}

func firstString(props geojson.Properties, keys []string) string {
	for _, k := range keys {
		if s, ok := props[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
