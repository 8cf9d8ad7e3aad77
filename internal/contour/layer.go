// Package contour reads iso-speed contour layers and drives the external
// contour command that produces them.
package contour

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// LoadLayer reads a contour layer file written by the contour command.
// Features keep their file order and their properties verbatim; geometry
// validity is not checked here.
func LoadLayer(name, path string) (domain.ContourLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ContourLayer{}, fmt.Errorf("read contour layer %s: %w", name, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.ContourLayer{}, fmt.Errorf("parse contour layer %s: %w", name, err)
	}

	layer := domain.ContourLayer{
		Name:     name,
		CRS:      domain.CRS84,
		Features: make([]domain.ContourFeature, 0, len(fc.Features)),
	}
	for _, f := range fc.Features {
		layer.Features = append(layer.Features, domain.ContourFeature{
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	return layer, nil
}
