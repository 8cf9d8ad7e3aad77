// Package artifact persists per-boundary partition results as GeoJSON files.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// Writer serializes partition results to disk.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write persists result at the path formed by substituting abbreviation into
// template and returns that path. Existing files are replaced. Failures are
// returned as *domain.WriteError.
func (w *Writer) Write(result domain.PartitionResult, template, abbreviation string) (string, error) {
	path := domain.ArtifactPath(template, abbreviation)

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return "", &domain.WriteError{Path: path, Err: fmt.Errorf("%s is not a directory", dir)}
	}

	data, err := Encode(result)
	if err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}

	if err := writeAtomic(dir, path, data); err != nil {
		return "", &domain.WriteError{Path: path, Err: err}
	}
	return path, nil
}

// Encode renders a result as a CRS84 FeatureCollection.
func Encode(result domain.PartitionResult) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": domain.CRS84},
		},
	}
	for _, cf := range result.Features {
		f := geojson.NewFeature(cf.Geometry)
		if cf.Properties != nil {
			f.Properties = cf.Properties.Clone()
		}
		fc.Append(f)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return data, nil
}

// writeAtomic writes into a temp file in dir and renames it over path so a
// reader never observes a partial artifact.
func writeAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
