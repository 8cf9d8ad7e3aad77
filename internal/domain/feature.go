package domain

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CRS84 is the coordinate reference system identifier shared by all layers.
const CRS84 = "urn:ogc:def:crs:OGC:1.3:CRS84"

// BoundaryFeature is one administrative region polygon from the catalog.
type BoundaryFeature struct {
	Abbreviation string
	Name         string
	Geometry     orb.Geometry // orb.Polygon or orb.MultiPolygon
}

// ContourFeature is one iso-speed band produced by the contour command.
type ContourFeature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties // level, unit and provenance, kept verbatim
}

// ContourLayer is a named, ordered collection of contour bands.
type ContourLayer struct {
	Name     string
	CRS      string
	Features []ContourFeature
}

// ConflictFeature is the overlap of one boundary and one contour band.
type ConflictFeature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties
}

// PartitionResult holds the conflict features that fell inside one boundary,
// in contour layer order.
type PartitionResult struct {
	Boundary BoundaryFeature
	Features []ConflictFeature
}

// Empty reports whether the result would produce no artifact.
func (r PartitionResult) Empty() bool {
	return len(r.Features) == 0
}

// Diagnostic records a recovered per-feature failure during partitioning.
type Diagnostic struct {
	Layer        string
	Boundary     string
	FeatureIndex int
	Err          error
}

// PartitionOutcome is the result of partitioning one layer: the non-empty
// results keyed by boundary abbreviation, the abbreviations in catalog order,
// and every recovered failure.
type PartitionOutcome struct {
	Results     map[string]PartitionResult
	Order       []string
	Diagnostics []Diagnostic
}

// ArtifactRecord describes one persisted per-boundary artifact.
type ArtifactRecord struct {
	Abbreviation string    `json:"abbreviation"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Layer        string    `json:"layer"`
	Date         string    `json:"date"`
	FeatureCount int       `json:"feature_count"`
	Levels       []float64 `json:"levels,omitempty"`
	WrittenAt    time.Time `json:"written_at"`
}

// RunStatus is a point-in-time view of a run's progress.
type RunStatus struct {
	Date             string    `json:"date,omitempty"`
	Stage            string    `json:"stage"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	LayersCompleted  []string  `json:"layers_completed"`
	ArtifactsWritten int       `json:"artifacts_written"`
	Diagnostics      int       `json:"diagnostics"`
	Error            string    `json:"error,omitempty"`
}
