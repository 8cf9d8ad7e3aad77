// Package partition clips contour layers against boundaries, producing one
// result per boundary that overlaps at least one contour band.
package partition

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
	"github.com/couchcryptid/storm-data-wind-service/internal/observability"
)

// Intersector computes the polygonal overlap of a boundary and a contour band.
type Intersector interface {
	Intersect(boundary, contour orb.Geometry) (orb.Geometry, bool, error)
}

// Validator is implemented by intersectors that can check a single geometry.
// Features that fail validation are never skipped by the bounding-box
// prefilter, so every selected boundary records a diagnostic for them.
type Validator interface {
	Validate(g orb.Geometry, input string) error
}

// Partitioner assigns contour features to boundaries.
type Partitioner struct {
	intersector Intersector
	logger      *slog.Logger
	metrics     *observability.Metrics
	workers     int
}

// New creates a Partitioner. workers bounds how many boundaries are clipped
// concurrently; values below 1 mean sequential.
func New(intersector Intersector, logger *slog.Logger, metrics *observability.Metrics, workers int) *Partitioner {
	if workers < 1 {
		workers = 1
	}
	return &Partitioner{
		intersector: intersector,
		logger:      logger,
		metrics:     metrics,
		workers:     workers,
	}
}

// Partition clips every contour feature in layer against each boundary that
// passes filter. Boundaries with no overlap are absent from the outcome.
// Invalid geometries are recorded as diagnostics and skipped. The only errors
// returned are domain.ErrNoBoundaries and context cancellation; results for
// boundaries finished before cancellation are still returned.
func (p *Partitioner) Partition(ctx context.Context, boundaries []domain.BoundaryFeature, layer domain.ContourLayer, filter domain.RegionFilter) (domain.PartitionOutcome, error) {
	if len(boundaries) == 0 {
		return domain.PartitionOutcome{}, domain.ErrNoBoundaries
	}

	bounds := featureBounds(layer)
	invalid := p.invalidFeatures(layer)
	diags := &diagnostics{}

	var mu sync.Mutex
	results := make(map[string]domain.PartitionResult)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, b := range boundaries {
		if !filter.Contains(b.Abbreviation) {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := p.partitionBoundary(gctx, b, layer, bounds, invalid, diags)
			if err == nil && !r.Empty() {
				mu.Lock()
				results[b.Abbreviation] = r
				mu.Unlock()
			}
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	out := domain.PartitionOutcome{
		Results:     results,
		Order:       make([]string, 0, len(results)),
		Diagnostics: diags.sorted(boundaries),
	}
	for _, b := range boundaries {
		if _, ok := results[b.Abbreviation]; ok {
			out.Order = append(out.Order, b.Abbreviation)
		}
	}
	return out, err
}

func (p *Partitioner) partitionBoundary(ctx context.Context, b domain.BoundaryFeature, layer domain.ContourLayer, bounds []orb.Bound, invalid []bool, diags *diagnostics) (domain.PartitionResult, error) {
	result := domain.PartitionResult{Boundary: b}
	if len(layer.Features) == 0 {
		return result, nil
	}
	var bb orb.Bound
	if b.Geometry != nil {
		bb = b.Geometry.Bound()
	}

	for i, f := range layer.Features {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if b.Geometry != nil && f.Geometry != nil && !invalid[i] && !bb.Intersects(bounds[i]) {
			p.metrics.Intersections.WithLabelValues("none").Inc()
			continue
		}

		overlap, ok, err := p.intersector.Intersect(b.Geometry, f.Geometry)
		if err != nil {
			p.logger.Warn("clip by boundary failed, skipping feature",
				"layer", layer.Name,
				"boundary", b.Abbreviation,
				"boundary_name", b.Name,
				"feature_index", i,
				"error", err,
			)
			p.metrics.Intersections.WithLabelValues("invalid").Inc()
			diags.add(domain.Diagnostic{Layer: layer.Name, Boundary: b.Abbreviation, FeatureIndex: i, Err: err})
			continue
		}
		if !ok {
			p.metrics.Intersections.WithLabelValues("none").Inc()
			continue
		}

		p.metrics.Intersections.WithLabelValues("overlap").Inc()
		result.Features = append(result.Features, domain.ConflictFeature{
			Geometry:   overlap,
			Properties: cloneProperties(f.Properties),
		})
	}
	return result, nil
}

func cloneProperties(p geojson.Properties) geojson.Properties {
	if p == nil {
		return geojson.Properties{}
	}
	return p.Clone()
}

// invalidFeatures marks contour features the intersector rejects on their own.
// Without a Validator nothing is marked.
func (p *Partitioner) invalidFeatures(layer domain.ContourLayer) []bool {
	invalid := make([]bool, len(layer.Features))
	v, ok := p.intersector.(Validator)
	if !ok {
		return invalid
	}
	for i, f := range layer.Features {
		invalid[i] = v.Validate(f.Geometry, domain.InputContour) != nil
	}
	return invalid
}

func featureBounds(layer domain.ContourLayer) []orb.Bound {
	bounds := make([]orb.Bound, len(layer.Features))
	for i, f := range layer.Features {
		if f.Geometry != nil {
			bounds[i] = f.Geometry.Bound()
		}
	}
	return bounds
}

// diagnostics accumulates recovered failures from concurrent workers.
type diagnostics struct {
	mu    sync.Mutex
	items []domain.Diagnostic
}

func (d *diagnostics) add(diag domain.Diagnostic) {
	d.mu.Lock()
	d.items = append(d.items, diag)
	d.mu.Unlock()
}

// sorted orders diagnostics by catalog position, then feature index.
func (d *diagnostics) sorted(boundaries []domain.BoundaryFeature) []domain.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos := make(map[string]int, len(boundaries))
	for i, b := range boundaries {
		pos[b.Abbreviation] = i
	}
	out := append([]domain.Diagnostic(nil), d.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if pos[out[i].Boundary] != pos[out[j].Boundary] {
			return pos[out[i].Boundary] < pos[out[j].Boundary]
		}
		return out[i].FeatureIndex < out[j].FeatureIndex
	})
	return out
}
