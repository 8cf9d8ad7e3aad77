package partition_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/storm-data-wind-service/internal/artifact"
	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
	"github.com/couchcryptid/storm-data-wind-service/internal/geometry"
	"github.com/couchcryptid/storm-data-wind-service/internal/observability"
	"github.com/couchcryptid/storm-data-wind-service/internal/partition"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func boundary(abbr string, g orb.Geometry) domain.BoundaryFeature {
	return domain.BoundaryFeature{Abbreviation: abbr, Name: abbr + " state", Geometry: g}
}

func band(g orb.Geometry, level float64) domain.ContourFeature {
	return domain.ContourFeature{Geometry: g, Properties: geojson.Properties{"level": level}}
}

func layerOf(features ...domain.ContourFeature) domain.ContourLayer {
	return domain.ContourLayer{Name: "global", CRS: domain.CRS84, Features: features}
}

func newPartitioner(workers int) (*partition.Partitioner, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return partition.New(geometry.NewIntersector(), discardLogger(), m, workers), m
}

var bowtie = orb.Polygon{{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}}}

// --- tests ---

func TestPartition_AdjacentBoundariesSplitBand(t *testing.T) {
	p, _ := newPartitioner(1)
	boundaries := []domain.BoundaryFeature{
		boundary("A", rect(0, 0, 10, 10)),
		boundary("B", rect(10, 0, 20, 10)),
	}

	out, err := p.Partition(context.Background(), boundaries, layerOf(band(rect(5, 0, 15, 10), 39)), nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, []string{"A", "B"}, out.Order)
	assert.Empty(t, out.Diagnostics)

	a := out.Results["A"]
	require.Len(t, a.Features, 1)
	assert.Equal(t, orb.Bound{Min: orb.Point{5, 0}, Max: orb.Point{10, 10}}, a.Features[0].Geometry.Bound())
	assert.InDelta(t, 50.0, planar.Area(a.Features[0].Geometry), 1e-9)
	assert.Equal(t, geojson.Properties{"level": 39.0}, a.Features[0].Properties)

	b := out.Results["B"]
	require.Len(t, b.Features, 1)
	assert.Equal(t, orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{15, 10}}, b.Features[0].Geometry.Bound())
	assert.InDelta(t, 50.0, planar.Area(b.Features[0].Geometry), 1e-9)
	assert.Equal(t, geojson.Properties{"level": 39.0}, b.Features[0].Properties)
}

func TestPartition_DisjointFeatureProducesNothing(t *testing.T) {
	p, m := newPartitioner(2)
	boundaries := []domain.BoundaryFeature{
		boundary("A", rect(0, 0, 10, 10)),
		boundary("B", rect(10, 0, 20, 10)),
	}

	out, err := p.Partition(context.Background(), boundaries, layerOf(band(rect(100, 100, 110, 110), 47)), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Order)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Intersections.WithLabelValues("none")))
}

func TestPartition_ContainedFeatureKeepsGeometryAndProperties(t *testing.T) {
	p, _ := newPartitioner(1)
	contour := rect(2, 2, 4, 4)
	props := geojson.Properties{"wind": 55.0, "unit": "mph", "source": "sams"}

	out, err := p.Partition(context.Background(),
		[]domain.BoundaryFeature{boundary("TX", rect(0, 0, 10, 10))},
		layerOf(domain.ContourFeature{Geometry: contour, Properties: props}), nil)
	require.NoError(t, err)

	tx := out.Results["TX"]
	require.Len(t, tx.Features, 1)

	equal, err := geometry.NewIntersector().Equal(tx.Features[0].Geometry, contour)
	require.NoError(t, err)
	assert.True(t, equal)

	if diff := cmp.Diff(props, tx.Features[0].Properties); diff != "" {
		t.Fatalf("properties mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition_ResultPropertiesAreCopies(t *testing.T) {
	p, _ := newPartitioner(1)
	layer := layerOf(band(rect(0, 0, 20, 10), 39))

	out, err := p.Partition(context.Background(), []domain.BoundaryFeature{
		boundary("A", rect(0, 0, 10, 10)),
		boundary("B", rect(10, 0, 20, 10)),
	}, layer, nil)
	require.NoError(t, err)

	out.Results["A"].Features[0].Properties["level"] = 99.0
	assert.Equal(t, 39.0, out.Results["B"].Features[0].Properties["level"])
	assert.Equal(t, 39.0, layer.Features[0].Properties["level"])
}

func TestPartition_InvalidFeatureIsSkippedAndRecorded(t *testing.T) {
	p, m := newPartitioner(1)
	layer := layerOf(
		band(rect(0, 0, 5, 10), 39),
		band(bowtie, 47),
		band(rect(5, 0, 10, 10), 55),
	)

	out, err := p.Partition(context.Background(),
		[]domain.BoundaryFeature{boundary("A", rect(0, 0, 10, 10))}, layer, nil)
	require.NoError(t, err)

	a := out.Results["A"]
	require.Len(t, a.Features, 2)
	assert.Equal(t, 39.0, a.Features[0].Properties["level"])
	assert.Equal(t, 55.0, a.Features[1].Properties["level"])

	require.Len(t, out.Diagnostics, 1)
	d := out.Diagnostics[0]
	assert.Equal(t, "global", d.Layer)
	assert.Equal(t, "A", d.Boundary)
	assert.Equal(t, 1, d.FeatureIndex)

	var ige *domain.InvalidGeometryError
	require.ErrorAs(t, d.Err, &ige)
	assert.Equal(t, domain.InputContour, ige.Input)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Intersections.WithLabelValues("invalid")))
}

func TestPartition_InvalidOnlyBoundaryIsAbsent(t *testing.T) {
	p, _ := newPartitioner(1)

	out, err := p.Partition(context.Background(),
		[]domain.BoundaryFeature{boundary("A", rect(0, 0, 10, 10)), boundary("B", rect(10, 0, 20, 10))},
		layerOf(band(bowtie, 47)), nil)
	require.NoError(t, err)

	assert.Empty(t, out.Results)
	require.Len(t, out.Diagnostics, 2)
	assert.Equal(t, "A", out.Diagnostics[0].Boundary)
	assert.Equal(t, "B", out.Diagnostics[1].Boundary)
}

func TestPartition_RegionFilter(t *testing.T) {
	boundaries := []domain.BoundaryFeature{
		boundary("CA", rect(0, 0, 10, 10)),
		boundary("NY", rect(10, 0, 20, 10)),
		boundary("TX", rect(20, 0, 30, 10)),
	}
	counting := &countingIntersector{inner: geometry.NewIntersector()}
	p := partition.New(counting, discardLogger(), observability.NewMetricsForTesting(), 3)

	out, err := p.Partition(context.Background(), boundaries,
		layerOf(band(rect(0, 0, 30, 10), 39)), domain.NewRegionFilter("ca"))
	require.NoError(t, err)

	assert.Equal(t, []string{"CA"}, out.Order)
	assert.Contains(t, out.Results, "CA")
	assert.NotContains(t, out.Results, "NY")
	assert.NotContains(t, out.Results, "TX")
	assert.Equal(t, int64(1), counting.calls.Load(), "filtered boundaries must not be intersected")
}

func TestPartition_BoundingBoxPrefilter(t *testing.T) {
	counting := &countingIntersector{inner: geometry.NewIntersector()}
	p := partition.New(counting, discardLogger(), observability.NewMetricsForTesting(), 1)

	layer := layerOf(
		band(rect(100, 100, 110, 110), 39),
		band(rect(2, 2, 4, 4), 47),
	)
	out, err := p.Partition(context.Background(),
		[]domain.BoundaryFeature{boundary("A", rect(0, 0, 10, 10))}, layer, nil)
	require.NoError(t, err)

	assert.Len(t, out.Results["A"].Features, 1)
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestPartition_InvalidFeatureOutsideEveryBoundaryIsRecorded(t *testing.T) {
	p, _ := newPartitioner(2)

	farBowtie := orb.Polygon{{{100, 100}, {110, 110}, {110, 100}, {100, 110}, {100, 100}}}
	layer := layerOf(band(farBowtie, 39), band(rect(2, 2, 4, 4), 47))
	boundaries := []domain.BoundaryFeature{
		boundary("A", rect(0, 0, 10, 10)),
		boundary("B", rect(20, 0, 30, 10)),
	}

	out, err := p.Partition(context.Background(), boundaries, layer, nil)
	require.NoError(t, err)

	require.Len(t, out.Diagnostics, 2)
	assert.Equal(t, "A", out.Diagnostics[0].Boundary)
	assert.Equal(t, "B", out.Diagnostics[1].Boundary)
	for _, d := range out.Diagnostics {
		assert.Equal(t, 0, d.FeatureIndex)
		var ige *domain.InvalidGeometryError
		assert.ErrorAs(t, d.Err, &ige)
	}
	assert.Equal(t, []string{"A"}, out.Order)
}

func TestPartition_EmptyLayer(t *testing.T) {
	p, _ := newPartitioner(2)

	out, err := p.Partition(context.Background(),
		[]domain.BoundaryFeature{boundary("A", rect(0, 0, 10, 10))}, layerOf(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Diagnostics)
}

func TestPartition_NoBoundaries(t *testing.T) {
	p, _ := newPartitioner(1)

	_, err := p.Partition(context.Background(), nil, layerOf(band(rect(0, 0, 1, 1), 39)), nil)
	assert.ErrorIs(t, err, domain.ErrNoBoundaries)
}

func TestPartition_Deterministic(t *testing.T) {
	boundaries := make([]domain.BoundaryFeature, 0, 8)
	for i := range 8 {
		x := float64(i * 10)
		boundaries = append(boundaries, boundary(string(rune('A'+i)), rect(x, 0, x+10, 10)))
	}
	layer := layerOf(
		band(rect(5, 0, 75, 5), 39),
		band(bowtie, 40),
		band(rect(0, 5, 80, 10), 47),
		band(rect(33, 2, 48, 8), 55),
	)

	encode := func(out domain.PartitionOutcome) map[string]string {
		files := make(map[string]string, len(out.Results))
		for abbr, r := range out.Results {
			data, err := artifact.Encode(r)
			require.NoError(t, err)
			files[abbr] = string(data)
		}
		return files
	}

	seqP, _ := newPartitioner(1)
	parP, _ := newPartitioner(4)

	first, err := seqP.Partition(context.Background(), boundaries, layer, nil)
	require.NoError(t, err)
	second, err := parP.Partition(context.Background(), boundaries, layer, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(encode(first), encode(second)); diff != "" {
		t.Fatalf("partition output differs between runs (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Order, second.Order)

	type diagKey struct {
		Boundary string
		Index    int
	}
	keys := func(out domain.PartitionOutcome) []diagKey {
		ks := make([]diagKey, len(out.Diagnostics))
		for i, d := range out.Diagnostics {
			ks[i] = diagKey{d.Boundary, d.FeatureIndex}
		}
		return ks
	}
	assert.Equal(t, keys(first), keys(second))
	want := make([]diagKey, 0, len(boundaries))
	for _, b := range boundaries {
		want = append(want, diagKey{b.Abbreviation, 1})
	}
	assert.Equal(t, want, keys(first))
}

func TestPartition_CancelledContext(t *testing.T) {
	p, _ := newPartitioner(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := p.Partition(ctx,
		[]domain.BoundaryFeature{boundary("A", rect(0, 0, 10, 10))},
		layerOf(band(rect(0, 0, 5, 5), 39)), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.Results)
}

func TestPartition_CancelStopsNewWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &cancellingIntersector{cancel: cancel}
	p := partition.New(stub, discardLogger(), observability.NewMetricsForTesting(), 1)

	_, err := p.Partition(ctx, []domain.BoundaryFeature{
		boundary("A", rect(0, 0, 10, 10)),
		boundary("B", rect(0, 0, 10, 10)),
	}, layerOf(band(rect(0, 0, 5, 5), 39), band(rect(0, 0, 6, 6), 47)), nil)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int64(1), stub.calls.Load())
}

// --- stubs ---

type countingIntersector struct {
	inner partition.Intersector
	calls atomic.Int64
}

func (c *countingIntersector) Intersect(b, f orb.Geometry) (orb.Geometry, bool, error) {
	c.calls.Add(1)
	return c.inner.Intersect(b, f)
}

type cancellingIntersector struct {
	cancel context.CancelFunc
	calls  atomic.Int64
}

func (c *cancellingIntersector) Intersect(_, f orb.Geometry) (orb.Geometry, bool, error) {
	c.calls.Add(1)
	c.cancel()
	return f, true, nil
}
