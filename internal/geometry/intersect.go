// Package geometry wraps the GEOS polygon routines used to clip contour bands
// against boundaries. Geometries cross the orb/GEOS boundary as WKB.
package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// Intersector computes polygon overlaps. It is safe for concurrent use; calls
// are serialized on the underlying GEOS context.
type Intersector struct {
	ctx *geos.Context
}

// NewIntersector creates an Intersector with its own GEOS context.
func NewIntersector() *Intersector {
	return &Intersector{ctx: geos.NewContext()}
}

// Intersect returns the polygonal overlap of boundary and contour. ok is false
// when the inputs are disjoint or only touch. A *domain.InvalidGeometryError is
// returned when either input is malformed.
func (i *Intersector) Intersect(boundary, contour orb.Geometry) (result orb.Geometry, ok bool, err error) {
	b, err := i.toGEOS(boundary, domain.InputBoundary)
	if err != nil {
		return nil, false, err
	}
	defer b.Destroy()

	c, err := i.toGEOS(contour, domain.InputContour)
	if err != nil {
		return nil, false, err
	}
	defer c.Destroy()

	// GEOS reports topology failures by panicking through go-geos.
	defer func() {
		if r := recover(); r != nil {
			result, ok = nil, false
			err = &domain.InvalidGeometryError{Input: domain.InputIntersection, Reason: fmt.Sprint(r)}
		}
	}()

	return overlapOf(b.Intersection(c))
}

// overlapOf converts a GEOS intersection result and destroys it. GEOS yields
// a nil geometry when the operation itself fails.
func overlapOf(overlap *geos.Geom) (orb.Geometry, bool, error) {
	if overlap == nil {
		return nil, false, &domain.InvalidGeometryError{Input: domain.InputIntersection, Reason: "GEOS returned no intersection result"}
	}
	defer overlap.Destroy()

	if overlap.IsEmpty() || overlap.Area() == 0 {
		return nil, false, nil
	}

	g, err := wkb.Unmarshal(overlap.ToWKB())
	if err != nil {
		return nil, false, &domain.InvalidGeometryError{Input: domain.InputIntersection, Reason: err.Error()}
	}

	poly := polygonal(g)
	if poly == nil {
		return nil, false, nil
	}
	return poly, true, nil
}

// Validate checks one geometry the way Intersect checks its inputs. input
// names the geometry in the returned *domain.InvalidGeometryError.
func (i *Intersector) Validate(g orb.Geometry, input string) error {
	geom, err := i.toGEOS(g, input)
	if err != nil {
		return err
	}
	geom.Destroy()
	return nil
}

// Equal reports whether a and b cover the same points, ignoring vertex order
// and ring start.
func (i *Intersector) Equal(a, b orb.Geometry) (bool, error) {
	ga, err := i.toGEOS(a, domain.InputBoundary)
	if err != nil {
		return false, err
	}
	defer ga.Destroy()

	gb, err := i.toGEOS(b, domain.InputContour)
	if err != nil {
		return false, err
	}
	defer gb.Destroy()

	return ga.Equals(gb), nil
}

func (i *Intersector) toGEOS(g orb.Geometry, input string) (*geos.Geom, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	case nil:
		return nil, &domain.InvalidGeometryError{Input: input, Reason: "missing geometry"}
	default:
		return nil, &domain.InvalidGeometryError{Input: input, Reason: "unsupported geometry type " + g.GeoJSONType()}
	}

	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, &domain.InvalidGeometryError{Input: input, Reason: err.Error()}
	}

	geom, err := i.ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, &domain.InvalidGeometryError{Input: input, Reason: err.Error()}
	}
	if !geom.IsValid() {
		reason := geom.IsValidReason()
		geom.Destroy()
		return nil, &domain.InvalidGeometryError{Input: input, Reason: reason}
	}
	return geom, nil
}

// polygonal keeps the areal parts of an intersection result. Touching edges
// and shared vertices come back from GEOS as lines and points in a collection.
func polygonal(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Polygon:
		if planar.Area(v) == 0 {
			return nil
		}
		return v
	case orb.MultiPolygon:
		return collapse(keepAreal(v))
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, part := range v {
			switch p := part.(type) {
			case orb.Polygon:
				mp = append(mp, p)
			case orb.MultiPolygon:
				mp = append(mp, p...)
			}
		}
		return collapse(keepAreal(mp))
	default:
		return nil
	}
}

func keepAreal(mp orb.MultiPolygon) orb.MultiPolygon {
	out := mp[:0:0]
	for _, p := range mp {
		if planar.Area(p) != 0 {
			out = append(out, p)
		}
	}
	return out
}

func collapse(mp orb.MultiPolygon) orb.Geometry {
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	default:
		return mp
	}
}
