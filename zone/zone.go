// Package zone implements the violation zone: a closed polygon in frame
// pixel coordinates and the point membership test used against vehicle
// anchor points.
package zone

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MinVertices is the smallest vertex count accepted for a zone
const MinVertices = 3

// ErrInvalidZone is returned when a zone update carries fewer than MinVertices points
var ErrInvalidZone = errors.New("invalid zone")

// Polygon is an ordered list of vertices. The last vertex connects back to the first one.
type Polygon []image.Point

// NewPolygon validates and copies points
func NewPolygon(points []image.Point) (Polygon, error) {
	if len(points) < MinVertices {
		return nil, errors.Wrapf(ErrInvalidZone, "at least %d points required, got %d", MinVertices, len(points))
	}
	poly := make(Polygon, len(points))
	copy(poly, points)
	return poly, nil
}

// FromPairs converts [[x, y], ...] as found in configuration files and JSON bodies
func FromPairs(pairs [][]int) (Polygon, error) {
	points := make([]image.Point, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, errors.Wrapf(ErrInvalidZone, "point %d has %d coordinates", i, len(pair))
		}
		points = append(points, image.Pt(pair[0], pair[1]))
	}
	return NewPolygon(points)
}

// Pairs converts polygon back to [[x, y], ...]
func (poly Polygon) Pairs() [][]int {
	pairs := make([][]int, len(poly))
	for i, p := range poly {
		pairs[i] = []int{p.X, p.Y}
	}
	return pairs
}

// Clone returns independent copy
func (poly Polygon) Clone() Polygon {
	if poly == nil {
		return nil
	}
	out := make(Polygon, len(poly))
	copy(out, poly)
	return out
}

func (poly Polygon) String() string {
	return fmt.Sprintf("%v", []image.Point(poly))
}

// Contains reports whether point lies inside polygon or on its boundary.
// Polygons with fewer than MinVertices vertices contain nothing.
func Contains(point image.Point, poly Polygon) bool {
	n := len(poly)
	if n < MinVertices {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(point, a, b) {
			return true
		}
		// Even-odd rule: count crossings of a horizontal ray going right from point.
		// Half-open comparison counts a vertex shared by two edges once.
		if (a.Y > point.Y) != (b.Y > point.Y) {
			// x coordinate of the edge at point.Y compared without division:
			// point.X < a.X + (point.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			lhs := int64(point.X-a.X) * int64(b.Y-a.Y)
			rhs := int64(point.Y-a.Y) * int64(b.X-a.X)
			if b.Y > a.Y {
				if lhs < rhs {
					inside = !inside
				}
			} else if lhs > rhs {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment reports whether p lies on closed segment a-b
func onSegment(p, a, b image.Point) bool {
	cross := int64(b.X-a.X)*int64(p.Y-a.Y) - int64(b.Y-a.Y)*int64(p.X-a.X)
	if cross != 0 {
		return false
	}
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}

// Zone holds the active polygon. Readers always observe a complete polygon:
// updates replace it with a single pointer swap.
type Zone struct {
	active atomic.Pointer[Polygon]
}

// New creates zone with initial polygon
func New(points []image.Point) (*Zone, error) {
	z := &Zone{}
	if err := z.Set(points); err != nil {
		return nil, err
	}
	return z, nil
}

// Set replaces the active polygon. On ErrInvalidZone the previous polygon stays active.
func (z *Zone) Set(points []image.Point) error {
	poly, err := NewPolygon(points)
	if err != nil {
		return err
	}
	z.active.Store(&poly)
	return nil
}

// Polygon returns the active polygon. Callers must treat it as read-only.
func (z *Zone) Polygon() Polygon {
	poly := z.active.Load()
	if poly == nil {
		return nil
	}
	return *poly
}

// Contains tests point against the active polygon
func (z *Zone) Contains(point image.Point) bool {
	return Contains(point, z.Polygon())
}
