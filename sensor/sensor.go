// Package sensor defines the range-sensor boundary of the navigation stack.
//
// Providers report hit points as world-frame vectors. Consumers project them
// onto the navigation plane with Reading.Planar; no package past this
// boundary does planar math on r3 vectors.
package sensor

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/openrover/navcore/spatialmath"
)

// Reading is a single range measurement: the world-frame hit point, the
// measured distance from the sensor, and whether the ray hit anything.
type Reading struct {
	Point    r3.Vector
	Distance float64
	Occupied bool
	MeshID   string
	Normal   *r3.Vector
}

// Planar projects the hit point onto the navigation plane.
func (r Reading) Planar() spatialmath.PlanarPoint {
	return spatialmath.PlanarPointFromWorld(r.Point)
}

// RangeSensor is a source of range readings. Update may block on hardware or
// a simulated world; implementations must respect ctx.
type RangeSensor interface {
	Name() string
	Update(ctx context.Context, position, rotation r3.Vector) ([]Reading, error)
}
