// Package spatialmath provides the planar geometry used by the navigation
// stack: poses, planar points, and angle arithmetic.
//
// The navigation plane is the world's ground plane. World coordinates are
// right-handed with Y up; the plane's second coordinate is world Z. All
// conversion from world vectors happens through PlanarPointFromWorld so the
// axis mapping lives in exactly one place.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Pose is a planar robot pose: position in meters, heading in radians.
// Theta is canonical in (-pi, pi].
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// NewPose returns a pose with the heading canonicalized.
func NewPose(x, y, theta float64) Pose {
	return Pose{X: x, Y: y, Theta: CanonicalizeAngle(theta)}
}

// Point returns the pose's position.
func (p Pose) Point() PlanarPoint {
	return PlanarPoint{X: p.X, Y: p.Y}
}

// DistanceTo returns the Euclidean distance between the positions of two poses.
func (p Pose) DistanceTo(o Pose) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// HeadingTo returns the heading from this pose's position to the other's.
func (p Pose) HeadingTo(o Pose) float64 {
	return math.Atan2(o.Y-p.Y, o.X-p.X)
}

// PlanarPoint is a point on the navigation plane.
type PlanarPoint struct {
	X float64
	Y float64
}

// PlanarPointFromWorld projects a world vector onto the navigation plane.
// This is the only place the world's Y-up convention is consulted.
func PlanarPointFromWorld(v r3.Vector) PlanarPoint {
	return PlanarPoint{X: v.X, Y: v.Z}
}

// Sub returns p - o.
func (p PlanarPoint) Sub(o PlanarPoint) PlanarPoint {
	return PlanarPoint{X: p.X - o.X, Y: p.Y - o.Y}
}

// Norm returns the distance from the origin.
func (p PlanarPoint) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// Angle returns the polar angle of the point.
func (p PlanarPoint) Angle() float64 {
	return math.Atan2(p.Y, p.X)
}

// DistanceTo returns the Euclidean distance between two points.
func (p PlanarPoint) DistanceTo(o PlanarPoint) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}
