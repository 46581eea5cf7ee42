package motionplan

import (
	"math"

	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/spatialmath"
)

// buildPath walks parent pointers from the accepted node back to the root,
// reverses the walk, and closes the path with the goal position. The root
// already carries the start position, so the first pose is the start
// verbatim and the last is the goal verbatim. Headings are assigned per
// segment afterward; the final pose inherits the last segment's heading.
func buildPath(tree []rrtNode, acceptedIdx int, start, goal spatialmath.Pose) []spatialmath.Pose {
	var reversed []spatialmath.PlanarPoint
	for idx := acceptedIdx; idx != -1; idx = tree[idx].parent {
		reversed = append(reversed, tree[idx].point)
	}

	points := make([]spatialmath.PlanarPoint, 0, len(reversed)+1)
	for i := len(reversed) - 1; i >= 0; i-- {
		points = append(points, reversed[i])
	}
	points[0] = start.Point()
	if points[len(points)-1].DistanceTo(goal.Point()) > 0 {
		points = append(points, goal.Point())
	}

	return assignHeadings(points, start.Theta)
}

// assignHeadings converts a polyline into poses whose headings follow the
// segments. A single-point path keeps the fallback heading.
func assignHeadings(points []spatialmath.PlanarPoint, fallback float64) []spatialmath.Pose {
	path := make([]spatialmath.Pose, len(points))
	for i, p := range points {
		theta := fallback
		switch {
		case i < len(points)-1:
			next := points[i+1]
			theta = math.Atan2(next.Y-p.Y, next.X-p.X)
		case i > 0:
			theta = path[i-1].Theta
		}
		path[i] = spatialmath.NewPose(p.X, p.Y, theta)
	}
	return path
}

// ValidatePath re-checks a previously planned path against the current grid.
// Each segment is sampled at the given spacing; a sample landing on an
// occupied or high-probability cell invalidates the whole path. Used by the
// controller after significant map changes.
func ValidatePath(path []spatialmath.Pose, grid *occupancy.Grid, spacing float64) bool {
	for i := 0; i+1 < len(path); i++ {
		for _, p := range segmentSamples(path[i].Point(), path[i+1].Point(), spacing) {
			row, col := grid.WorldToGrid(p)
			cell, inBounds := grid.At(row, col)
			if !inBounds {
				return false
			}
			if cell.Occupied || cell.Probability > 0.5 {
				return false
			}
		}
	}
	return true
}
