// Package motionplan plans collision-free planar paths over an occupancy
// grid with a rapidly-exploring random tree. Planning is feasibility-only;
// no optimality is attempted.
package motionplan

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/spatialmath"
)

var (
	// ErrNoPath is returned when the tree exhausts its iteration or time
	// budget without reaching the goal region.
	ErrNoPath = errors.New("motion planner failed to find path")

	// ErrUntraversableEndpoint is returned when the start or goal cell
	// fails the inflated traversability check.
	ErrUntraversableEndpoint = errors.New("start or goal position is not traversable")
)

const (
	// How many random samples may be rejected for landing on blocked
	// cells before the sampler gives up and keeps the blocked point.
	freeSampleRetries = 100

	// A new node within this multiple of the step size reaches the goal.
	goalReachFactor = 1.5
)

// PlannerOptions bundles the planner's tunables.
type PlannerOptions struct {
	MaxIterations   int
	StepSize        float64
	GoalBias        float64
	Timeout         time.Duration
	InflationMargin int
}

// NewDefaultPlannerOptions returns the standard tuning.
func NewDefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		MaxIterations:   1000,
		StepSize:        0.5,
		GoalBias:        0.10,
		Timeout:         2 * time.Second,
		InflationMargin: occupancy.DefaultInflationMargin,
	}
}

// rrtNode is one tree vertex. The tree is an append-only arena; parent is an
// index into it, -1 for the root, so no cyclic references can form.
type rrtNode struct {
	point  spatialmath.PlanarPoint
	parent int
}

// RRTPlanner grows a tree from the start pose toward sampled free space,
// biased toward the goal. A planner is safe to reuse across Plan calls; each
// call owns its own tree.
type RRTPlanner struct {
	opts    PlannerOptions
	logger  golog.Logger
	randsrc *rand.Rand
	clk     clock.Clock
}

// NewRRTPlanner returns a planner with the given options. Pass a seeded rand
// for reproducible planning.
func NewRRTPlanner(opts PlannerOptions, randsrc *rand.Rand, clk clock.Clock, logger golog.Logger) *RRTPlanner {
	if randsrc == nil {
		//nolint:gosec
		randsrc = rand.New(rand.NewSource(rand.Int63()))
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RRTPlanner{opts: opts, logger: logger, randsrc: randsrc, clk: clk}
}

// Plan searches for a collision-free path from start to goal over the grid.
// The returned path starts at the start position, ends at the goal position,
// and carries per-segment headings. The grid is only read.
func (mp *RRTPlanner) Plan(
	ctx context.Context,
	start, goal spatialmath.Pose,
	grid *occupancy.Grid,
) ([]spatialmath.Pose, error) {
	startPt := start.Point()
	goalPt := goal.Point()

	if !mp.traversableAt(grid, startPt) || !mp.traversableAt(grid, goalPt) {
		return nil, ErrUntraversableEndpoint
	}

	tree := make([]rrtNode, 0, mp.opts.MaxIterations+1)
	tree = append(tree, rrtNode{point: startPt, parent: -1})

	deadline := mp.clk.Now().Add(mp.opts.Timeout)
	for i := 0; i < mp.opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if mp.clk.Now().After(deadline) {
			mp.logger.Debugw("planner timed out", "iterations", i, "nodes", len(tree))
			break
		}

		target := mp.sample(grid, goalPt)
		nearestIdx := nearest(tree, target)
		candidate := mp.extend(tree[nearestIdx].point, target)
		if !mp.segmentClear(grid, tree[nearestIdx].point, candidate) {
			continue
		}

		tree = append(tree, rrtNode{point: candidate, parent: nearestIdx})
		if candidate.DistanceTo(goalPt) < goalReachFactor*mp.opts.StepSize {
			return buildPath(tree, len(tree)-1, start, goal), nil
		}
	}
	return nil, ErrNoPath
}

// sample draws the next growth target: the goal with the configured bias,
// otherwise a uniform point inside the map, preferring free cells.
func (mp *RRTPlanner) sample(grid *occupancy.Grid, goal spatialmath.PlanarPoint) spatialmath.PlanarPoint {
	if mp.randsrc.Float64() < mp.opts.GoalBias {
		return goal
	}
	min, max := grid.Bounds()
	var p spatialmath.PlanarPoint
	for attempt := 0; attempt < freeSampleRetries; attempt++ {
		p = spatialmath.PlanarPoint{
			X: min.X + mp.randsrc.Float64()*(max.X-min.X),
			Y: min.Y + mp.randsrc.Float64()*(max.Y-min.Y),
		}
		if mp.traversableAt(grid, p) {
			return p
		}
	}
	return p
}

// extend steps from the nearest node toward the target, at most one step
// size away.
func (mp *RRTPlanner) extend(from, target spatialmath.PlanarPoint) spatialmath.PlanarPoint {
	dist := from.DistanceTo(target)
	if dist < mp.opts.StepSize {
		return target
	}
	heading := math.Atan2(target.Y-from.Y, target.X-from.X)
	return spatialmath.PlanarPoint{
		X: from.X + mp.opts.StepSize*math.Cos(heading),
		Y: from.Y + mp.opts.StepSize*math.Sin(heading),
	}
}

// segmentClear samples the segment at quarter-resolution spacing and checks
// every sample against the inflated grid.
func (mp *RRTPlanner) segmentClear(grid *occupancy.Grid, from, to spatialmath.PlanarPoint) bool {
	samples := segmentSamples(from, to, grid.Resolution()/4)
	for _, p := range samples {
		if !mp.traversableAt(grid, p) {
			return false
		}
	}
	return true
}

func (mp *RRTPlanner) traversableAt(grid *occupancy.Grid, p spatialmath.PlanarPoint) bool {
	row, col := grid.WorldToGrid(p)
	return grid.InflatedTraversable(row, col, mp.opts.InflationMargin)
}

// nearest returns the index of the tree node closest to the target.
func nearest(tree []rrtNode, target spatialmath.PlanarPoint) int {
	bestIdx := 0
	bestDist := math.Inf(1)
	for i, node := range tree {
		if d := node.point.DistanceTo(target); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return bestIdx
}

// segmentSamples returns evenly spaced points along [from, to], both
// endpoints included.
func segmentSamples(from, to spatialmath.PlanarPoint, spacing float64) []spatialmath.PlanarPoint {
	dist := from.DistanceTo(to)
	if dist == 0 {
		return []spatialmath.PlanarPoint{from}
	}
	count := int(math.Ceil(dist/spacing)) + 1
	samples := make([]spatialmath.PlanarPoint, 0, count)
	for i := 0; i < count; i++ {
		t := float64(i) / float64(count-1)
		samples = append(samples, spatialmath.PlanarPoint{
			X: from.X + t*(to.X-from.X),
			Y: from.Y + t*(to.Y-from.Y),
		})
	}
	return samples
}
