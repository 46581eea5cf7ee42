package occupancy

import (
	"math"

	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
	"github.com/openrover/navcore/utils"
)

// Integrate folds a batch of range readings into the grid. For every
// occupied reading it walks the Bresenham line from the robot's cell to the
// hit cell, clearing the traversed cells and marking the endpoint occupied.
// Readings whose hit cell falls outside the grid are skipped; readings with
// Occupied=false carry no hit point and are ignored here.
//
// The overwrite probabilities make integration idempotent: re-applying the
// same batch leaves the grid unchanged.
//
// It returns true when any touched cell's probability moved by more than the
// significance threshold, which is the controller's cue to re-validate the
// current path.
func (g *Grid) Integrate(readings []sensor.Reading, robot spatialmath.Pose) bool {
	robotRow, robotCol := g.WorldToGrid(robot.Point())
	now := g.clk.Now()

	significant := false
	for _, reading := range readings {
		if !reading.Occupied {
			continue
		}
		hitRow, hitCol := g.WorldToGrid(reading.Planar())
		if !g.InBounds(hitRow, hitCol) {
			continue
		}
		bresenhamWalk(robotRow, robotCol, hitRow, hitCol, func(row, col int, last bool) {
			if !g.InBounds(row, col) {
				return
			}
			cell := &g.cells[row*g.cols+col]
			prev := cell.Probability
			if last {
				cell.Probability = hitProbability
				cell.Occupied = true
			} else {
				cell.Probability = missProbability
				cell.Occupied = false
			}
			cell.LastUpdated = now
			if math.Abs(cell.Probability-prev) > significantDelta {
				significant = true
			}
		})
	}
	return significant
}

// bresenhamWalk visits every cell of the integer line from (r0, c0) to
// (r1, c1), both endpoints inclusive, flagging the final cell. Classic
// integer-error form; ties step diagonally, which keeps the walk
// deterministic.
func bresenhamWalk(r0, c0, r1, c1 int, visit func(row, col int, last bool)) {
	dc := utils.AbsInt(c1 - c0)
	dr := utils.AbsInt(r1 - r0)
	stepC := 1
	if c0 > c1 {
		stepC = -1
	}
	stepR := 1
	if r0 > r1 {
		stepR = -1
	}

	err := dc - dr
	row, col := r0, c0
	for {
		last := row == r1 && col == c1
		visit(row, col, last)
		if last {
			return
		}
		e2 := 2 * err
		if e2 > -dr {
			err -= dr
			col += stepC
		}
		if e2 < dc {
			err += dc
			row += stepR
		}
	}
}
