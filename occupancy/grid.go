// Package occupancy maintains the probabilistic 2D map of the robot's
// surroundings. The grid is owned and written by the navigation controller;
// the planner borrows it read-only for the duration of a single plan.
package occupancy

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/openrover/navcore/spatialmath"
)

// Default grid geometry: a 30m x 30m area at 5cm per cell, centered on the
// world origin.
const (
	DefaultWidthMeters  = 30.0
	DefaultHeightMeters = 30.0
	DefaultResolution   = 0.05

	// DefaultInflationMargin is the obstacle safety buffer, in cells, used
	// by traversability queries.
	DefaultInflationMargin = 2
)

const (
	unknownProbability = 0.5
	hitProbability     = 0.95
	missProbability    = 0.10

	// A cell whose probability moves by more than this in one integration
	// marks the whole update as a significant map change.
	significantDelta = 0.3
)

// Cell is a single grid cell. Probability 0.5 means unknown; Occupied
// implies Probability >= 0.5.
type Cell struct {
	Occupied    bool
	Probability float64
	Cost        float64
	LastUpdated time.Time
}

// Traversable reports whether the robot may occupy this cell.
func (c Cell) Traversable() bool {
	return !c.Occupied && c.Probability <= unknownProbability
}

// Grid is a row-major 2D occupancy grid with a centered origin.
type Grid struct {
	cells      []Cell
	rows       int
	cols       int
	resolution float64
	originX    float64
	originY    float64
	clk        clock.Clock
}

// NewGrid returns a grid covering widthMeters x heightMeters at the given
// resolution, every cell unknown. The origin is centered so world (0, 0)
// falls in the middle of the grid.
func NewGrid(widthMeters, heightMeters, resolution float64, clk clock.Clock) (*Grid, error) {
	if widthMeters <= 0 || heightMeters <= 0 {
		return nil, errors.Errorf("grid dimensions must be positive, got %vx%v", widthMeters, heightMeters)
	}
	if resolution <= 0 {
		return nil, errors.Errorf("grid resolution must be positive, got %v", resolution)
	}
	if clk == nil {
		clk = clock.New()
	}
	cols := int(widthMeters / resolution)
	rows := int(heightMeters / resolution)
	g := &Grid{
		cells:      make([]Cell, rows*cols),
		rows:       rows,
		cols:       cols,
		resolution: resolution,
		originX:    -widthMeters / 2,
		originY:    -heightMeters / 2,
		clk:        clk,
	}
	now := clk.Now()
	for i := range g.cells {
		g.cells[i] = Cell{Probability: unknownProbability, LastUpdated: now}
	}
	return g, nil
}

// NewDefaultGrid returns a grid with the default geometry.
func NewDefaultGrid(clk clock.Clock) *Grid {
	g, err := NewGrid(DefaultWidthMeters, DefaultHeightMeters, DefaultResolution, clk)
	if err != nil {
		panic(err)
	}
	return g
}

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int { return g.cols }

// Resolution returns the cell size in meters.
func (g *Grid) Resolution() float64 { return g.resolution }

// Origin returns the world position of the grid's (0, 0) corner.
func (g *Grid) Origin() spatialmath.PlanarPoint {
	return spatialmath.PlanarPoint{X: g.originX, Y: g.originY}
}

// Bounds returns the world-coordinate extents covered by the grid.
func (g *Grid) Bounds() (min, max spatialmath.PlanarPoint) {
	min = g.Origin()
	max = spatialmath.PlanarPoint{
		X: g.originX + float64(g.cols)*g.resolution,
		Y: g.originY + float64(g.rows)*g.resolution,
	}
	return min, max
}

// WorldToGrid maps a world point to its containing cell.
func (g *Grid) WorldToGrid(p spatialmath.PlanarPoint) (row, col int) {
	col = int(math.Floor((p.X - g.originX) / g.resolution))
	row = int(math.Floor((p.Y - g.originY) / g.resolution))
	return row, col
}

// GridToWorld returns the world position of a cell's center.
func (g *Grid) GridToWorld(row, col int) spatialmath.PlanarPoint {
	return spatialmath.PlanarPoint{
		X: g.originX + (float64(col)+0.5)*g.resolution,
		Y: g.originY + (float64(row)+0.5)*g.resolution,
	}
}

// InBounds reports whether the cell coordinates are inside the grid.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.rows && col >= 0 && col < g.cols
}

// At returns the cell at (row, col). Out-of-bounds reads return an unknown
// cell and false.
func (g *Grid) At(row, col int) (Cell, bool) {
	if !g.InBounds(row, col) {
		return Cell{Probability: unknownProbability}, false
	}
	return g.cells[row*g.cols+col], true
}

// IsTraversable reports whether the robot may occupy the cell. Cells outside
// the grid are not traversable.
func (g *Grid) IsTraversable(row, col int) bool {
	if !g.InBounds(row, col) {
		return false
	}
	return g.cells[row*g.cols+col].Traversable()
}

// InflatedTraversable reports whether every cell of the (2*margin+1) square
// centered on (row, col) is traversable, giving planners a safety buffer
// around obstacles.
func (g *Grid) InflatedTraversable(row, col, margin int) bool {
	for dr := -margin; dr <= margin; dr++ {
		for dc := -margin; dc <= margin; dc++ {
			if !g.IsTraversable(row+dr, col+dc) {
				return false
			}
		}
	}
	return true
}

// SetProbability overwrites a cell's occupancy probability, deriving the
// occupied flag. Used to seed known worlds; live updates go through
// Integrate.
func (g *Grid) SetProbability(row, col int, p float64) {
	if !g.InBounds(row, col) {
		return
	}
	cell := &g.cells[row*g.cols+col]
	cell.Probability = p
	cell.Occupied = p > unknownProbability
	cell.LastUpdated = g.clk.Now()
}

// Snapshot returns a deep copy of the grid. The copy shares no cells with
// the original, so it is safe to hand out of the owning actor.
func (g *Grid) Snapshot() *Grid {
	copied := *g
	copied.cells = make([]Cell, len(g.cells))
	copy(copied.cells, g.cells)
	return &copied
}
