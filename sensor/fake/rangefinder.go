// Package fake implements a simulated range finder that casts rays against a
// ground-truth occupancy grid. It stands in for lidar hardware in tests and
// the simulator.
package fake

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
)

// DefaultNumRays is the ray count used when none is configured.
const DefaultNumRays = 36

// RangeFinder simulates a 360-degree range scanner. Rays march across the
// world grid at half-cell steps until they hit an occupied cell or exhaust
// the configured range.
type RangeFinder struct {
	name     string
	world    *occupancy.Grid
	numRays  int
	maxRange float64
	noise    float64
	randsrc  *rand.Rand
}

// NewRangeFinder returns a scanner reading the given ground-truth world.
// noise is the amplitude of uniform range noise; zero disables it.
func NewRangeFinder(name string, world *occupancy.Grid, numRays int, maxRange, noise float64, randsrc *rand.Rand) (*RangeFinder, error) {
	if world == nil {
		return nil, errors.New("fake range finder needs a world grid")
	}
	if numRays <= 0 {
		numRays = DefaultNumRays
	}
	if maxRange <= 0 {
		return nil, errors.Errorf("max range must be positive, got %v", maxRange)
	}
	if randsrc == nil {
		//nolint:gosec
		randsrc = rand.New(rand.NewSource(rand.Int63()))
	}
	return &RangeFinder{
		name:     name,
		world:    world,
		numRays:  numRays,
		maxRange: maxRange,
		noise:    noise,
		randsrc:  randsrc,
	}, nil
}

// Name returns the sensor's name.
func (rf *RangeFinder) Name() string { return rf.name }

// Update casts one full scan from the given world position and yaw
// (rotation.Y). Hit rays produce occupied readings at the hit point; clear
// rays produce free readings at max range.
func (rf *RangeFinder) Update(ctx context.Context, position, rotation r3.Vector) ([]sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	origin := spatialmath.PlanarPointFromWorld(position)
	step := rf.world.Resolution() / 2

	readings := make([]sensor.Reading, 0, rf.numRays)
	for i := 0; i < rf.numRays; i++ {
		angle := rotation.Y + 2*math.Pi*float64(i)/float64(rf.numRays)
		dirX, dirY := math.Cos(angle), math.Sin(angle)

		hit := false
		for dist := step; dist <= rf.maxRange; dist += step {
			p := spatialmath.PlanarPoint{X: origin.X + dist*dirX, Y: origin.Y + dist*dirY}
			row, col := rf.world.WorldToGrid(p)
			cell, inBounds := rf.world.At(row, col)
			if !inBounds {
				break
			}
			if cell.Occupied {
				measured := dist
				if rf.noise > 0 {
					measured += (rf.randsrc.Float64() - 0.5) * rf.noise
				}
				readings = append(readings, sensor.Reading{
					Point:    r3.Vector{X: p.X, Y: 0, Z: p.Y},
					Distance: measured,
					Occupied: true,
					MeshID:   rf.name,
				})
				hit = true
				break
			}
		}
		if !hit {
			end := spatialmath.PlanarPoint{X: origin.X + rf.maxRange*dirX, Y: origin.Y + rf.maxRange*dirY}
			readings = append(readings, sensor.Reading{
				Point:    r3.Vector{X: end.X, Y: 0, Z: end.Y},
				Distance: rf.maxRange,
				Occupied: false,
				MeshID:   rf.name,
			})
		}
	}
	return readings, nil
}
