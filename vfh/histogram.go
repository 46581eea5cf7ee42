// Package vfh implements vector-field-histogram obstacle avoidance: nearby
// range readings are binned into a polar density histogram and the robot
// steers for the lowest-density valley compatible with its target heading.
package vfh

import (
	"math"

	"github.com/edaniels/golog"

	"github.com/openrover/navcore/spatialmath"
)

const (
	defaultNumSectors      = 72
	defaultSafeDistance    = 1.0
	defaultMaxRange        = 5.0
	defaultTargetWeight    = 0.5
	defaultHeadingWeight   = 0.3
	defaultValleyThreshold = 0.3
)

// The circular smoothing kernel applied to the raw density histogram.
var smoothingKernel = []float64{0.1, 0.2, 0.4, 0.2, 0.1}

// Obstacle is a range reading relative to the robot: the planar offset from
// the robot to the hit point and the measured distance.
type Obstacle struct {
	Offset   spatialmath.PlanarPoint
	Distance float64
}

// Avoider selects safe travel directions from batches of relative obstacle
// readings. It keeps no state between calls.
type Avoider struct {
	numSectors      int
	safeDistance    float64
	maxRange        float64
	targetWeight    float64
	headingWeight   float64
	valleyThreshold float64
	logger          golog.Logger
}

// NewAvoider returns an avoider with the standard tuning: 72 five-degree
// sectors, 1m safe distance, 5m range.
func NewAvoider(logger golog.Logger) *Avoider {
	return &Avoider{
		numSectors:      defaultNumSectors,
		safeDistance:    defaultSafeDistance,
		maxRange:        defaultMaxRange,
		targetWeight:    defaultTargetWeight,
		headingWeight:   defaultHeadingWeight,
		valleyThreshold: defaultValleyThreshold,
		logger:          logger,
	}
}

// BestDirection returns the heading the robot should steer toward given the
// surrounding obstacles, the direction of the current waypoint, and the
// current velocity direction. With no free valley it falls back to the
// current heading.
func (a *Avoider) BestDirection(obstacles []Obstacle, targetAngle float64, velocity spatialmath.PlanarPoint) float64 {
	smoothed := a.smooth(a.histogram(obstacles))
	valleys := a.findValleys(smoothed)

	if len(valleys) == 0 {
		return velocity.Angle()
	}

	currentAngle := velocity.Angle()
	best := valleys[0]
	bestCost := math.Inf(1)
	for _, v := range valleys {
		cost := a.targetWeight*math.Abs(spatialmath.AngleDiff(v, targetAngle)) +
			a.headingWeight*math.Abs(spatialmath.AngleDiff(v, currentAngle))
		if cost < bestCost {
			bestCost = cost
			best = v
		}
	}
	return best
}

// histogram bins each in-range obstacle by bearing, weighted so closer
// obstacles contribute more density.
func (a *Avoider) histogram(obstacles []Obstacle) []float64 {
	h := make([]float64, a.numSectors)
	sectorSize := 2 * math.Pi / float64(a.numSectors)
	for _, o := range obstacles {
		if o.Distance > a.maxRange {
			continue
		}
		angle := o.Offset.Angle()
		sector := int(math.Mod(math.Mod(angle, 2*math.Pi)+2*math.Pi, 2*math.Pi) / sectorSize)
		if sector >= a.numSectors {
			sector = a.numSectors - 1
		}
		h[sector] += 1 - math.Min(o.Distance/a.safeDistance, 1)
	}
	return h
}

// smooth applies the circular smoothing kernel.
func (a *Avoider) smooth(h []float64) []float64 {
	n := len(h)
	half := len(smoothingKernel) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for k, weight := range smoothingKernel {
			idx := ((i+k-half)%n + n) % n
			sum += weight * h[idx]
		}
		out[i] = sum
	}
	return out
}

// findValleys returns the center angles of sectors that are below the valley
// threshold and are circular local minima.
func (a *Avoider) findValleys(smoothed []float64) []float64 {
	n := len(smoothed)
	sectorSize := 2 * math.Pi / float64(n)
	var valleys []float64
	for i := 0; i < n; i++ {
		prev := smoothed[((i-1)%n+n)%n]
		next := smoothed[(i+1)%n]
		if smoothed[i] < a.valleyThreshold && smoothed[i] <= prev && smoothed[i] <= next {
			center := (float64(i) + 0.5) * sectorSize
			valleys = append(valleys, spatialmath.CanonicalizeAngle(center))
		}
	}
	return valleys
}
