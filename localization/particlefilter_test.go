package localization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
)

func newTestFilter(t *testing.T) *ParticleFilter {
	t.Helper()
	pf, err := NewParticleFilter(DefaultNumParticles, rand.New(rand.NewSource(1)), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return pf
}

func weightSum(pf *ParticleFilter) float64 {
	sum := 0.0
	for _, p := range pf.Particles() {
		sum += p.Weight
	}
	return sum
}

// rangeReadingsFrom produces range readings to fixed landmarks, consistent
// with the robot sitting at truth.
func rangeReadingsFrom(truth spatialmath.Pose) []sensor.Reading {
	landmarks := []spatialmath.PlanarPoint{
		{X: 2, Y: 0}, {X: -2, Y: 0}, {X: 0, Y: 2}, {X: 0, Y: -2},
		{X: 1.5, Y: 1.5}, {X: -1.5, Y: 1.5}, {X: 1.5, Y: -1.5}, {X: -1.5, Y: -1.5},
	}
	readings := make([]sensor.Reading, 0, len(landmarks))
	for _, lm := range landmarks {
		readings = append(readings, sensor.Reading{
			Point:    r3.Vector{X: lm.X, Y: 0, Z: lm.Y},
			Distance: math.Hypot(lm.X-truth.X, lm.Y-truth.Y),
			Occupied: true,
		})
	}
	return readings
}

func TestNewParticleFilter(t *testing.T) {
	pf := newTestFilter(t)
	test.That(t, pf.NumParticles(), test.ShouldEqual, 100)
	test.That(t, weightSum(pf), test.ShouldAlmostEqual, 1.0, 1e-9)

	_, err := NewParticleFilter(0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitializeSpread(t *testing.T) {
	pf := newTestFilter(t)
	seed := spatialmath.NewPose(3, -2, 1)
	pf.Initialize(seed, 0.5)

	for _, p := range pf.Particles() {
		test.That(t, math.Abs(p.Pose.X-seed.X), test.ShouldBeLessThanOrEqualTo, 0.25)
		test.That(t, math.Abs(p.Pose.Y-seed.Y), test.ShouldBeLessThanOrEqualTo, 0.25)
		test.That(t, math.Abs(spatialmath.AngleDiff(p.Pose.Theta, seed.Theta)),
			test.ShouldBeLessThanOrEqualTo, 0.05*math.Pi+1e-12)
		test.That(t, p.Weight, test.ShouldAlmostEqual, 0.01)
	}
}

func TestPredictAppliesDelta(t *testing.T) {
	pf := newTestFilter(t)
	pf.Initialize(spatialmath.Pose{}, 0)

	pf.Predict(r3.Vector{X: 1, Y: 0, Z: 0.5}, 0.2)
	est := pf.EstimatedPose()
	test.That(t, est.X, test.ShouldAlmostEqual, 1.0, 0.05)
	test.That(t, est.Y, test.ShouldAlmostEqual, 0.5, 0.05)
	test.That(t, est.Theta, test.ShouldAlmostEqual, 0.2, 0.05)

	// Prediction alone never reweights.
	test.That(t, weightSum(pf), test.ShouldAlmostEqual, 1.0, 1e-9)
	for _, p := range pf.Particles() {
		test.That(t, p.Weight, test.ShouldAlmostEqual, 0.01)
	}
}

func TestUpdateNormalizesWeights(t *testing.T) {
	pf := newTestFilter(t)
	truth := spatialmath.NewPose(0, 0, 0)
	pf.Initialize(truth, 0.5)

	for i := 0; i < 5; i++ {
		pf.Predict(r3.Vector{}, 0)
		pf.Update(rangeReadingsFrom(truth))
		test.That(t, weightSum(pf), test.ShouldAlmostEqual, 1.0, 1e-9)
		test.That(t, pf.NumParticles(), test.ShouldEqual, 100)
	}
}

func TestUpdateEmptyBatchIsNoOp(t *testing.T) {
	pf := newTestFilter(t)
	before := pf.Particles()

	pf.Update(nil)

	after := pf.Particles()
	for i := range before {
		test.That(t, after[i].Weight, test.ShouldEqual, before[i].Weight)
		test.That(t, after[i].Pose, test.ShouldResemble, before[i].Pose)
	}
}

func TestDegenerateWeightsResetToUniform(t *testing.T) {
	pf := newTestFilter(t)

	// An infinite range makes every particle's likelihood vanish.
	pf.Update([]sensor.Reading{{
		Point:    r3.Vector{X: 1, Z: 1},
		Distance: math.Inf(1),
		Occupied: true,
	}})

	test.That(t, weightSum(pf), test.ShouldAlmostEqual, 1.0, 1e-9)
	for _, p := range pf.Particles() {
		test.That(t, p.Weight, test.ShouldAlmostEqual, 0.01)
	}
}

func TestEstimatedPoseThetaCanonical(t *testing.T) {
	pf := newTestFilter(t)
	pf.Initialize(spatialmath.NewPose(0, 0, math.Pi-0.01), 0.1)

	for i := 0; i < 20; i++ {
		pf.Predict(r3.Vector{}, 0.05)
	}
	est := pf.EstimatedPose()
	test.That(t, est.Theta, test.ShouldBeLessThanOrEqualTo, math.Pi)
	test.That(t, est.Theta, test.ShouldBeGreaterThan, -math.Pi)
}

func TestConvergenceUnderZeroMotion(t *testing.T) {
	pf := newTestFilter(t)
	truth := spatialmath.NewPose(0, 0, 0)
	pf.Initialize(truth, 0.5)

	for i := 0; i < 50; i++ {
		pf.Predict(r3.Vector{}, 0)
		pf.Update(rangeReadingsFrom(truth))
	}

	est := pf.EstimatedPose()
	test.That(t, est.DistanceTo(truth), test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(spatialmath.AngleDiff(est.Theta, truth.Theta)), test.ShouldBeLessThan, 0.1)
}
