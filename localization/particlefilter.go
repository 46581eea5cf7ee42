// Package localization estimates the robot's planar pose with a Monte-Carlo
// particle filter driven by odometry deltas and range readings.
package localization

import (
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
	"github.com/openrover/navcore/utils"
)

const (
	// DefaultNumParticles is the particle count used when none is given.
	DefaultNumParticles = 100

	// DefaultSpreadRadius is the initial positional spread around the seed
	// pose, in meters.
	DefaultSpreadRadius = 0.5

	motionNoiseX     = 0.05
	motionNoiseY     = 0.05
	motionNoiseTheta = 0.1

	measurementSigma = 0.1

	// Initial heading spread, as a fraction of pi on either side.
	headingSpreadFraction = 0.05
)

// Particle is one weighted pose hypothesis.
type Particle struct {
	Pose   spatialmath.Pose
	Weight float64
}

// ParticleFilter tracks a fixed-size particle population. The population
// size never changes across resampling and weights always sum to one after
// an update.
type ParticleFilter struct {
	particles   []Particle
	measurement distuv.Normal
	randsrc     *rand.Rand
	logger      golog.Logger
}

// NewParticleFilter returns a filter with numParticles particles centered on
// the zero pose. Pass a seeded rand for reproducible runs.
func NewParticleFilter(numParticles int, randsrc *rand.Rand, logger golog.Logger) (*ParticleFilter, error) {
	if numParticles <= 0 {
		return nil, errors.Errorf("particle count must be positive, got %d", numParticles)
	}
	if randsrc == nil {
		//nolint:gosec
		randsrc = rand.New(rand.NewSource(rand.Int63()))
	}
	pf := &ParticleFilter{
		particles:   make([]Particle, numParticles),
		measurement: distuv.Normal{Mu: 0, Sigma: measurementSigma},
		randsrc:     randsrc,
		logger:      logger,
	}
	pf.Initialize(spatialmath.Pose{}, DefaultSpreadRadius)
	return pf, nil
}

// NumParticles returns the fixed population size.
func (pf *ParticleFilter) NumParticles() int {
	return len(pf.particles)
}

// Particles returns a copy of the current population.
func (pf *ParticleFilter) Particles() []Particle {
	out := make([]Particle, len(pf.particles))
	copy(out, pf.particles)
	return out
}

// Initialize scatters the population uniformly in a square box centered on
// the pose, spreadRadius on a side (±spreadRadius/2 per axis), with a small
// uniform heading spread, and resets weights to uniform.
func (pf *ParticleFilter) Initialize(pose spatialmath.Pose, spreadRadius float64) {
	n := float64(len(pf.particles))
	for i := range pf.particles {
		pf.particles[i] = Particle{
			Pose: spatialmath.NewPose(
				pose.X+pf.uniform()*spreadRadius,
				pose.Y+pf.uniform()*spreadRadius,
				pose.Theta+pf.uniform()*2*headingSpreadFraction*math.Pi,
			),
			Weight: 1 / n,
		}
	}
}

// Predict advances every particle by the odometry delta plus uniform motion
// noise. The world delta's X and Z components are the planar displacement.
// Weights are unchanged.
func (pf *ParticleFilter) Predict(deltaPosition r3.Vector, deltaTheta float64) {
	planar := spatialmath.PlanarPointFromWorld(deltaPosition)
	for i := range pf.particles {
		p := &pf.particles[i]
		p.Pose.X += planar.X + pf.uniform()*motionNoiseX
		p.Pose.Y += planar.Y + pf.uniform()*motionNoiseY
		p.Pose.Theta = spatialmath.CanonicalizeAngle(p.Pose.Theta + deltaTheta + pf.uniform()*motionNoiseTheta)
	}
}

// Update reweights the population against a batch of range readings and
// resamples when the effective population collapses below half. An empty
// batch leaves weights untouched.
//
// Each particle's likelihood is exp of the summed Gaussian log-density of
// its range errors; the per-reading normalization constant is shared by all
// particles and cancels when weights are renormalized.
func (pf *ParticleFilter) Update(readings []sensor.Reading) {
	if len(readings) == 0 {
		return
	}

	logLik := make([]float64, len(pf.particles))
	for i, p := range pf.particles {
		sum := 0.0
		for _, reading := range readings {
			hit := reading.Planar()
			expected := math.Hypot(hit.X-p.Pose.X, hit.Y-p.Pose.Y)
			sum += pf.measurement.LogProb(math.Abs(expected - reading.Distance))
		}
		logLik[i] = sum
	}

	// Shift by the max log-likelihood before exponentiating so a long
	// reading batch cannot underflow every weight at once.
	shift := floats.Max(logLik)
	for i := range pf.particles {
		pf.particles[i].Weight *= math.Exp(logLik[i] - shift)
	}

	pf.normalize()

	if pf.NEff() < float64(len(pf.particles))/2 {
		pf.resample()
	}
}

// EstimatedPose returns the weighted mean position and circular-mean heading
// of the population. The heading is canonical.
func (pf *ParticleFilter) EstimatedPose() spatialmath.Pose {
	n := len(pf.particles)
	xs := make([]float64, n)
	ys := make([]float64, n)
	thetas := make([]float64, n)
	weights := make([]float64, n)
	for i, p := range pf.particles {
		xs[i] = p.Pose.X
		ys[i] = p.Pose.Y
		thetas[i] = p.Pose.Theta
		weights[i] = p.Weight
	}
	return spatialmath.NewPose(
		stat.Mean(xs, weights),
		stat.Mean(ys, weights),
		stat.CircularMean(thetas, weights),
	)
}

// NEff returns the effective population size 1 / sum(w^2).
func (pf *ParticleFilter) NEff() float64 {
	sumSq := 0.0
	for _, p := range pf.particles {
		sumSq += utils.Square(p.Weight)
	}
	if sumSq == 0 {
		return 0
	}
	return 1 / sumSq
}

// normalize rescales weights to sum to one. A fully underflowed population
// is reset to uniform rather than propagating NaNs.
func (pf *ParticleFilter) normalize() {
	sum := 0.0
	for _, p := range pf.particles {
		sum += p.Weight
	}
	if sum <= 0 || math.IsNaN(sum) {
		if pf.logger != nil {
			pf.logger.Warn("particle weights degenerate; resetting to uniform")
		}
		uniform := 1 / float64(len(pf.particles))
		for i := range pf.particles {
			pf.particles[i].Weight = uniform
		}
		return
	}
	for i := range pf.particles {
		pf.particles[i].Weight /= sum
	}
}

// resample draws a fresh population with the low-variance systematic
// scheme: one uniform draw, then fixed 1/N strides across the cumulative
// weight distribution. Weights reset to uniform.
func (pf *ParticleFilter) resample() {
	n := len(pf.particles)
	next := make([]Particle, n)
	uniform := 1 / float64(n)

	step := pf.randsrc.Float64() * uniform
	cumulative := pf.particles[0].Weight
	idx := 0
	for i := 0; i < n; i++ {
		target := step + float64(i)*uniform
		for cumulative < target && idx < n-1 {
			idx++
			cumulative += pf.particles[idx].Weight
		}
		next[i] = Particle{Pose: pf.particles[idx].Pose, Weight: uniform}
	}
	pf.particles = next
}

// uniform returns a draw from [-0.5, +0.5).
func (pf *ParticleFilter) uniform() float64 {
	return pf.randsrc.Float64() - 0.5
}
