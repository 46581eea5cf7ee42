// Package navigation ties the occupancy grid, particle filter, planner, and
// obstacle avoider into a single control loop that turns odometry and range
// readings into velocity commands.
//
// The controller is a single logical actor: all of its methods must be
// called from one owner, in tick order UpdatePose, UpdateMap,
// VelocityCommand. It takes no locks of its own.
package navigation

import (
	"context"
	"math"
	"math/rand"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/openrover/navcore/localization"
	"github.com/openrover/navcore/motionplan"
	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
	"github.com/openrover/navcore/utils"
	"github.com/openrover/navcore/vfh"
)

const (
	// Below this sensor distance the robot refuses to move at all.
	emergencyStopDistance = 0.3

	// A waypoint closer than this is considered reached and popped.
	waypointReachDistance = 0.3

	maxLinearSpeed = 0.5
	turnGain       = 2.0

	// Linear speed scales down as the nearest obstacle approaches the
	// emergency stop distance, never below this floor.
	minSpeedFactor = 0.1

	// Path re-validation sample spacing, in grid resolutions.
	pathCheckSpacingCells = 2
)

const noPathMsg = "No path found to goal"

// Controller owns the navigation state machine.
type Controller struct {
	logger  golog.Logger
	grid    *occupancy.Grid
	filter  *localization.ParticleFilter
	planner *motionplan.RRTPlanner
	avoider *vfh.Avoider
	sensors []sensor.RangeSensor
	metrics *Metrics

	currentPose  spatialmath.Pose
	lastPosition r3.Vector
	poseSeeded   bool

	navigating bool
	goal       *Goal
	path       []spatialmath.Pose
	status     Status
	lastErr    string
}

// NewController builds a controller from the config. The clock and metrics
// may be nil; a zero cfg.Seed picks a random seed.
func NewController(
	cfg Config,
	sensors []sensor.RangeSensor,
	clk clock.Clock,
	metrics *Metrics,
	logger golog.Logger,
) (*Controller, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "invalid navigation config")
	}
	if clk == nil {
		clk = clock.New()
	}

	seed := cfg.Seed
	if seed == 0 {
		//nolint:gosec
		seed = rand.Int63()
	}

	grid, err := occupancy.NewGrid(cfg.GridWidthMeters, cfg.GridHeightMeters, cfg.GridResolution, clk)
	if err != nil {
		return nil, err
	}
	filter, err := localization.NewParticleFilter(cfg.NumParticles, rand.New(rand.NewSource(seed)), logger)
	if err != nil {
		return nil, err
	}
	planner := motionplan.NewRRTPlanner(cfg.plannerOptions(), rand.New(rand.NewSource(seed+1)), clk, logger)

	return &Controller{
		logger:  logger,
		grid:    grid,
		filter:  filter,
		planner: planner,
		avoider: vfh.NewAvoider(logger),
		sensors: sensors,
		metrics: metrics,
		status:  StatusIdle,
	}, nil
}

// UpdatePose feeds one odometry sample through the localizer: predict with
// the pose delta, correct against the current sensor batch, then refresh the
// pose estimate and check for goal arrival. The first sample seeds the
// filter at that pose, so its prediction step carries a zero odometry delta.
func (c *Controller) UpdatePose(ctx context.Context, position, rotation r3.Vector) error {
	readings := c.gatherAt(ctx, position, rotation)
	c.updatePoseWithReadings(position, rotation, readings)
	return nil
}

func (c *Controller) updatePoseWithReadings(position, rotation r3.Vector, readings []sensor.Reading) {
	if c.metrics != nil {
		c.metrics.Ticks.Inc()
	}

	if !c.poseSeeded {
		planar := spatialmath.PlanarPointFromWorld(position)
		seed := spatialmath.NewPose(planar.X, planar.Y, rotation.Y)
		c.filter.Initialize(seed, localization.DefaultSpreadRadius)
		// Zero out the first deltas: the position delta through
		// lastPosition, the heading delta through currentPose.
		c.lastPosition = position
		c.currentPose = seed
		c.poseSeeded = true
	}

	delta := position.Sub(c.lastPosition)
	deltaTheta := rotation.Y - c.currentPose.Theta
	c.filter.Predict(delta, deltaTheta)

	if occupied := occupiedOnly(readings); len(occupied) > 0 {
		c.filter.Update(occupied)
	}
	c.currentPose = c.filter.EstimatedPose()
	c.lastPosition = position

	if c.metrics != nil {
		c.metrics.EffectiveParticles.Set(c.filter.NEff())
	}

	if c.navigating && c.goal != nil && c.goalReached() {
		c.logger.Infow("goal reached", "goal", c.goal.ID, "pose", c.currentPose)
		c.path = nil
		c.navigating = false
		c.status = StatusGoalReached
	}
}

// SetGoal plans a path from the current pose estimate to the goal and starts
// following it. A goal set while another is active supersedes it. On
// planning failure the controller surfaces StatusFailed and returns the
// planner's error.
func (c *Controller) SetGoal(ctx context.Context, goal Goal) error {
	c.status = StatusPlanning
	c.goal = &goal
	c.navigating = false
	c.path = nil
	c.lastErr = ""

	path, err := c.planner.Plan(ctx, c.currentPose, goal.Pose, c.grid)
	if err != nil {
		c.logger.Warnw("planning failed", "goal", goal.ID, "error", err)
		c.status = StatusFailed
		c.lastErr = noPathMsg
		if c.metrics != nil {
			c.metrics.PlanFailures.Inc()
		}
		return err
	}

	c.logger.Infow("path planned", "goal", goal.ID, "waypoints", len(path))
	c.path = path
	c.navigating = true
	c.status = StatusMoving
	return nil
}

// UpdateMap integrates a sensor batch into the grid. A significant map
// change while navigating re-validates the current path and replans if it
// became blocked; a failed replan clears the path and surfaces
// StatusBlocked. Validation samples the path every two cells, so an
// obstacle one cell thick can fall between samples and leave the path in
// place.
func (c *Controller) UpdateMap(ctx context.Context, readings []sensor.Reading) error {
	significant := c.grid.Integrate(readings, c.currentPose)
	if !significant || !c.navigating || c.goal == nil {
		return nil
	}

	spacing := c.grid.Resolution() * pathCheckSpacingCells
	if motionplan.ValidatePath(c.path, c.grid, spacing) {
		return nil
	}

	c.logger.Infow("map change invalidated path; replanning", "goal", c.goal.ID)
	if c.metrics != nil {
		c.metrics.Replans.Inc()
	}
	path, err := c.planner.Plan(ctx, c.currentPose, c.goal.Pose, c.grid)
	if err != nil {
		c.logger.Warnw("replan failed; blocked", "goal", c.goal.ID, "error", err)
		c.path = nil
		c.navigating = false
		c.status = StatusBlocked
		c.lastErr = "path blocked by map change"
		return err
	}
	c.path = path
	return nil
}

// VelocityCommand computes the (linear, angular) velocity pair that steers
// the robot toward the current waypoint while avoiding obstacles. It emits
// (0, 0) when idle, when a sensor reports an obstacle inside the emergency
// stop distance, or when the path runs out.
func (c *Controller) VelocityCommand(ctx context.Context) (float64, float64) {
	return c.velocityWithReadings(c.gather(ctx))
}

func (c *Controller) velocityWithReadings(readings []sensor.Reading) (float64, float64) {
	if !c.navigating || len(c.path) == 0 {
		return 0, 0
	}

	minDistance := math.Inf(1)
	for _, r := range readings {
		if r.Distance < minDistance {
			minDistance = r.Distance
		}
	}
	if minDistance < emergencyStopDistance {
		c.logger.Debugw("emergency stop", "distance", minDistance)
		if c.metrics != nil {
			c.metrics.EmergencyStops.Inc()
		}
		return 0, 0
	}

	target := c.path[0]
	dx := target.X - c.currentPose.X
	dy := target.Y - c.currentPose.Y
	dist := math.Hypot(dx, dy)
	targetAngle := math.Atan2(dy, dx)

	obstacles := make([]vfh.Obstacle, 0, len(readings))
	for _, r := range readings {
		if !r.Occupied {
			continue
		}
		obstacles = append(obstacles, vfh.Obstacle{
			Offset:   r.Planar().Sub(c.currentPose.Point()),
			Distance: r.Distance,
		})
	}
	safeAngle := c.avoider.BestDirection(obstacles, targetAngle, spatialmath.PlanarPoint{X: dx, Y: dy})

	// Intermediate waypoints pop once the robot is close enough. The final
	// waypoint is the goal itself and stays until the arrival check in
	// updatePose clears the path, so the robot can close to within the
	// goal tolerance rather than stopping a waypoint-radius short.
	if dist < waypointReachDistance && len(c.path) > 1 {
		c.path = c.path[1:]
	}

	angleDiff := spatialmath.AngleDiff(safeAngle, c.currentPose.Theta)
	speedFactor := utils.Clamp((minDistance-emergencyStopDistance)/1.0, minSpeedFactor, 1.0)
	linear := math.Max(0, math.Min(dist*0.5, maxLinearSpeed)*speedFactor*math.Cos(angleDiff))
	angular := utils.Clamp(angleDiff*turnGain, -1, 1)
	return linear, angular
}

// Tick runs one full control cycle with a single sensor gather: pose update,
// map integration, then the velocity command.
func (c *Controller) Tick(ctx context.Context, position, rotation r3.Vector) (float64, float64, error) {
	readings := c.gatherAt(ctx, position, rotation)
	c.updatePoseWithReadings(position, rotation, readings)
	if err := c.UpdateMap(ctx, readings); err != nil {
		// Blocked is already surfaced in the state; the tick carries on
		// and emits a stop below.
		c.logger.Debugw("map update", "error", err)
	}
	linear, angular := c.velocityWithReadings(readings)
	return linear, angular, nil
}

// State returns a snapshot of the controller. Safe to hand to other
// goroutines.
func (c *Controller) State() State {
	st := State{
		Pose:       c.currentPose,
		Grid:       c.grid.Snapshot(),
		Navigating: c.navigating,
		Status:     c.status,
		LastError:  c.lastErr,
	}
	if c.goal != nil {
		goal := *c.goal
		st.Goal = &goal
	}
	if c.path != nil {
		st.Path = make([]spatialmath.Pose, len(c.path))
		copy(st.Path, c.path)
	}
	return st
}

// CurrentPose returns the localizer's latest pose estimate.
func (c *Controller) CurrentPose() spatialmath.Pose {
	return c.currentPose
}

// gather polls all sensors at the last known position; sensor failures are
// logged and the partial batch is used.
func (c *Controller) gather(ctx context.Context) []sensor.Reading {
	return c.gatherAt(ctx, c.lastPosition, r3.Vector{Y: c.currentPose.Theta})
}

func (c *Controller) gatherAt(ctx context.Context, position, rotation r3.Vector) []sensor.Reading {
	readings, err := sensor.Gather(ctx, c.sensors, position, rotation)
	if err != nil {
		c.logger.Warnw("sensor gather", "error", err)
	}
	return readings
}

func (c *Controller) goalReached() bool {
	dist := c.currentPose.DistanceTo(c.goal.Pose)
	angle := math.Abs(spatialmath.AngleDiff(c.goal.Pose.Theta, c.currentPose.Theta))
	return dist < c.goal.PositionTolerance && angle < c.goal.OrientationTolerance
}

func occupiedOnly(readings []sensor.Reading) []sensor.Reading {
	out := make([]sensor.Reading, 0, len(readings))
	for _, r := range readings {
		if r.Occupied {
			out = append(out, r)
		}
	}
	return out
}
