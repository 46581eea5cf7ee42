package navigation

import (
	"context"
	"math"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/spatialmath"
)

// scriptedSensor returns a fixed batch of readings.
type scriptedSensor struct {
	name     string
	readings []sensor.Reading
}

func (s *scriptedSensor) Name() string { return s.name }

func (s *scriptedSensor) Update(ctx context.Context, position, rotation r3.Vector) ([]sensor.Reading, error) {
	return s.readings, nil
}

func hitReading(x, y, distance float64) sensor.Reading {
	return sensor.Reading{
		Point:    r3.Vector{X: x, Y: 0, Z: y},
		Distance: distance,
		Occupied: true,
		MeshID:   "scripted",
	}
}

func seededConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 1
	return cfg
}

func newTestController(t *testing.T, sensors []sensor.RangeSensor) *Controller {
	t.Helper()
	ctrl, err := NewController(seededConfig(), sensors, clock.NewMock(), nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return ctrl
}

// seedPose pushes one odometry sample so the filter is initialized at the
// given planar position.
func seedPose(t *testing.T, ctrl *Controller, x, y, theta float64) {
	t.Helper()
	err := ctrl.UpdatePose(context.Background(), r3.Vector{X: x, Z: y}, r3.Vector{Y: theta})
	test.That(t, err, test.ShouldBeNil)
}

func TestNewControllerValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumParticles = 0
	_, err := NewController(cfg, nil, clock.NewMock(), nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "num_particles")
}

func TestInitialState(t *testing.T) {
	ctrl := newTestController(t, nil)
	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusIdle)
	test.That(t, st.Navigating, test.ShouldBeFalse)
	test.That(t, st.Path, test.ShouldBeNil)
	test.That(t, st.Goal, test.ShouldBeNil)
}

func TestFirstPoseUpdateSeedsHeading(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 2, -1, 1.2)

	// The first sample seeds the filter and predicts with a zero delta, so
	// the heading must not be applied twice.
	est := ctrl.CurrentPose()
	test.That(t, est.X, test.ShouldAlmostEqual, 2.0, 0.1)
	test.That(t, est.Y, test.ShouldAlmostEqual, -1.0, 0.1)
	test.That(t, est.Theta, test.ShouldAlmostEqual, 1.2, 0.2)

	// A second stationary sample stays put.
	seedPose(t, ctrl, 2, -1, 1.2)
	est = ctrl.CurrentPose()
	test.That(t, est.Theta, test.ShouldAlmostEqual, 1.2, 0.2)
}

func TestSetGoalPlansPath(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)

	goal := NewGoal(spatialmath.NewPose(5, 0, 0))
	err := ctrl.SetGoal(context.Background(), goal)
	test.That(t, err, test.ShouldBeNil)

	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusMoving)
	test.That(t, st.Navigating, test.ShouldBeTrue)
	test.That(t, len(st.Path), test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, st.Path[len(st.Path)-1].X, test.ShouldAlmostEqual, 5.0)
	test.That(t, st.Path[len(st.Path)-1].Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, st.Goal.ID, test.ShouldResemble, goal.ID)
}

func TestSetGoalInsideObstacleFails(t *testing.T) {
	// A hit right on the goal position makes the goal cell occupied, which
	// fails the planner's inflated endpoint check.
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)
	err := ctrl.UpdateMap(context.Background(), []sensor.Reading{hitReading(5, 0, 5)})
	test.That(t, err, test.ShouldBeNil)

	err = ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(5, 0, 0)))
	test.That(t, err, test.ShouldNotBeNil)

	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusFailed)
	test.That(t, st.LastError, test.ShouldEqual, "No path found to goal")
	test.That(t, st.Navigating, test.ShouldBeFalse)
}

func TestGoalReachedOnPoseUpdate(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)

	// Goal at the current pose: planning succeeds and the very next pose
	// update lands inside the tolerance.
	pose := ctrl.CurrentPose()
	err := ctrl.SetGoal(context.Background(), NewGoal(pose))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctrl.State().Status, test.ShouldEqual, StatusMoving)

	seedPose(t, ctrl, 0, 0, 0)
	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusGoalReached)
	test.That(t, st.Navigating, test.ShouldBeFalse)
	test.That(t, st.Path, test.ShouldBeNil)

	linear, angular := ctrl.VelocityCommand(context.Background())
	test.That(t, linear, test.ShouldEqual, 0.0)
	test.That(t, angular, test.ShouldEqual, 0.0)
}

func TestEmergencyStop(t *testing.T) {
	tooClose := &scriptedSensor{name: "close", readings: []sensor.Reading{hitReading(0.2, 0, 0.2)}}
	ctrl := newTestController(t, []sensor.RangeSensor{tooClose})
	seedPose(t, ctrl, 0, 0, 0)

	err := ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(5, 0, 0)))
	test.That(t, err, test.ShouldBeNil)
	pathBefore := ctrl.State().Path

	linear, angular := ctrl.VelocityCommand(context.Background())
	test.That(t, linear, test.ShouldEqual, 0.0)
	test.That(t, angular, test.ShouldEqual, 0.0)

	// The stop is transient: the path and navigation state are untouched.
	st := ctrl.State()
	test.That(t, st.Navigating, test.ShouldBeTrue)
	test.That(t, st.Status, test.ShouldEqual, StatusMoving)
	test.That(t, st.Path, test.ShouldResemble, pathBefore)
}

func TestVelocityCommandBounds(t *testing.T) {
	mid := &scriptedSensor{name: "mid", readings: []sensor.Reading{hitReading(0, 1.2, 1.2)}}
	ctrl := newTestController(t, []sensor.RangeSensor{mid})
	seedPose(t, ctrl, 0, 0, 0)

	err := ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(5, 0, 0)))
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 10; i++ {
		linear, angular := ctrl.VelocityCommand(context.Background())
		test.That(t, linear, test.ShouldBeGreaterThanOrEqualTo, 0.0)
		test.That(t, linear, test.ShouldBeLessThanOrEqualTo, 0.5)
		test.That(t, angular, test.ShouldBeGreaterThanOrEqualTo, -1.0)
		test.That(t, angular, test.ShouldBeLessThanOrEqualTo, 1.0)
	}
}

func TestVelocityCommandIdle(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)

	linear, angular := ctrl.VelocityCommand(context.Background())
	test.That(t, linear, test.ShouldEqual, 0.0)
	test.That(t, angular, test.ShouldEqual, 0.0)
}

func TestReplanOnMapChange(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)

	err := ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(5, 0, 0)))
	test.That(t, err, test.ShouldBeNil)
	pathBefore := ctrl.State().Path

	// Obstacles appear on the next two waypoints of the planned route.
	var readings []sensor.Reading
	for _, wp := range pathBefore[1:3] {
		readings = append(readings, hitReading(wp.X, wp.Y, math.Hypot(wp.X, wp.Y)))
	}
	err = ctrl.UpdateMap(context.Background(), readings)
	test.That(t, err, test.ShouldBeNil)

	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusMoving)
	test.That(t, st.Navigating, test.ShouldBeTrue)
	test.That(t, len(st.Path), test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, st.Path, test.ShouldNotResemble, pathBefore)
}

func TestBlockedWhenReplanFails(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)

	err := ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(5, 0, 0)))
	test.That(t, err, test.ShouldBeNil)

	// The goal itself becomes occupied; no replan can succeed.
	err = ctrl.UpdateMap(context.Background(), []sensor.Reading{hitReading(5, 0, 5)})
	test.That(t, err, test.ShouldNotBeNil)

	st := ctrl.State()
	test.That(t, st.Status, test.ShouldEqual, StatusBlocked)
	test.That(t, st.Navigating, test.ShouldBeFalse)
	test.That(t, st.Path, test.ShouldBeNil)
}

func TestStateSnapshotDoesNotAlias(t *testing.T) {
	ctrl := newTestController(t, nil)
	seedPose(t, ctrl, 0, 0, 0)
	err := ctrl.SetGoal(context.Background(), NewGoal(spatialmath.NewPose(3, 0, 0)))
	test.That(t, err, test.ShouldBeNil)

	st := ctrl.State()
	st.Path[0] = spatialmath.NewPose(99, 99, 0)
	st.Grid.SetProbability(0, 0, 0.95)

	fresh := ctrl.State()
	test.That(t, fresh.Path[0].X, test.ShouldNotEqual, 99.0)
	cell, _ := fresh.Grid.At(0, 0)
	test.That(t, cell.Occupied, test.ShouldBeFalse)
}
