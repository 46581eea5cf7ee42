// Package main runs the navigation stack in a simulated world: a fake range
// scanner reads a ground-truth grid, the controller drives a frictionless
// unicycle model toward a goal, and progress is logged each second.
package main

import (
	"context"
	"flag"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goutils "go.viam.com/utils"

	"github.com/openrover/navcore/navigation"
	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/sensor"
	"github.com/openrover/navcore/sensor/fake"
	"github.com/openrover/navcore/spatialmath"
)

var logger = golog.NewDevelopmentLogger("navsim")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("navsim", flag.ContinueOnError)
	goalX := flags.Float64("goal-x", 5, "goal x position in meters")
	goalY := flags.Float64("goal-y", 0, "goal y position in meters")
	tickHz := flags.Float64("tick-hz", 10, "control loop rate")
	seed := flags.Int64("seed", 1, "random seed for planner, filter and sensor noise")
	noise := flags.Float64("range-noise", 0.02, "uniform range noise amplitude in meters")
	metricsAddr := flags.String("metrics-addr", "", "listen address for prometheus metrics; empty disables")
	maxTicks := flags.Int("max-ticks", 3000, "give up after this many ticks")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	world := buildWorld()
	scanner, err := fake.NewRangeFinder("sim-lidar", world, 72, 5.0, *noise, rand.New(rand.NewSource(*seed)))
	if err != nil {
		return err
	}

	var metrics *navigation.Metrics
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = navigation.NewMetrics(reg)
		serveMetrics(ctx, *metricsAddr, reg, logger)
	} else {
		metrics = navigation.NewMetrics(nil)
	}

	cfg := navigation.DefaultConfig()
	cfg.Seed = *seed
	ctrl, err := navigation.NewController(cfg, []sensor.RangeSensor{scanner}, clock.New(), metrics, logger)
	if err != nil {
		return err
	}

	truth := spatialmath.NewPose(-5, 0, 0)
	if err := ctrl.UpdatePose(ctx, odometryPosition(truth), odometryRotation(truth)); err != nil {
		return err
	}

	goal := navigation.NewGoal(spatialmath.NewPose(*goalX, *goalY, 0))
	logger.Infow("starting navigation", "start", truth, "goal", goal.Pose)
	if err := ctrl.SetGoal(ctx, goal); err != nil {
		return errors.Wrap(err, "initial plan")
	}

	dt := 1 / *tickHz
	lastStatus := ctrl.State().Status
	for tick := 0; tick < *maxTicks; tick++ {
		if !goutils.SelectContextOrWait(ctx, time.Duration(dt*float64(time.Second))) {
			return ctx.Err()
		}

		linear, angular, err := ctrl.Tick(ctx, odometryPosition(truth), odometryRotation(truth))
		if err != nil {
			return err
		}

		truth = integrate(truth, linear, angular, dt)

		st := ctrl.State()
		if st.Status != lastStatus {
			logger.Infow("status change", "from", lastStatus.String(), "to", st.Status.String(), "pose", st.Pose)
			lastStatus = st.Status
		}
		if logEvery := int(*tickHz); logEvery > 0 && tick%logEvery == 0 {
			logger.Debugw("tick", "truth", truth, "estimate", st.Pose, "linear", linear, "angular", angular)
		}

		switch st.Status {
		case navigation.StatusGoalReached:
			logger.Infow("goal reached", "truth", truth, "estimate", st.Pose, "ticks", tick)
			return nil
		case navigation.StatusBlocked, navigation.StatusFailed:
			return errors.Errorf("navigation ended in status %s: %s", st.Status, st.LastError)
		}
	}
	return errors.New("navigation did not reach the goal in time")
}

// buildWorld returns the ground-truth grid: an empty arena with two wall
// segments between the default start and goal.
func buildWorld() *occupancy.Grid {
	world := occupancy.NewDefaultGrid(clock.New())
	markWall(world, spatialmath.PlanarPoint{X: 0, Y: -4}, spatialmath.PlanarPoint{X: 0, Y: 1})
	markWall(world, spatialmath.PlanarPoint{X: 2.5, Y: -1}, spatialmath.PlanarPoint{X: 2.5, Y: 4})
	return world
}

func markWall(g *occupancy.Grid, from, to spatialmath.PlanarPoint) {
	steps := int(from.DistanceTo(to)/g.Resolution()) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := spatialmath.PlanarPoint{X: from.X + t*(to.X-from.X), Y: from.Y + t*(to.Y-from.Y)}
		row, col := g.WorldToGrid(p)
		g.SetProbability(row, col, 0.95)
	}
}

func integrate(pose spatialmath.Pose, linear, angular, dt float64) spatialmath.Pose {
	theta := spatialmath.CanonicalizeAngle(pose.Theta + angular*dt)
	return spatialmath.NewPose(
		pose.X+linear*math.Cos(theta)*dt,
		pose.Y+linear*math.Sin(theta)*dt,
		theta,
	)
}

func odometryPosition(pose spatialmath.Pose) r3.Vector {
	return r3.Vector{X: pose.X, Z: pose.Y}
}

func odometryRotation(pose spatialmath.Pose) r3.Vector {
	return r3.Vector{Y: pose.Theta}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger golog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	goutils.PanicCapturingGo(func() {
		logger.Infow("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server", "error", err)
		}
	})
	goutils.PanicCapturingGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		goutils.UncheckedError(server.Shutdown(shutdownCtx))
	})
}
