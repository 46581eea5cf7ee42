package navigation

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/openrover/navcore/localization"
	"github.com/openrover/navcore/motionplan"
	"github.com/openrover/navcore/occupancy"
)

// Config describes how to build a navigation controller.
type Config struct {
	GridWidthMeters  float64 `json:"grid_width_meters"`
	GridHeightMeters float64 `json:"grid_height_meters"`
	GridResolution   float64 `json:"grid_resolution"`

	NumParticles int `json:"num_particles"`

	PlannerMaxIterations int     `json:"planner_max_iterations"`
	PlannerStepSize      float64 `json:"planner_step_size"`
	PlannerGoalBias      float64 `json:"planner_goal_bias"`
	PlannerTimeoutMS     int     `json:"planner_timeout_ms"`

	// Seed for the planner's and filter's random streams; zero picks a
	// random seed.
	Seed int64 `json:"seed"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	opts := motionplan.NewDefaultPlannerOptions()
	return Config{
		GridWidthMeters:      occupancy.DefaultWidthMeters,
		GridHeightMeters:     occupancy.DefaultHeightMeters,
		GridResolution:       occupancy.DefaultResolution,
		NumParticles:         localization.DefaultNumParticles,
		PlannerMaxIterations: opts.MaxIterations,
		PlannerStepSize:      opts.StepSize,
		PlannerGoalBias:      opts.GoalBias,
		PlannerTimeoutMS:     int(opts.Timeout / time.Millisecond),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.GridWidthMeters <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("grid_width_meters must be positive"))
	}
	if cfg.GridHeightMeters <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("grid_height_meters must be positive"))
	}
	if cfg.GridResolution <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("grid_resolution must be positive"))
	}
	if cfg.NumParticles <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("num_particles must be positive"))
	}
	if cfg.PlannerMaxIterations <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("planner_max_iterations must be positive"))
	}
	if cfg.PlannerStepSize <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("planner_step_size must be positive"))
	}
	if cfg.PlannerGoalBias < 0 || cfg.PlannerGoalBias > 1 {
		return goutils.NewConfigValidationError(path, errors.New("planner_goal_bias must be in [0, 1]"))
	}
	if cfg.PlannerTimeoutMS <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("planner_timeout_ms must be positive"))
	}
	return nil
}

// plannerOptions converts the config into planner tunables.
func (cfg *Config) plannerOptions() motionplan.PlannerOptions {
	return motionplan.PlannerOptions{
		MaxIterations:   cfg.PlannerMaxIterations,
		StepSize:        cfg.PlannerStepSize,
		GoalBias:        cfg.PlannerGoalBias,
		Timeout:         time.Duration(cfg.PlannerTimeoutMS) * time.Millisecond,
		InflationMargin: occupancy.DefaultInflationMargin,
	}
}
