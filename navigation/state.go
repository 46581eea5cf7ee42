package navigation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openrover/navcore/occupancy"
	"github.com/openrover/navcore/spatialmath"
)

// Status describes what the controller is currently doing.
type Status int

// The set of controller states.
const (
	StatusIdle Status = iota
	StatusPlanning
	StatusMoving
	StatusBlocked
	StatusGoalReached
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlanning:
		return "planning"
	case StatusMoving:
		return "moving"
	case StatusBlocked:
		return "blocked"
	case StatusGoalReached:
		return "goal_reached"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Default goal tolerances.
const (
	DefaultPositionTolerance    = 0.1
	DefaultOrientationTolerance = 0.1
)

// Goal is a navigation target with per-goal tolerances.
type Goal struct {
	ID                   uuid.UUID
	Pose                 spatialmath.Pose
	PositionTolerance    float64
	OrientationTolerance float64
}

// NewGoal returns a goal at the pose with default tolerances and a fresh ID.
func NewGoal(pose spatialmath.Pose) Goal {
	return Goal{
		ID:                   uuid.New(),
		Pose:                 pose,
		PositionTolerance:    DefaultPositionTolerance,
		OrientationTolerance: DefaultOrientationTolerance,
	}
}

// State is a read-only snapshot of the controller. The grid is a deep copy
// and the path is a fresh slice; holding a State never aliases
// controller-owned memory.
type State struct {
	Pose       spatialmath.Pose
	Grid       *occupancy.Grid
	Navigating bool
	Goal       *Goal
	Path       []spatialmath.Pose
	Status     Status
	LastError  string
}
