package hydro

import (
	"errors"
	"fmt"
)

// Domain errors for the orchestration layer.
var (
	// ErrOutOfRangeTime indicates the forcing model has no value for the requested time.
	ErrOutOfRangeTime = errors.New("hydro: forcing time out of range")

	// ErrRestartNotFound indicates the restart directory or step does not exist.
	ErrRestartNotFound = errors.New("hydro: restart not found")

	// ErrIncompatibleRestart indicates the checkpoint does not match the run's field set or mesh.
	ErrIncompatibleRestart = errors.New("hydro: incompatible restart")

	// ErrDetectorOutOfDomain indicates a detector location outside the mesh.
	ErrDetectorOutOfDomain = errors.New("hydro: detector outside mesh domain")

	// ErrSolverDivergence indicates the external solver failed to converge.
	ErrSolverDivergence = errors.New("hydro: solver diverged")

	// ErrMissingBoundary indicates a mesh boundary segment without a condition.
	ErrMissingBoundary = errors.New("hydro: boundary segment has no condition")

	// ErrInvalidPhase indicates an operation called in the wrong lifecycle phase.
	ErrInvalidPhase = errors.New("hydro: invalid driver phase")

	// ErrInvalidConfig indicates inconsistent run parameters.
	ErrInvalidConfig = errors.New("hydro: invalid configuration")

	// ErrDimensionMismatch indicates fields whose node counts or components disagree.
	ErrDimensionMismatch = errors.New("hydro: field dimension mismatch")
)

// RunError wraps a failure with the component and timestep that raised it.
type RunError struct {
	Component string
	Step      int
	Time      float64
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at step %d (t=%.1fs): %v", e.Component, e.Step, e.Time, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
