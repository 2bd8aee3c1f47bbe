package mechanism

import (
	"errors"
	"fmt"
)

var (
	// ErrStalled is returned when the line search keeps hitting the step floor.
	ErrStalled = errors.New("solver stalled at the minimum step length")
	// ErrNotConverged is returned when the iteration cap is reached first.
	ErrNotConverged = errors.New("solver did not converge within the iteration limit")
)

// SolveError describes why a solve ended early. The Result returned with it
// holds the last iterate.
type SolveError struct {
	Iteration int
	Gap       float64
	Err       error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solve failed at iteration %d (gap %.3g): %v", e.Iteration, e.Gap, e.Err)
}

func (e *SolveError) Unwrap() error { return e.Err }
