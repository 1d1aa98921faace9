package solver

import "fmt"

type SingularJacobianError struct {
	Kind      Kind
	Iteration int
	Err       error
}

func (e *SingularJacobianError) Error() string {
	return fmt.Sprintf("%v: singular system at iteration %d: %v", e.Kind, e.Iteration, e.Err)
}

func (e *SingularJacobianError) Unwrap() error { return e.Err }

type NonConvergenceError struct {
	Kind       Kind
	Iterations int
	Mismatch   float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%v: no convergence after %d iterations (error %g)", e.Kind, e.Iterations, e.Mismatch)
}

// DivergenceError is returned when the mismatch keeps growing or becomes
// non-finite.
type DivergenceError struct {
	Kind      Kind
	Iteration int
	Mismatch  float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%v: diverged at iteration %d (error %g)", e.Kind, e.Iteration, e.Mismatch)
}
