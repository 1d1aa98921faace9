package topology

import "fmt"

// AmbiguousSlackError is returned for an island holding several slack buses
// while distributed slack is off.
type AmbiguousSlackError struct {
	Island int
	Buses  []int
}

func (e *AmbiguousSlackError) Error() string {
	return fmt.Sprintf("island %d: ambiguous slack, %d slack buses %v", e.Island, len(e.Buses), e.Buses)
}

// NoReferenceError is returned for an island with generation but neither a
// slack nor a voltage controlled bus.
type NoReferenceError struct {
	Island int
}

func (e *NoReferenceError) Error() string {
	return fmt.Sprintf("island %d: no slack or voltage controlled bus", e.Island)
}
