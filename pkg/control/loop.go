package control

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/solver"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

// LimitError reports a control loop that ran out of rounds before reaching a
// fixed point. The accompanying result is the last stable solve.
type LimitError struct {
	Loop   string
	Rounds int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s control loop did not settle after %d rounds", e.Loop, e.Rounds)
}

type Options struct {
	ControlQ             bool
	ControlTaps          bool
	ControlRemoteVoltage bool
	DistributedSlack     bool
	MaxOuterIterations   int
	MaxControlRounds     int
	Tolerance            float64
}

// State is the mutable part of an island between inner solves.
type State struct {
	Island *topology.Island
	Roles  classify.BusRoles
	Sbus   []complex128
	Vset   []float64
	V      []complex128
}

// SolveFunc runs one inner power flow for the given state.
type SolveFunc func(ctx context.Context, st State) (*solver.Outcome, error)

type Result struct {
	State    State
	Outcome  *solver.Outcome
	Events   []Event
	Rounds   int
	Warnings []error
}

// WithSetpoints returns V with the magnitudes of the PV and slack buses set
// to vset, keeping the angles.
func WithSetpoints(v []complex128, roles classify.BusRoles, vset []float64) []complex128 {
	out := append([]complex128(nil), v...)
	for i := range out {
		if roles.Type(i) == classify.PQ {
			continue
		}
		out[i] = cmplx.Rect(vset[i], cmplx.Phase(out[i]))
	}
	return out
}

// Run solves the island and applies the outer controls. Q limits are driven
// to a fixed point first, then taps and remote set points take one step per
// round followed by a new Q limit pass. Limit errors are returned as
// warnings in the result; a hard error means the inner solve failed or the
// context was cancelled.
func Run(ctx context.Context, st State, opts Options, solve SolveFunc) (*Result, error) {
	var err error

	if opts.MaxOuterIterations <= 0 {
		opts.MaxOuterIterations = consts.MaxOuterIterations
	}
	if opts.MaxControlRounds <= 0 {
		opts.MaxControlRounds = consts.MaxControlRounds
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = consts.Tolerance
	}

	res := &Result{State: st}
	res.State.V = WithSetpoints(st.V, st.Roles, st.Vset)

	res.Outcome, err = solve(ctx, res.State)
	if err != nil {
		return res, err
	}
	res.State.V = res.Outcome.V

	if opts.DistributedSlack {
		err = distribute(ctx, res, opts, solve)
		if err != nil {
			return res, err
		}
	}

	if !opts.ControlQ && !opts.ControlTaps && !opts.ControlRemoteVoltage {
		return res, nil
	}

	for res.Rounds < opts.MaxControlRounds {
		if opts.ControlQ {
			err = qLimits(ctx, res, opts, solve)
			if err != nil {
				return res, err
			}
		}

		next := res.State
		events := make([]Event, 0)
		if opts.ControlTaps {
			step := TapControlStep(next.Island, next.V)
			if !step.Stable {
				next.Island = step.Island
				events = append(events, step.Events...)
			}
		}
		if opts.ControlRemoteVoltage {
			tol := opts.Tolerance * consts.RemoteVoltageFactor
			vset, remote, done := RemoteVoltageStep(next.Island, next.Roles, next.Vset, next.V, tol)
			if !done {
				next.Vset = vset
				next.V = WithSetpoints(next.V, next.Roles, vset)
				events = append(events, remote...)
			}
		}
		if len(events) == 0 {
			return res, nil
		}

		res.Rounds++
		ok, err := res.apply(ctx, next, events, solve, "tap/remote")
		if err != nil || !ok {
			return res, err
		}
	}

	res.Warnings = append(res.Warnings, &LimitError{Loop: "tap/remote", Rounds: res.Rounds})
	if opts.ControlQ {
		err = qLimits(ctx, res, opts, solve)
	}
	return res, err
}

// apply re-solves with next and adopts it on success. A failed solve keeps
// the last stable state and is recorded as a warning.
func (res *Result) apply(ctx context.Context, next State, events []Event, solve SolveFunc, loop string) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, err
	}

	out, err := solve(ctx, next)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		res.Warnings = append(res.Warnings, fmt.Errorf("%s step rejected: %w", loop, err))
		return false, nil
	}

	next.V = out.V
	res.State, res.Outcome = next, out
	res.Events = append(res.Events, events...)
	return true, nil
}

// qLimits switches PV buses to PQ and re-solves until no limit is violated.
func qLimits(ctx context.Context, res *Result, opts Options, solve SolveFunc) error {
	qmin, qmax := res.State.Island.Network.QLimits()
	for range opts.MaxOuterIterations {
		roles, sbus, events := QLimitStep(res.State.Roles, res.Outcome.Scalc, res.State.Sbus, qmin, qmax)
		if len(events) == 0 {
			return nil
		}

		next := res.State
		next.Roles, next.Sbus = roles, sbus
		ok, err := res.apply(ctx, next, events, solve, "q-limit")
		if err != nil || !ok {
			return err
		}
	}

	res.Warnings = append(res.Warnings, &LimitError{Loop: "q-limit", Rounds: opts.MaxOuterIterations})
	return nil
}

// distribute repeats the slack distribution until the slack bus carries no
// more than the tolerance of extra active power.
func distribute(ctx context.Context, res *Result, opts Options, solve SolveFunc) error {
	weights := res.State.Island.Network.InstalledPower()
	for range opts.MaxOuterIterations {
		sbus, pslack, events, ok := DistributeSlack(res.State.Roles, res.Outcome.Scalc, res.State.Sbus, weights)
		if !ok || math.Abs(pslack) < opts.Tolerance {
			return nil
		}

		next := res.State
		next.Sbus = sbus
		ok, err := res.apply(ctx, next, events, solve, "distributed-slack")
		if err != nil || !ok {
			return err
		}
	}

	res.Warnings = append(res.Warnings, &LimitError{Loop: "distributed-slack", Rounds: opts.MaxOuterIterations})
	return nil
}
