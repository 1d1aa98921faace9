package solver

import (
	"fmt"
	"strings"
	"time"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

type Kind int

const (
	NewtonRaphson Kind = iota
	LevenbergMarquardt
	FastDecoupled
	CurrentInjection
	HELM
)

var kindNames = map[Kind]string{
	NewtonRaphson:      "newton-raphson",
	LevenbergMarquardt: "levenberg-marquardt",
	FastDecoupled:      "fast-decoupled",
	CurrentInjection:   "current-injection",
	HELM:               "helm",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the full names and the usual abbreviations.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nr", "newton", "newton-raphson":
		return NewtonRaphson, nil
	case "lm", "levenberg", "levenberg-marquardt":
		return LevenbergMarquardt, nil
	case "fd", "fdpf", "fast-decoupled":
		return FastDecoupled, nil
	case "ci", "iwamoto", "current-injection":
		return CurrentInjection, nil
	case "helm", "holomorphic":
		return HELM, nil
	}
	return 0, fmt.Errorf("unknown solver kind %q", s)
}

type State int

const (
	Init State = iota
	Iterating
	Converged
	Diverged
	MaxIterReached
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIterReached:
		return "max-iter"
	}
	return "unknown"
}

type Options struct {
	Tolerance            float64
	MaxIterations        int
	LineSearch           bool
	BacktrackFactor      float64
	DivergenceIterations int
	DivergenceFactor     float64
	UsePade              bool
}

func DefaultOptions() Options {
	return Options{
		Tolerance:            consts.Tolerance,
		MaxIterations:        consts.MaxIterations,
		LineSearch:           true,
		BacktrackFactor:      consts.BacktrackFactor,
		DivergenceIterations: consts.DivergenceIterations,
		DivergenceFactor:     consts.DivergenceFactor,
		UsePade:              true,
	}
}

// Problem is one inner solve: the island matrices, roles, specified
// injections and initial voltages. V0 magnitudes at PV and slack buses are
// the controlled set points and the slack angle is the reference.
type Problem struct {
	Island     *topology.Island
	Admittance *admittance.Admittance
	Roles      classify.BusRoles
	Sbus       []complex128
	V0         []complex128
}

// Outcome is the solver result. V is the best voltage found, also when the
// solve did not converge.
type Outcome struct {
	Kind         Kind
	State        State
	V            []complex128
	Scalc        []complex128
	Converged    bool
	Error        float64
	Iterations   int
	Elapsed      time.Duration
	ErrorHistory []float64
}

type method func(p *Problem, opts Options, out *Outcome) error

var methods = map[Kind]method{
	NewtonRaphson:      solveNewton,
	LevenbergMarquardt: solveLevenberg,
	FastDecoupled:      solveDecoupled,
	CurrentInjection:   solveCurrent,
	HELM:               solveHELM,
}

// Solve runs the selected method. The returned outcome is never nil; when
// err is not nil it carries the best effort voltages.
func Solve(kind Kind, p *Problem, opts Options) (*Outcome, error) {
	var err error

	start := time.Now()
	out := &Outcome{
		Kind:  kind,
		State: Init,
		V:     append([]complex128(nil), p.V0...),
	}

	m, ok := methods[kind]
	if !ok {
		return out, fmt.Errorf("unsupported solver kind %v", kind)
	}
	if len(p.V0) != p.Roles.Len() || len(p.Sbus) != p.Roles.Len() {
		return out, fmt.Errorf("problem size mismatch (v0=%d, sbus=%d, buses=%d)", len(p.V0), len(p.Sbus), p.Roles.Len())
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = consts.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = consts.Tolerance
	}
	if opts.BacktrackFactor <= 0 || opts.BacktrackFactor >= 1 {
		opts.BacktrackFactor = consts.BacktrackFactor
	}

	// All slack: Scalc equals Sbus by definition
	if p.Roles.Index().NumUnknowns() == 0 {
		out.Scalc = append([]complex128(nil), p.Sbus...)
		out.State = Converged
		out.Converged = true
		out.ErrorHistory = []float64{0}
		out.Elapsed = time.Since(start)
		return out, nil
	}

	err = m(p, opts, out)
	out.Elapsed = time.Since(start)
	if err != nil {
		return out, err
	}

	switch out.State {
	case Converged:
		out.Converged = true
		return out, nil
	case Diverged:
		return out, &DivergenceError{Kind: kind, Iteration: out.Iterations, Mismatch: out.Error}
	default:
		out.State = MaxIterReached
		return out, &NonConvergenceError{Kind: kind, Iterations: out.Iterations, Mismatch: out.Error}
	}
}
