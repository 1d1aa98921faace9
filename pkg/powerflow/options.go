package powerflow

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/internal/logging"
	"github.com/edp1096/toy-powerflow/pkg/control"
	"github.com/edp1096/toy-powerflow/pkg/solver"
)

type InitialGuess int

const (
	Flat InitialGuess = iota
	Stored
	Previous
)

func (g InitialGuess) String() string {
	switch g {
	case Flat:
		return "flat"
	case Stored:
		return "stored"
	case Previous:
		return "previous"
	}
	return "unknown"
}

func ParseInitialGuess(s string) (InitialGuess, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return Flat, nil
	case "stored":
		return Stored, nil
	case "previous":
		return Previous, nil
	}
	return Flat, fmt.Errorf("unknown initial guess %q", s)
}

// Metrics receives one call per inner solve and per run.
type Metrics interface {
	ObserveSolve(kind string, converged bool, iterations int, elapsed time.Duration)
	SetIslands(live, dead int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSolve(string, bool, int, time.Duration) {}
func (noopMetrics) SetIslands(int, int)                           {}

type Options struct {
	Solver        solver.Kind
	Tolerance     float64
	MaxIterations int

	ControlQ             bool
	ControlTaps          bool
	ControlRemoteVoltage bool
	DistributedSlack     bool

	InitialGuess InitialGuess
	Previous     []complex128 // snapshot indexed, used with Previous

	RetryWithOtherMethods bool
	MaxOuterIterations    int
	MaxControlRounds      int
	Workers               int

	LineSearch           bool
	BacktrackFactor      float64
	DivergenceIterations int
	DivergenceFactor     float64
	HELMUsePade          bool

	Logger  logging.Logger
	Metrics Metrics
}

func DefaultOptions() Options {
	return Options{
		Solver:                solver.NewtonRaphson,
		Tolerance:             consts.Tolerance,
		MaxIterations:         consts.MaxIterations,
		ControlQ:              true,
		InitialGuess:          Flat,
		RetryWithOtherMethods: true,
		MaxOuterIterations:    consts.MaxOuterIterations,
		MaxControlRounds:      consts.MaxControlRounds,
		Workers:               runtime.NumCPU(),
		LineSearch:            true,
		BacktrackFactor:       consts.BacktrackFactor,
		DivergenceIterations:  consts.DivergenceIterations,
		DivergenceFactor:      consts.DivergenceFactor,
		HELMUsePade:           true,
	}
}

// normalize fills zero values with defaults.
func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.MaxOuterIterations <= 0 {
		o.MaxOuterIterations = def.MaxOuterIterations
	}
	if o.MaxControlRounds <= 0 {
		o.MaxControlRounds = def.MaxControlRounds
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.BacktrackFactor <= 0 || o.BacktrackFactor >= 1 {
		o.BacktrackFactor = def.BacktrackFactor
	}
	if o.DivergenceIterations <= 0 {
		o.DivergenceIterations = def.DivergenceIterations
	}
	if o.DivergenceFactor <= 1 {
		o.DivergenceFactor = def.DivergenceFactor
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	return o
}

func (o Options) solverOptions() solver.Options {
	return solver.Options{
		Tolerance:            o.Tolerance,
		MaxIterations:        o.MaxIterations,
		LineSearch:           o.LineSearch,
		BacktrackFactor:      o.BacktrackFactor,
		DivergenceIterations: o.DivergenceIterations,
		DivergenceFactor:     o.DivergenceFactor,
		UsePade:              o.HELMUsePade,
	}
}

func (o Options) controlOptions() control.Options {
	return control.Options{
		ControlQ:             o.ControlQ,
		ControlTaps:          o.ControlTaps,
		ControlRemoteVoltage: o.ControlRemoteVoltage,
		DistributedSlack:     o.DistributedSlack,
		MaxOuterIterations:   o.MaxOuterIterations,
		MaxControlRounds:     o.MaxControlRounds,
		Tolerance:            o.Tolerance,
	}
}

// fallbackOrder is the retry ladder after the selected method.
var fallbackOrder = []solver.Kind{
	solver.NewtonRaphson,
	solver.LevenbergMarquardt,
	solver.HELM,
	solver.FastDecoupled,
	solver.CurrentInjection,
}

// attempts lists the solver kinds to try, the selected one first.
func (o Options) attempts() []solver.Kind {
	kinds := []solver.Kind{o.Solver}
	if !o.RetryWithOtherMethods {
		return kinds
	}
	for _, k := range fallbackOrder {
		if k != o.Solver {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
