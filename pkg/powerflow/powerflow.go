package powerflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edp1096/toy-powerflow/internal/logging"
	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/control"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/results"
	"github.com/edp1096/toy-powerflow/pkg/solver"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

// ErrCancelled is returned when the context ends before every island is
// solved. No partial result is returned with it.
var ErrCancelled = errors.New("power flow cancelled")

const tracerName = "github.com/edp1096/toy-powerflow/pkg/powerflow"

// IslandReport describes how one island was handled. Events use snapshot
// bus and branch indices.
type IslandReport struct {
	Index      int
	Buses      []int
	Dead       bool
	Err        error
	Kind       solver.Kind
	State      solver.State
	Converged  bool
	Error      float64
	Iterations int
	Elapsed    time.Duration
	Rounds     int
	Report     []ReportEntry
	Events     []control.Event
	Warnings   []error
}

// Result is the assembled power flow. Converged is true when every live
// island converged without a structural error.
type Result struct {
	*results.Results

	RunID      string
	Converged  bool
	Error      float64
	Iterations int
	Elapsed    time.Duration
	Islands    []IslandReport
}

// Report flattens the convergence report of all islands.
func (r *Result) Report() []ReportEntry {
	entries := make([]ReportEntry, 0)
	for _, isl := range r.Islands {
		entries = append(entries, isl.Report...)
	}
	return entries
}

// Warnings collects control loop warnings of all islands.
func (r *Result) Warnings() []error {
	warnings := make([]error, 0)
	for _, isl := range r.Islands {
		warnings = append(warnings, isl.Warnings...)
	}
	return warnings
}

type runner struct {
	opts       Options
	solverOpts solver.Options
	log        logging.Logger
	tracer     trace.Tracer
}

// Run splits the snapshot into islands, solves the live ones concurrently
// and assembles the network wide result.
func Run(ctx context.Context, snap *network.Snapshot, opts Options) (*Result, error) {
	var err error

	start := time.Now()
	opts = opts.normalize()
	runID := uuid.NewString()

	r := &runner{
		opts:       opts,
		solverOpts: opts.solverOptions(),
		log:        opts.Logger.With(logging.String("run_id", runID)),
		tracer:     otel.Tracer(tracerName),
	}

	ctx, span := r.tracer.Start(ctx, "powerflow.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("solver", opts.Solver.String()),
		attribute.Int("buses", snap.NumBuses()),
		attribute.Int("branches", snap.NumBranches()),
	))
	defer span.End()

	islands, err := topology.Split(snap, opts.DistributedSlack)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		return nil, fmt.Errorf("splitting network: %w", err)
	}

	r.log.Info(ctx, "power flow started",
		logging.String("snapshot", snap.Name),
		logging.String("solver", opts.Solver.String()),
		logging.Int("islands", len(islands)),
	)

	guess := initialVoltage(snap, opts)
	reports := make([]IslandReport, len(islands))
	solutions := make([]*results.IslandSolution, len(islands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for n, isl := range islands {
		reports[n] = IslandReport{Index: isl.Index, Buses: isl.BusIndex, Dead: isl.Dead, Err: isl.Err}

		if isl.Dead {
			r.log.Warn(ctx, "dead island left unsolved",
				logging.Int("island", isl.Index),
				logging.Int("buses", isl.NumBuses()),
			)
			continue
		}
		if isl.Err != nil {
			r.log.Warn(ctx, "island cannot be solved", logging.Int("island", isl.Index), logging.Err(isl.Err))
			continue
		}

		g.Go(func() error {
			sol, err := r.solveIsland(gctx, isl, islandVoltage(isl, guess), &reports[n])
			if err != nil {
				return err
			}
			solutions[n] = sol
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		r.log.Warn(ctx, "power flow cancelled", logging.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	live, dead := 0, 0
	solved := make([]results.IslandSolution, 0, len(solutions))
	for n, sol := range solutions {
		if reports[n].Dead {
			dead++
			continue
		}
		live++
		if sol != nil {
			solved = append(solved, *sol)
		}
	}
	opts.Metrics.SetIslands(live, dead)

	res := &Result{
		Results:   results.Assemble(snap, solved),
		RunID:     runID,
		Converged: live > 0,
		Islands:   reports,
	}
	for _, rep := range reports {
		if rep.Dead {
			continue
		}
		if rep.Err != nil || !rep.Converged {
			res.Converged = false
		}
		res.Error = math.Max(res.Error, rep.Error)
		res.Iterations += rep.Iterations
	}
	res.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.Bool("converged", res.Converged),
		attribute.Float64("error", res.Error),
	)
	r.log.Info(ctx, "power flow finished",
		logging.Bool("converged", res.Converged),
		logging.Float("error", res.Error),
		logging.Int("iterations", res.Iterations),
		logging.Duration("elapsed", res.Elapsed),
	)

	return res, nil
}

// solveIsland classifies one island and runs the control loop around the
// solver ladder. Solver failures are recorded in rep; only cancellation is
// returned as an error.
func (r *runner) solveIsland(ctx context.Context, isl *topology.Island, v0 []complex128, rep *IslandReport) (*results.IslandSolution, error) {
	var err error

	log := r.log.With(logging.Int("island", isl.Index))
	ctx, span := r.tracer.Start(ctx, "powerflow.Island", trace.WithAttributes(
		attribute.Int("island", isl.Index),
		attribute.Int("buses", isl.NumBuses()),
	))
	defer span.End()

	roles, err := classify.Classify(isl, r.opts.DistributedSlack)
	if err != nil {
		rep.Err = err
		log.Warn(ctx, "island cannot be classified", logging.Err(err))
		return nil, nil
	}

	if r.opts.DistributedSlack {
		total := 0.0
		for _, w := range isl.Network.InstalledPower() {
			total += w
		}
		if total <= 0 {
			log.Info(ctx, "no installed power, slack is not distributed")
		}
	}

	st := control.State{
		Island: isl,
		Roles:  roles,
		Sbus:   isl.Network.Sbus(),
		Vset:   isl.Network.VoltageSetpoints(),
		V:      v0,
	}

	solve := func(ctx context.Context, st control.State) (*solver.Outcome, error) {
		p := &solver.Problem{
			Island:     st.Island,
			Admittance: admittance.Build(st.Island),
			Roles:      st.Roles,
			Sbus:       st.Sbus,
			V0:         st.V,
		}
		out, entries, err := r.ladder(ctx, p, log)
		rep.Report = append(rep.Report, entries...)
		for _, e := range entries {
			rep.Iterations += e.Iterations
		}
		if out == nil {
			out = &solver.Outcome{Kind: r.opts.Solver, V: st.V}
		}
		return out, err
	}

	cres, err := control.Run(ctx, st, r.opts.controlOptions(), solve)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := cres.Outcome
	final := cres.State
	rep.Kind = out.Kind
	rep.State = out.State
	rep.Converged = out.Converged && err == nil
	rep.Error = out.Error
	rep.Elapsed = out.Elapsed
	rep.Rounds = cres.Rounds
	rep.Warnings = cres.Warnings
	rep.Events = globalEvents(final.Island, cres.Events)

	for _, w := range cres.Warnings {
		log.Warn(ctx, "control loop warning", logging.Err(w))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not converged")
		log.Warn(ctx, "island did not converge", logging.Float("mismatch", out.Error), logging.Err(err))
	}
	span.SetAttributes(
		attribute.String("solver", out.Kind.String()),
		attribute.Bool("converged", rep.Converged),
		attribute.Int("events", len(rep.Events)),
	)

	// A failed first solve leaves the state voltage at the guess
	v := out.V
	if len(v) != final.Roles.Len() {
		v = final.V
	}
	return &results.IslandSolution{
		Island:     final.Island,
		Admittance: admittance.Build(final.Island),
		Roles:      final.Roles,
		V:          v,
	}, nil
}

func globalEvents(isl *topology.Island, events []control.Event) []control.Event {
	out := make([]control.Event, len(events))
	for k, e := range events {
		switch e.Kind {
		case control.TapStep:
			e.Branch = isl.BranchIndex[e.Branch]
		default:
			e.Bus = isl.BusIndex[e.Bus]
		}
		out[k] = e
	}
	return out
}
