package powerflow

import (
	"context"
	"time"

	"github.com/edp1096/toy-powerflow/internal/logging"
	"github.com/edp1096/toy-powerflow/pkg/solver"
)

// ReportEntry is one solver attempt that improved on the best solution.
type ReportEntry struct {
	Kind       solver.Kind
	Converged  bool
	Error      float64
	Iterations int
	Elapsed    time.Duration
}

// ladder runs the selected solver and, when it fails, the fallback kinds.
// Each attempt starts from the best voltages found so far except HELM, which
// always starts from the problem's initial guess. The best outcome and its
// error are returned.
func (r *runner) ladder(ctx context.Context, p *solver.Problem, log logging.Logger) (*solver.Outcome, []ReportEntry, error) {
	var best *solver.Outcome
	var bestErr error
	entries := make([]ReportEntry, 0)

	for n, kind := range r.opts.attempts() {
		err := ctx.Err()
		if err != nil {
			return best, entries, err
		}

		attempt := *p
		if best != nil && kind != solver.HELM {
			attempt.V0 = best.V
		}

		out, err := solver.Solve(kind, &attempt, r.solverOpts)
		r.opts.Metrics.ObserveSolve(kind.String(), out.Converged, out.Iterations, out.Elapsed)

		if best == nil || out.Error < best.Error {
			best, bestErr = out, err
			entries = append(entries, ReportEntry{
				Kind:       kind,
				Converged:  out.Converged,
				Error:      out.Error,
				Iterations: out.Iterations,
				Elapsed:    out.Elapsed,
			})
		}
		if out.Converged {
			return out, entries, nil
		}

		if n+1 < len(r.opts.attempts()) {
			log.Warn(ctx, "solver failed, trying next method",
				logging.String("solver", kind.String()),
				logging.Float("mismatch", out.Error),
				logging.Err(err),
			)
		}
	}

	return best, entries, bestErr
}
