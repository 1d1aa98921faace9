package solver

import (
	"github.com/edp1096/toy-powerflow/internal/consts"
)

// solveNewton is the polar Newton-Raphson with optional backtracking: the
// step is halved while the mismatch norm does not decrease.
func solveNewton(p *Problem, opts Options, out *Outcome) error {
	ybus := p.Admittance.Ybus
	idx := p.Roles.Index()

	x := toPolar(p.V0)
	v := x.voltage()
	f := Mismatch(CalcPower(ybus, v), p.Sbus, idx)
	norm := NormInf(f)
	tr := newTracker(opts, v, norm, out)

	out.State = Iterating
	if norm < opts.Tolerance {
		out.State = Converged
	}

	for out.State == Iterating && out.Iterations < opts.MaxIterations {
		out.Iterations++

		j := buildJacobian(ybus, v, idx)
		dx, err := j.solve(negate(f))
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: out.Iterations, Err: err}
		}

		mu := 1.0
		var xNew polar
		var vNew []complex128
		var fNew []float64
		var normNew float64
		for {
			xNew = x.clone()
			xNew.apply(dx, mu, idx)
			vNew = xNew.voltage()
			fNew = Mismatch(CalcPower(ybus, vNew), p.Sbus, idx)
			normNew = NormInf(fNew)
			if !opts.LineSearch || normNew < norm || mu < consts.MinStepLength {
				break
			}
			mu *= opts.BacktrackFactor
		}

		x, v, f, norm = xNew, vNew, fNew, normNew
		out.State = tr.step(v, norm, out)
	}

	tr.finish(ybus, out)
	return nil
}
