package solver

import (
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// solveCurrent is the current injection Newton variant. The residual is the
// current mismatch dS/|V| per equation; the Jacobian rows are the power
// Jacobian rows divided by |V_i| plus the derivative of 1/|V_i| on the
// magnitude diagonal. Convergence is still judged on the power mismatch.
func solveCurrent(p *Problem, opts Options, out *Outcome) error {
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

		g, j := currentSystem(ybus, v, f, idx)
		dx, err := j.solve(negate(g))
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: out.Iterations, Err: err}
		}

		x.apply(dx, 1, idx)
		v = x.voltage()
		f = Mismatch(CalcPower(ybus, v), p.Sbus, idx)
		norm = NormInf(f)
		out.State = tr.step(v, norm, out)
	}

	tr.finish(ybus, out)
	return nil
}

func currentSystem(ybus *matrix.CSR, v []complex128, f []float64, idx classify.Index) ([]float64, *jacobian) {
	j := buildJacobian(ybus, v, idx)
	_, vmPos := idx.Positions(len(v))

	// Bus of each mismatch row
	rowBus := make([]int, 0, len(f))
	rowBus = append(rowBus, idx.PVPQ...)
	rowBus = append(rowBus, idx.PQ...)

	g := make([]float64, len(f))
	for r, i := range rowBus {
		vm := cmplx.Abs(v[i])
		g[r] = f[r] / vm
		for k := range j.rows[r] {
			j.rows[r][k].value /= vm
		}
		if c := vmPos[i]; c >= 0 {
			j.add(r, c, -f[r]/(vm*vm))
		}
	}
	return g, j
}
