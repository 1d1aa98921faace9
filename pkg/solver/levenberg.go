package solver

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// solveLevenberg damps the Newton normal equations (J^T J + lambda I) dx =
// J^T f. lambda follows Nielsen's update: shrunk on a good gain ratio,
// grown by nu on a rejected step.
func solveLevenberg(p *Problem, opts Options, out *Outcome) error {
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

	var j *jacobian
	var h []map[int]float64
	lambda := 0.0
	nu := 2.0
	update := true

	for out.State == Iterating && out.Iterations < opts.MaxIterations {
		out.Iterations++

		if update {
			j = buildJacobian(ybus, v, idx)
			h = j.normal()
		}
		if lambda == 0 {
			for c := range h {
				lambda = math.Max(lambda, h[c][c])
			}
			lambda *= consts.LMInitialFactor
		}

		rhs := j.transMulVec(f)
		dx, err := solveNormal(h, lambda, rhs)
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: out.Iterations, Err: err}
		}

		xNew := x.clone()
		xNew.apply(dx, -1, idx)
		vNew := xNew.voltage()
		fNew := Mismatch(CalcPower(ybus, vNew), p.Sbus, idx)

		// Gain ratio of actual to predicted reduction
		scaled := make([]float64, len(dx))
		floats.ScaleTo(scaled, lambda, dx)
		floats.Add(scaled, rhs)
		predicted := 0.5 * floats.Dot(dx, scaled)
		actual := 0.5*floats.Dot(f, f) - 0.5*floats.Dot(fNew, fNew)
		rho := -1.0
		if predicted > 0 {
			rho = actual / predicted
		}

		if rho >= 0 {
			update = true
			lambda *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2
			x, v, f = xNew, vNew, fNew
			norm = NormInf(f)
		} else {
			update = false
			lambda *= nu
			nu *= 2
		}

		out.State = tr.step(v, norm, out)
	}

	tr.finish(ybus, out)
	return nil
}

func solveNormal(h []map[int]float64, lambda float64, rhs []float64) ([]float64, error) {
	sys, err := matrix.NewSystem(len(rhs), false)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	for r, row := range h {
		cols := make([]int, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		for _, c := range cols {
			sys.AddElement(r, c, row[c])
		}
		sys.AddElement(r, r, lambda)
	}
	return sys.Solve(rhs)
}
