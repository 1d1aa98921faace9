package solver

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// helmSeries holds the embedded voltage U(s), its inverse conjugate X(s)
// and the PV reactive power Q(s). Q lags U by one order.
type helmSeries struct {
	u [][]complex128
	x [][]complex128
	q [][]float64
}

// solveHELM computes the holomorphic embedding series order by order. The
// real system matrix
//
//	[ G  -B  XIM ]
//	[ B   G  XRE ]
//	[ VRE VIM  0 ]
//
// is factored once and reused for every order. Each order counts as one
// iteration; the series is evaluated at s=1 by direct sum or Pade.
func solveHELM(p *Problem, opts Options, out *Outcome) error {
	var err error

	ybus := p.Admittance.Ybus
	idx := p.Roles.Index()
	pqpv := idx.PVPQ
	sl := idx.VD
	n := len(pqpv)

	pvPos := make([]int, n)
	npv := 0
	for k, i := range pqpv {
		pvPos[k] = -1
		if p.Roles.Type(i) == classify.PV {
			pvPos[k] = npv
			npv++
		}
	}

	yred := p.Admittance.Yseries.Slice(pqpv, pqpv)
	ysl := p.Admittance.Yseries.Slice(pqpv, sl)
	vsl := make([]complex128, len(sl))
	for s, i := range sl {
		vsl[s] = p.V0[i]
	}
	ysh := make([]complex128, n)
	sspec := make([]complex128, n)
	w := make([]float64, npv)
	for k, i := range pqpv {
		ysh[k] = p.Admittance.Yshunt[i]
		sspec[k] = p.Sbus[i]
		if q := pvPos[k]; q >= 0 {
			vm := cmplx.Abs(p.V0[i])
			w[q] = vm * vm
		}
	}

	// Yslack = -Yseries[pqpv, sl], applied to a vector of slack values
	slackTerm := func(values []complex128) []complex128 {
		t := ysl.MulVec(values)
		for k := range t {
			t[k] = -t[k]
		}
		return t
	}

	// Order 0: the unloaded network with slack voltage 1
	ones := make([]complex128, len(sl))
	for s := range ones {
		ones[s] = 1
	}
	u0, err := solveComplexCSR(yred, slackTerm(ones))
	if err != nil {
		return &SingularJacobianError{Kind: out.Kind, Err: err}
	}
	x0 := make([]complex128, n)
	for k := range u0 {
		x0[k] = 1 / cmplx.Conj(u0[k])
	}

	sys, err := helmSystem(yred, u0, x0, pvPos, npv)
	if err != nil {
		return &SingularJacobianError{Kind: out.Kind, Err: err}
	}
	defer sys.Destroy()

	series := &helmSeries{
		u: [][]complex128{u0},
		x: [][]complex128{x0},
	}

	v := append([]complex128(nil), p.V0...)
	norm := NormInf(Mismatch(CalcPower(ybus, v), p.Sbus, idx))
	tr := newTracker(opts, v, norm, out)

	out.State = Iterating
	if norm < opts.Tolerance {
		out.State = Converged
	}

	dsl := make([]complex128, len(sl))
	for s := range sl {
		dsl[s] = vsl[s] - 1
	}
	slackOrder1 := slackTerm(dsl)

	for out.State == Iterating && out.Iterations < opts.MaxIterations {
		out.Iterations++
		c := out.Iterations

		rhs := make([]float64, 2*n+npv)
		for k := range n {
			var term complex128
			xPrev := series.x[c-1][k]
			if q := pvPos[k]; q >= 0 {
				term = complex(real(sspec[k]), 0) * xPrev
				for m := 1; m <= c-1; m++ {
					term -= 1i * series.x[m][k] * complex(series.q[c-1-m][q], 0)
				}
			} else {
				term = cmplx.Conj(sspec[k]) * xPrev
			}
			term -= ysh[k] * series.u[c-1][k]
			if c == 1 {
				term += slackOrder1[k]
			}
			rhs[k] = real(term)
			rhs[n+k] = imag(term)

			if q := pvPos[k]; q >= 0 {
				if c == 1 {
					rhs[2*n+q] = w[q] - real(u0[k]*cmplx.Conj(u0[k]))
				} else {
					var acc complex128
					for m := 1; m <= c-1; m++ {
						acc += series.u[m][k] * cmplx.Conj(series.u[c-m][k])
					}
					rhs[2*n+q] = -real(acc)
				}
			}
		}

		sol, err := sys.Solve(rhs)
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: c, Err: err}
		}

		uc := make([]complex128, n)
		for k := range n {
			uc[k] = complex(sol[k], sol[n+k])
		}
		qc := make([]float64, npv)
		copy(qc, sol[2*n:])
		series.u = append(series.u, uc)
		series.q = append(series.q, qc)

		xc := make([]complex128, n)
		for k := range n {
			var acc complex128
			for m := 1; m <= c; m++ {
				acc += cmplx.Conj(series.u[m][k]) * series.x[c-m][k]
			}
			xc[k] = -acc / cmplx.Conj(u0[k])
		}
		series.x = append(series.x, xc)

		// Direct sum, replaced by the Pade estimate when that fits better
		for k, i := range pqpv {
			v[i] = series.sum(k)
		}
		norm = NormInf(Mismatch(CalcPower(ybus, v), p.Sbus, idx))
		if opts.UsePade && c >= 2 {
			vp := append([]complex128(nil), v...)
			ok := true
			for k, i := range pqpv {
				vp[i], err = series.pade(k)
				if err != nil {
					ok = false
					break
				}
			}
			if ok {
				normPade := NormInf(Mismatch(CalcPower(ybus, vp), p.Sbus, idx))
				if normPade < norm {
					v, norm = vp, normPade
				}
			}
		}

		maxRe := math.Inf(-1)
		for _, x := range v {
			maxRe = math.Max(maxRe, real(x))
		}
		out.State = tr.step(v, norm, out)
		if maxRe >= consts.HELMDivergence && out.State != Converged {
			out.State = Diverged
		}
	}

	tr.finish(ybus, out)
	return nil
}

func helmSystem(yred *matrix.CSR, u0, x0 []complex128, pvPos []int, npv int) (*matrix.LinearSystem, error) {
	n := yred.Rows()
	sys, err := matrix.NewSystem(2*n+npv, false)
	if err != nil {
		return nil, err
	}

	for r := range n {
		cols, vals := yred.Row(r)
		for k, c := range cols {
			g, b := real(vals[k]), imag(vals[k])
			sys.AddElement(r, c, g)
			sys.AddElement(r, n+c, -b)
			sys.AddElement(n+r, c, b)
			sys.AddElement(n+r, n+c, g)
		}
		if q := pvPos[r]; q >= 0 {
			sys.AddElement(r, 2*n+q, -imag(x0[r]))
			sys.AddElement(n+r, 2*n+q, real(x0[r]))
			sys.AddElement(2*n+q, r, 2*real(u0[r]))
			sys.AddElement(2*n+q, n+r, 2*imag(u0[r]))
		}
	}

	err = sys.Factor()
	if err != nil {
		sys.Destroy()
		return nil, fmt.Errorf("factoring embedding system: %w", err)
	}
	return sys, nil
}

func solveComplexCSR(a *matrix.CSR, b []complex128) ([]complex128, error) {
	sys, err := matrix.NewSystem(a.Rows(), true)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	for r := range a.Rows() {
		cols, vals := a.Row(r)
		for k, c := range cols {
			sys.AddComplexElement(r, c, vals[k])
		}
	}
	return sys.SolveComplex(b)
}

func (s *helmSeries) coefficients(k int) []complex128 {
	coeffs := make([]complex128, len(s.u))
	for c := range s.u {
		coeffs[c] = s.u[c][k]
	}
	return coeffs
}

func (s *helmSeries) sum(k int) complex128 {
	var sum complex128
	for c := range s.u {
		sum += s.u[c][k]
	}
	return sum
}

func (s *helmSeries) pade(k int) (complex128, error) {
	return padeAtOne(s.coefficients(k))
}

// padeAtOne evaluates the [L/M] Pade approximant of the series at s=1 with
// L+M equal to the highest order and M = order/2.
func padeAtOne(coeffs []complex128) (complex128, error) {
	order := len(coeffs) - 1
	m := order / 2
	l := order - m
	at := func(i int) complex128 {
		if i < 0 {
			return 0
		}
		return coeffs[i]
	}

	a := make([][]complex128, m)
	rhs := make([]complex128, m)
	for i := 1; i <= m; i++ {
		a[i-1] = make([]complex128, m)
		for k := 1; k <= m; k++ {
			a[i-1][k-1] = at(l + i - k)
		}
		rhs[i-1] = -at(l + i)
	}

	b, err := matrix.SolveDenseComplex(a, rhs)
	if err != nil {
		return 0, err
	}
	bk := func(k int) complex128 {
		if k == 0 {
			return 1
		}
		return b[k-1]
	}

	var num, den complex128
	for i := 0; i <= l; i++ {
		for k := 0; k <= min(i, m); k++ {
			num += bk(k) * at(i-k)
		}
	}
	for k := 0; k <= m; k++ {
		den += bk(k)
	}
	if den == 0 || cmplx.IsNaN(num/den) {
		return 0, fmt.Errorf("degenerate approximant")
	}
	return num / den, nil
}
