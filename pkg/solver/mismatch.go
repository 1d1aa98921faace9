package solver

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// CalcPower returns V .* conj(Ybus V).
func CalcPower(ybus *matrix.CSR, v []complex128) []complex128 {
	ibus := ybus.MulVec(v)
	s := make([]complex128, len(v))
	for i := range v {
		s[i] = v[i] * cmplx.Conj(ibus[i])
	}
	return s
}

// Mismatch stacks Re(Scalc - Sbus) over PVPQ and Im(Scalc - Sbus) over PQ.
func Mismatch(scalc, sbus []complex128, idx classify.Index) []float64 {
	f := make([]float64, 0, idx.NumUnknowns())
	for _, i := range idx.PVPQ {
		f = append(f, real(scalc[i]-sbus[i]))
	}
	for _, i := range idx.PQ {
		f = append(f, imag(scalc[i]-sbus[i]))
	}
	return f
}

func NormInf(f []float64) float64 {
	if len(f) == 0 {
		return 0
	}
	norm := floats.Norm(f, math.Inf(1))
	for _, v := range f {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	return norm
}

// polar keeps the magnitude/angle pair in sync with the complex voltage.
type polar struct {
	va []float64
	vm []float64
}

func toPolar(v []complex128) polar {
	p := polar{va: make([]float64, len(v)), vm: make([]float64, len(v))}
	for i, x := range v {
		p.vm[i] = cmplx.Abs(x)
		p.va[i] = cmplx.Phase(x)
	}
	return p
}

func (p polar) clone() polar {
	return polar{
		va: append([]float64(nil), p.va...),
		vm: append([]float64(nil), p.vm...),
	}
}

func (p polar) voltage() []complex128 {
	v := make([]complex128, len(p.va))
	for i := range v {
		v[i] = cmplx.Rect(p.vm[i], p.va[i])
	}
	return v
}

// apply adds step*dx to the unknowns in the PVPQ/PQ ordering.
func (p polar) apply(dx []float64, step float64, idx classify.Index) {
	npvpq := len(idx.PVPQ)
	for k, i := range idx.PVPQ {
		p.va[i] += step * dx[k]
	}
	for k, i := range idx.PQ {
		p.vm[i] += step * dx[npvpq+k]
	}
}

// tracker records the error history, the best point seen and the divergence
// condition: k consecutive increases ending above factor times the best.
type tracker struct {
	opts      Options
	best      float64
	bestV     []complex128
	prev      float64
	increases int
}

func newTracker(opts Options, v []complex128, norm float64, out *Outcome) *tracker {
	t := &tracker{opts: opts, best: norm, prev: norm, bestV: append([]complex128(nil), v...)}
	out.Error = norm
	out.ErrorHistory = append(out.ErrorHistory, norm)
	return t
}

// step records a new point and returns the state it implies.
func (t *tracker) step(v []complex128, norm float64, out *Outcome) State {
	out.ErrorHistory = append(out.ErrorHistory, norm)

	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return Diverged
	}
	if norm < t.best {
		t.best = norm
		t.bestV = append(t.bestV[:0], v...)
	}
	if norm > t.prev {
		t.increases++
	} else {
		t.increases = 0
	}
	t.prev = norm

	if norm < t.opts.Tolerance {
		return Converged
	}
	if t.opts.DivergenceIterations > 0 && t.increases >= t.opts.DivergenceIterations &&
		norm > t.opts.DivergenceFactor*t.best {
		return Diverged
	}
	return Iterating
}

// finish writes the best point into the outcome.
func (t *tracker) finish(ybus *matrix.CSR, out *Outcome) {
	out.V = append([]complex128(nil), t.bestV...)
	out.Scalc = CalcPower(ybus, out.V)
	out.Error = t.best
}
