package solver

import (
	"fmt"

	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// solveDecoupled is the XB fast decoupled method. B' and B'' are reduced to
// PVPQ and PQ and factored once; each iteration is a P half step followed by
// a Q half step.
func solveDecoupled(p *Problem, opts Options, out *Outcome) error {
	var err error

	ybus := p.Admittance.Ybus
	idx := p.Roles.Index()

	bp, bpp := admittance.BuildFastDecoupled(p.Island)
	sysP, err := reducedSystem(bp, idx.PVPQ)
	if err != nil {
		return &SingularJacobianError{Kind: out.Kind, Err: err}
	}
	defer sysP.Destroy()

	var sysQ *matrix.LinearSystem
	if len(idx.PQ) > 0 {
		sysQ, err = reducedSystem(bpp, idx.PQ)
		if err != nil {
			return &SingularJacobianError{Kind: out.Kind, Err: err}
		}
		defer sysQ.Destroy()
	}

	x := toPolar(p.V0)
	v := x.voltage()
	scalc := CalcPower(ybus, v)
	norm := NormInf(Mismatch(scalc, p.Sbus, idx))
	tr := newTracker(opts, v, norm, out)

	out.State = Iterating
	if norm < opts.Tolerance {
		out.State = Converged
	}

	for out.State == Iterating && out.Iterations < opts.MaxIterations {
		out.Iterations++

		// P half step
		dp := make([]float64, len(idx.PVPQ))
		for k, i := range idx.PVPQ {
			dp[k] = -real(scalc[i]-p.Sbus[i]) / x.vm[i]
		}
		dva, err := sysP.Solve(dp)
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: out.Iterations, Err: err}
		}
		for k, i := range idx.PVPQ {
			x.va[i] += dva[k]
		}
		v = x.voltage()
		scalc = CalcPower(ybus, v)
		norm = NormInf(Mismatch(scalc, p.Sbus, idx))
		if norm < opts.Tolerance || sysQ == nil {
			out.State = tr.step(v, norm, out)
			continue
		}

		// Q half step
		dq := make([]float64, len(idx.PQ))
		for k, i := range idx.PQ {
			dq[k] = -imag(scalc[i]-p.Sbus[i]) / x.vm[i]
		}
		dvm, err := sysQ.Solve(dq)
		if err != nil {
			tr.finish(ybus, out)
			return &SingularJacobianError{Kind: out.Kind, Iteration: out.Iterations, Err: err}
		}
		for k, i := range idx.PQ {
			x.vm[i] += dvm[k]
		}
		v = x.voltage()
		scalc = CalcPower(ybus, v)
		norm = NormInf(Mismatch(scalc, p.Sbus, idx))
		out.State = tr.step(v, norm, out)
	}

	tr.finish(ybus, out)
	return nil
}

// reducedSystem loads b[keep, keep] into a real system and factors it.
func reducedSystem(b *matrix.CSR, keep []int) (*matrix.LinearSystem, error) {
	sub := b.Slice(keep, keep)
	sys, err := matrix.NewSystem(len(keep), false)
	if err != nil {
		return nil, err
	}
	for r := range len(keep) {
		cols, vals := sub.Row(r)
		for k, c := range cols {
			sys.AddElement(r, c, real(vals[k]))
		}
	}
	err = sys.Factor()
	if err != nil {
		sys.Destroy()
		return nil, fmt.Errorf("factoring fast decoupled matrix: %w", err)
	}
	return sys, nil
}
