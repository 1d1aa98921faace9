package solver

import (
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

type jEntry struct {
	col   int
	value float64
}

// jacobian is a row-wise sparse real matrix of the reduced power flow
// Jacobian. Rows follow the mismatch ordering, columns the unknown ordering.
type jacobian struct {
	n    int
	rows [][]jEntry
}

func newJacobian(n int) *jacobian {
	return &jacobian{n: n, rows: make([][]jEntry, n)}
}

func (j *jacobian) add(row, col int, value float64) {
	if value == 0 {
		return
	}
	j.rows[row] = append(j.rows[row], jEntry{col: col, value: value})
}

// buildJacobian forms dS/dVa and dS/dVm in polar form and keeps the rows and
// columns of the unknowns:
//
//	dS/dVa = j diag(V) conj(diag(Ibus) - Ybus diag(V))
//	dS/dVm = diag(V) conj(Ybus diag(V/|V|)) + conj(diag(Ibus)) diag(V/|V|)
func buildJacobian(ybus *matrix.CSR, v []complex128, idx classify.Index) *jacobian {
	n := len(v)
	theta, vm := idx.Positions(n)
	ibus := ybus.MulVec(v)
	j := newJacobian(idx.NumUnknowns())

	vnorm := make([]complex128, n)
	for i, x := range v {
		if a := cmplx.Abs(x); a > 0 {
			vnorm[i] = x / complex(a, 0)
		}
	}

	for i := range n {
		rowP, rowQ := theta[i], vm[i]
		if rowP < 0 && rowQ < 0 {
			continue
		}

		cols, vals := ybus.Row(i)
		for k, c := range cols {
			dVa := -1i * v[i] * cmplx.Conj(vals[k]*v[c])
			dVm := v[i] * cmplx.Conj(vals[k]*vnorm[c])
			if c == i {
				dVa += 1i * v[i] * cmplx.Conj(ibus[i])
				dVm += cmplx.Conj(ibus[i]) * vnorm[i]
			}
			j.stamp(rowP, rowQ, theta[c], vm[c], dVa, dVm)
		}
		if ybus.At(i, i) == 0 {
			dVa := 1i * v[i] * cmplx.Conj(ibus[i])
			dVm := cmplx.Conj(ibus[i]) * vnorm[i]
			j.stamp(rowP, rowQ, theta[i], vm[i], dVa, dVm)
		}
	}

	return j
}

func (j *jacobian) stamp(rowP, rowQ, colA, colM int, dVa, dVm complex128) {
	if rowP >= 0 {
		if colA >= 0 {
			j.add(rowP, colA, real(dVa))
		}
		if colM >= 0 {
			j.add(rowP, colM, real(dVm))
		}
	}
	if rowQ >= 0 {
		if colA >= 0 {
			j.add(rowQ, colA, imag(dVa))
		}
		if colM >= 0 {
			j.add(rowQ, colM, imag(dVm))
		}
	}
}

func (j *jacobian) load(sys *matrix.LinearSystem) {
	for r, row := range j.rows {
		for _, e := range row {
			sys.AddElement(r, e.col, e.value)
		}
	}
}

// solve factors J and solves J dx = rhs with a fresh workspace.
func (j *jacobian) solve(rhs []float64) ([]float64, error) {
	sys, err := matrix.NewSystem(j.n, false)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	j.load(sys)
	return sys.Solve(rhs)
}

func (j *jacobian) mulVec(x []float64) []float64 {
	y := make([]float64, j.n)
	for r, row := range j.rows {
		for _, e := range row {
			y[r] += e.value * x[e.col]
		}
	}
	return y
}

func (j *jacobian) transMulVec(x []float64) []float64 {
	y := make([]float64, j.n)
	for r, row := range j.rows {
		for _, e := range row {
			y[e.col] += e.value * x[r]
		}
	}
	return y
}

// normal returns the entries of J^T J as a dense-indexed sparse map per row.
func (j *jacobian) normal() []map[int]float64 {
	h := make([]map[int]float64, j.n)
	for c := range h {
		h[c] = make(map[int]float64)
	}
	for _, row := range j.rows {
		for _, a := range row {
			for _, b := range row {
				h[a.col][b.col] += a.value * b.value
			}
		}
	}
	return h
}

func negate(f []float64) []float64 {
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = -v
	}
	return out
}
