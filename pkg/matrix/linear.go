package matrix

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/sparse"
)

var ErrSingular = errors.New("singular matrix")

// LinearSystem wraps a sparse LU factorization. Indices are 0-based; the
// underlying sparse matrix is 1-based.
type LinearSystem struct {
	Size      int
	matrix    *sparse.Matrix
	isComplex bool
	factored  bool
	err       error
	config    *sparse.Configuration
}

func NewSystem(size int, isComplex bool) (*LinearSystem, error) {
	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 isComplex,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}

	return &LinearSystem{
		Size:      size,
		matrix:    mat,
		isComplex: isComplex,
		config:    config,
	}, nil
}

func (s *LinearSystem) inBounds(i, j int) bool {
	if i < 0 || j < 0 || i >= s.Size || j >= s.Size {
		if s.err == nil {
			s.err = fmt.Errorf("matrix index out of bounds (i=%d, j=%d, size=%d)", i, j, s.Size)
		}
		return false
	}
	return true
}

func (s *LinearSystem) AddElement(i, j int, value float64) {
	if !s.inBounds(i, j) {
		return
	}
	s.matrix.GetElement(int64(i+1), int64(j+1)).Real += value
	s.factored = false
}

func (s *LinearSystem) AddComplexElement(i, j int, value complex128) {
	if !s.inBounds(i, j) {
		return
	}
	element := s.matrix.GetElement(int64(i+1), int64(j+1))
	element.Real += real(value)
	element.Imag += imag(value)
	s.factored = false
}

// Clear zeroes the stored values but keeps the pattern and pivot ordering.
func (s *LinearSystem) Clear() {
	s.matrix.Clear()
	s.factored = false
	s.err = nil
}

func (s *LinearSystem) Factor() error {
	if s.err != nil {
		return s.err
	}
	if s.factored {
		return nil
	}

	err := s.matrix.Factor()
	if err != nil {
		return fmt.Errorf("%w: factorization failed: %v", ErrSingular, err)
	}
	s.factored = true

	return nil
}

// Solve factors the matrix if needed and solves for a real right hand side.
// The matrix stays factored so repeated calls reuse the factors.
func (s *LinearSystem) Solve(b []float64) ([]float64, error) {
	if s.isComplex {
		return nil, fmt.Errorf("real solve on a complex system")
	}
	if len(b) != s.Size {
		return nil, fmt.Errorf("rhs size %d does not match system size %d", len(b), s.Size)
	}

	err := s.Factor()
	if err != nil {
		return nil, err
	}

	rhs := make([]float64, s.Size+1) // 1-based indexing
	copy(rhs[1:], b)

	solution, err := s.matrix.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %v", err)
	}

	x := make([]float64, s.Size)
	for i := range x {
		v := solution[i+1]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite solution at row %d", ErrSingular, i)
		}
		x[i] = v
	}

	return x, nil
}

func (s *LinearSystem) SolveComplex(b []complex128) ([]complex128, error) {
	if !s.isComplex {
		return nil, fmt.Errorf("complex solve on a real system")
	}
	if len(b) != s.Size {
		return nil, fmt.Errorf("rhs size %d does not match system size %d", len(b), s.Size)
	}

	err := s.Factor()
	if err != nil {
		return nil, err
	}

	// Interleaved real/imag pairs, 1-based
	rhs := make([]float64, 2*(s.Size+1))
	for i, v := range b {
		rhs[2*(i+1)] = real(v)
		rhs[2*(i+1)+1] = imag(v)
	}

	solution, _, err := s.matrix.SolveComplex(rhs, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %v", err)
	}

	x := make([]complex128, s.Size)
	for i := range x {
		v := complex(solution[2*(i+1)], solution[2*(i+1)+1])
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return nil, fmt.Errorf("%w: non-finite solution at row %d", ErrSingular, i)
		}
		x[i] = v
	}

	return x, nil
}

func (s *LinearSystem) Destroy() {
	if s.matrix != nil {
		s.matrix.Destroy()
		s.matrix = nil
	}
}

// SolveDense solves a small dense real system through the sparse factorization.
func SolveDense(a [][]float64, b []float64) ([]float64, error) {
	sys, err := NewSystem(len(b), false)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	for i, row := range a {
		for j, v := range row {
			if v != 0 {
				sys.AddElement(i, j, v)
			}
		}
	}
	return sys.Solve(b)
}

// SolveDenseComplex is the complex counterpart of SolveDense.
func SolveDenseComplex(a [][]complex128, b []complex128) ([]complex128, error) {
	sys, err := NewSystem(len(b), true)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	for i, row := range a {
		for j, v := range row {
			if v != 0 {
				sys.AddComplexElement(i, j, v)
			}
		}
	}
	return sys.SolveComplex(b)
}
