package matrix

import (
	"fmt"
	"sort"
)

// CSR is a complex sparse matrix in compressed sparse row layout.
// Entries are immutable once built.
type CSR struct {
	rows, cols int
	rowPtr     []int
	colInd     []int
	values     []complex128
}

type triplet struct {
	row, col int
	value    complex128
}

// Builder collects (row, col, value) contributions. Contributions to the same
// position are summed in insertion order when the matrix is built, so two
// builds from the same sequence of Add calls are bit-identical.
type Builder struct {
	rows, cols int
	entries    []triplet
}

func NewBuilder(rows, cols int) *Builder {
	return &Builder{rows: rows, cols: cols}
}

func (b *Builder) Add(i, j int, value complex128) {
	if i < 0 || j < 0 || i >= b.rows || j >= b.cols {
		panic(fmt.Sprintf("matrix index out of bounds (i=%d, j=%d, size=%dx%d)", i, j, b.rows, b.cols))
	}
	b.entries = append(b.entries, triplet{row: i, col: j, value: value})
}

func (b *Builder) Build() *CSR {
	entries := make([]triplet, len(b.entries))
	copy(entries, b.entries)
	sort.SliceStable(entries, func(x, y int) bool {
		if entries[x].row != entries[y].row {
			return entries[x].row < entries[y].row
		}
		return entries[x].col < entries[y].col
	})

	m := &CSR{
		rows:   b.rows,
		cols:   b.cols,
		rowPtr: make([]int, b.rows+1),
		colInd: make([]int, 0, len(entries)),
		values: make([]complex128, 0, len(entries)),
	}

	for k := 0; k < len(entries); {
		e := entries[k]
		sum := e.value
		k++
		for k < len(entries) && entries[k].row == e.row && entries[k].col == e.col {
			sum += entries[k].value
			k++
		}
		m.colInd = append(m.colInd, e.col)
		m.values = append(m.values, sum)
		m.rowPtr[e.row+1]++
	}
	for i := 0; i < m.rows; i++ {
		m.rowPtr[i+1] += m.rowPtr[i]
	}

	return m
}

func (m *CSR) Rows() int { return m.rows }
func (m *CSR) Cols() int { return m.cols }

func (m *CSR) NonZeroCount() int { return len(m.values) }

func (m *CSR) At(i, j int) complex128 {
	start, end := m.rowPtr[i], m.rowPtr[i+1]
	pos := sort.Search(end-start, func(k int) bool {
		return m.colInd[start+k] >= j
	}) + start
	if pos < end && m.colInd[pos] == j {
		return m.values[pos]
	}
	return 0
}

// Row returns the stored columns and values of row i. The slices alias the
// matrix storage and must not be modified.
func (m *CSR) Row(i int) ([]int, []complex128) {
	start, end := m.rowPtr[i], m.rowPtr[i+1]
	return m.colInd[start:end], m.values[start:end]
}

func (m *CSR) MulVec(x []complex128) []complex128 {
	if len(x) != m.cols {
		panic(fmt.Sprintf("vector dimension mismatch (%d != %d)", len(x), m.cols))
	}
	y := make([]complex128, m.rows)
	for i := 0; i < m.rows; i++ {
		var sum complex128
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			sum += m.values[k] * x[m.colInd[k]]
		}
		y[i] = sum
	}
	return y
}

func (m *CSR) Diagonal() []complex128 {
	n := min(m.rows, m.cols)
	d := make([]complex128, n)
	for i := range n {
		d[i] = m.At(i, i)
	}
	return d
}

// Slice extracts the submatrix with the given row and column index lists.
func (m *CSR) Slice(rows, cols []int) *CSR {
	lookup := make([]int, m.cols)
	for j := range lookup {
		lookup[j] = -1
	}
	for k, j := range cols {
		lookup[j] = k
	}

	b := NewBuilder(len(rows), len(cols))
	for r, i := range rows {
		idx, vals := m.Row(i)
		for k, j := range idx {
			if c := lookup[j]; c >= 0 {
				b.Add(r, c, vals[k])
			}
		}
	}
	return b.Build()
}

// Equal reports bit-identical pattern and values.
func (m *CSR) Equal(o *CSR) bool {
	if m.rows != o.rows || m.cols != o.cols || len(m.values) != len(o.values) {
		return false
	}
	for i := range m.rowPtr {
		if m.rowPtr[i] != o.rowPtr[i] {
			return false
		}
	}
	for k := range m.values {
		if m.colInd[k] != o.colInd[k] || m.values[k] != o.values[k] {
			return false
		}
	}
	return true
}

func (m *CSR) Dense() [][]complex128 {
	d := make([][]complex128, m.rows)
	for i := range d {
		d[i] = make([]complex128, m.cols)
		idx, vals := m.Row(i)
		for k, j := range idx {
			d[i][j] = vals[k]
		}
	}
	return d
}
