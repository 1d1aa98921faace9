package admittance

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

func island(t *testing.T, snap *network.Snapshot) *topology.Island {
	t.Helper()
	islands, err := topology.Split(snap, false)
	require.NoError(t, err)
	require.NotEmpty(t, islands)
	return islands[0]
}

func withShunts() *network.Snapshot {
	return &network.Snapshot{
		Buses: []network.Bus{
			{Active: true, IsSlack: true},
			{Active: true, Shunt: complex(0.01, 0.05)},
			{Active: true},
		},
		Branches: []network.Branch{
			{From: 0, To: 1, R: 0.02, X: 0.06, B: 0.06, Active: true},
			{From: 1, To: 2, R: 0.01, X: 0.2, B: 0.02, TapModule: 0.98, TapAngle: 0.05, Active: true},
			{From: 0, To: 2, R: 0.08, X: 0.24, B: 0.05, Active: true},
		},
	}
}

func TestYbusDecomposition(t *testing.T) {
	a := Build(island(t, withShunts()))

	ybus := a.Ybus.Dense()
	series := a.Yseries.Dense()
	for i := range ybus {
		for j := range ybus[i] {
			expected := series[i][j]
			if i == j {
				expected += a.Yshunt[i]
			}
			assert.InDelta(t, 0, cmplx.Abs(ybus[i][j]-expected), 1e-12, "entry (%d,%d)", i, j)
		}
	}
	assert.NotZero(t, a.Yshunt[1])
}

func TestPhaseShiftBreaksSymmetry(t *testing.T) {
	a := Build(island(t, withShunts()))
	assert.NotEqual(t, a.Ybus.At(1, 2), a.Ybus.At(2, 1))
	assert.Equal(t, a.Ybus.At(0, 1), a.Ybus.At(1, 0))
}

func TestBuildIdempotent(t *testing.T) {
	isl := island(t, withShunts())
	first := Build(isl)
	second := Build(isl)

	assert.True(t, first.Ybus.Equal(second.Ybus))
	assert.True(t, first.Yf.Equal(second.Yf))
	assert.True(t, first.Yt.Equal(second.Yt))
	assert.Equal(t, first.Yshunt, second.Yshunt)
}

func TestParallelBranches(t *testing.T) {
	br := network.Branch{From: 0, To: 1, R: 0.01, X: 0.1, B: 0.02, Active: true}
	single := &network.Snapshot{
		Buses:    []network.Bus{{Active: true, IsSlack: true}, {Active: true}},
		Branches: []network.Branch{br},
	}
	double := &network.Snapshot{
		Buses:    []network.Bus{{Active: true, IsSlack: true}, {Active: true}},
		Branches: []network.Branch{br, br},
	}

	a1 := Build(island(t, single))
	a2 := Build(island(t, double))

	assert.Equal(t, 2*a1.Ybus.At(0, 1), a2.Ybus.At(0, 1))
	assert.Equal(t, 2*a1.Ybus.At(0, 0), a2.Ybus.At(0, 0))
	assert.Equal(t, 2, a2.Yf.Rows())
}

func TestBranchFlowMatchesInjection(t *testing.T) {
	a := Build(island(t, withShunts()))
	v := []complex128{complex(1.02, 0), cmplx.Rect(0.98, -0.05), cmplx.Rect(0.97, -0.08)}

	ibus := a.Ybus.MulVec(v)
	ifr := a.Yf.MulVec(v)
	ito := a.Yt.MulVec(v)

	// Bus injections equal the sum of branch end currents plus the bus shunts
	sum := make([]complex128, len(v))
	for k := range ifr {
		sum[a.From[k]] += ifr[k]
		sum[a.To[k]] += ito[k]
	}
	net := withShunts()
	for i := range v {
		sum[i] += net.Buses[i].Shunt * v[i]
		assert.InDelta(t, 0, cmplx.Abs(sum[i]-ibus[i]), 1e-12)
	}
}

func TestFastDecoupledMatrices(t *testing.T) {
	bp, bpp := BuildFastDecoupled(island(t, withShunts()))

	// B' uses 1/X on the off diagonals
	assert.InDelta(t, -1/0.06, real(bp.At(0, 1)), 1e-12)
	assert.Zero(t, imag(bp.At(0, 1)))

	// B'' keeps resistance: -Im(1/(R+jX))
	ys := 1 / complex(0.02, 0.06)
	assert.InDelta(t, imag(ys), real(bpp.At(0, 1)), 1e-12)
	assert.Equal(t, bpp.At(1, 2), bpp.At(2, 1))
}
