package solver

import (
	"errors"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

func threeBus(load complex128) *network.Snapshot {
	br := func(f, t int) network.Branch {
		return network.Branch{From: f, To: t, R: 0.01, X: 0.1, B: 0.02, Active: true}
	}
	return &network.Snapshot{
		Buses: []network.Bus{
			{Active: true, IsSlack: true, Vset: 1.0},
			{Active: true},
			{Active: true, Injection: -load},
		},
		Branches: []network.Branch{br(0, 1), br(1, 2), br(0, 2)},
		Generators: []network.Generator{
			{Bus: 1, P: 0.5, Vset: 1.01, Qmin: -1, Qmax: 1, Active: true, ControlsVoltage: true, Dispatchable: true},
		},
	}
}

func problem(t *testing.T, snap *network.Snapshot) *Problem {
	t.Helper()
	islands, err := topology.Split(snap, false)
	require.NoError(t, err)
	isl := islands[0]
	roles, err := classify.Classify(isl, false)
	require.NoError(t, err)

	vset := isl.Network.VoltageSetpoints()
	v0 := make([]complex128, len(vset))
	for i := range v0 {
		v0[i] = 1
		if roles.Type(i) != classify.PQ {
			v0[i] = complex(vset[i], 0)
		}
	}
	return &Problem{
		Island:     isl,
		Admittance: admittance.Build(isl),
		Roles:      roles,
		Sbus:       isl.Network.Sbus(),
		V0:         v0,
	}
}

func TestNewtonConverges(t *testing.T) {
	p := problem(t, threeBus(complex(0.8, 0.3)))
	out, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, out.Converged)
	assert.Equal(t, Converged, out.State)
	assert.Less(t, out.Error, 1e-6)
	assert.LessOrEqual(t, out.Iterations, 6)
	assert.Len(t, out.ErrorHistory, out.Iterations+1)

	// Controlled magnitudes are untouched
	assert.InDelta(t, 1.0, cmplx.Abs(out.V[0]), 1e-12)
	assert.InDelta(t, 0.0, cmplx.Phase(out.V[0]), 1e-12)
	assert.InDelta(t, 1.01, cmplx.Abs(out.V[1]), 1e-12)

	// Power balance at PQ and PV buses
	assert.InDelta(t, real(p.Sbus[2]), real(out.Scalc[2]), 1e-6)
	assert.InDelta(t, imag(p.Sbus[2]), imag(out.Scalc[2]), 1e-6)
	assert.InDelta(t, real(p.Sbus[1]), real(out.Scalc[1]), 1e-6)
}

func TestVariantsAgree(t *testing.T) {
	p := problem(t, threeBus(complex(0.8, 0.3)))
	ref, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MaxIterations = 60
	for _, kind := range []Kind{LevenbergMarquardt, FastDecoupled, CurrentInjection, HELM} {
		t.Run(kind.String(), func(t *testing.T) {
			out, err := Solve(kind, p, opts)
			require.NoError(t, err)
			require.True(t, out.Converged)
			for i := range ref.V {
				assert.InDelta(t, 0, cmplx.Abs(out.V[i]-ref.V[i]), 1e-5, "bus %d", i)
			}
		})
	}
}

func TestHELMDirectSum(t *testing.T) {
	p := problem(t, threeBus(complex(0.3, 0.1)))
	opts := DefaultOptions()
	opts.UsePade = false
	opts.MaxIterations = 60
	out, err := Solve(HELM, p, opts)
	require.NoError(t, err)
	assert.True(t, out.Converged)
}

func TestAllSlackIsTrivial(t *testing.T) {
	p := problem(t, threeBus(0))
	p.Roles = classify.NewBusRoles([]classify.BusType{classify.Slack, classify.Slack, classify.Slack})
	out, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, out.Converged)
	assert.Equal(t, 0, out.Iterations)
	assert.Equal(t, p.Sbus, out.Scalc)
}

func TestMaxIterReached(t *testing.T) {
	p := problem(t, threeBus(complex(0.8, 0.3)))
	opts := DefaultOptions()
	opts.MaxIterations = 1
	out, err := Solve(NewtonRaphson, p, opts)

	var nonConv *NonConvergenceError
	require.True(t, errors.As(err, &nonConv))
	assert.Equal(t, 1, nonConv.Iterations)
	assert.False(t, out.Converged)
	assert.Equal(t, MaxIterReached, out.State)
	assert.NotNil(t, out.V)
}

func TestInfeasibleLoadFails(t *testing.T) {
	p := problem(t, threeBus(complex(40, 20)))
	out, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.Error(t, err)
	assert.False(t, out.Converged)

	var nonConv *NonConvergenceError
	var div *DivergenceError
	var sing *SingularJacobianError
	assert.True(t, errors.As(err, &nonConv) || errors.As(err, &div) || errors.As(err, &sing))
}

func TestDeterministic(t *testing.T) {
	p := problem(t, threeBus(complex(0.8, 0.3)))
	a, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.NoError(t, err)
	b, err := Solve(NewtonRaphson, p, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a.V, b.V)
}

func TestParseKind(t *testing.T) {
	for s, want := range map[string]Kind{
		"nr": NewtonRaphson, "LM": LevenbergMarquardt, "fast-decoupled": FastDecoupled,
		"ci": CurrentInjection, "helm": HELM,
	} {
		got, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("gauss")
	assert.Error(t, err)
	assert.Equal(t, "helm", HELM.String())
}

func TestPadeRecoversRational(t *testing.T) {
	// 1/(1-s/2) = sum (s/2)^k, equal to 2 at s=1
	coeffs := make([]complex128, 3)
	c := complex(1, 0)
	for k := range coeffs {
		coeffs[k] = c
		c /= 2
	}
	v, err := padeAtOne(coeffs)
	require.NoError(t, err)
	assert.InDelta(t, 2, real(v), 1e-12)
	assert.InDelta(t, 0, imag(v), 1e-12)
}
