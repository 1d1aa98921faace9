package control

import (
	"context"
	"errors"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/solver"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

func tapIsland(t *testing.T) *topology.Island {
	t.Helper()
	snap := &network.Snapshot{
		Buses: []network.Bus{
			{Active: true, IsSlack: true},
			{Active: true},
			{Active: true, Injection: complex(-0.4, -0.1)},
		},
		Branches: []network.Branch{
			{From: 0, To: 1, R: 0.01, X: 0.1, Active: true},
			{From: 1, To: 2, X: 0.05, Active: true, TapChanger: network.TapChanger{
				Active: true, MinPosition: -4, MaxPosition: 4, Step: 0.01, RegulatedBus: 2, Vset: 1.0,
			}},
		},
		Generators: []network.Generator{
			{Bus: 1, Vset: 1.02, Qmin: -0.2, Qmax: 0.5, Active: true, ControlsVoltage: true, Dispatchable: true, Snom: 30,
				Remote: network.RemoteControl{Active: true, Bus: 2, Vset: 1.0}},
			{Bus: 0, Snom: 70, Active: true, Dispatchable: true, IsSlack: true},
		},
	}
	islands, err := topology.Split(snap, false)
	require.NoError(t, err)
	return islands[0]
}

func TestQLimitStep(t *testing.T) {
	roles := classify.NewBusRoles([]classify.BusType{classify.Slack, classify.PV, classify.PV})
	scalc := []complex128{complex(0.1, 0.2), complex(0.3, 0.9), complex(0.2, -0.05)}
	sbus := []complex128{0, complex(0.3, 0), complex(0.2, 0)}
	qmin := []float64{-1, -0.2, -0.1}
	qmax := []float64{1, 0.5, 0.5}

	next, out, events := QLimitStep(roles, scalc, sbus, qmin, qmax)
	require.Len(t, events, 1)
	assert.Equal(t, SwitchToPQ, events[0].Kind)
	assert.Equal(t, 1, events[0].Bus)
	assert.Equal(t, classify.PQ, next.Type(1))
	assert.Equal(t, classify.PV, next.Type(2))
	assert.Equal(t, complex(0.3, 0.5), out[1])

	// Inputs are untouched
	assert.Equal(t, classify.PV, roles.Type(1))
	assert.Equal(t, complex(0.3, 0), sbus[1])
}

func TestTapControlStep(t *testing.T) {
	isl := tapIsland(t)

	high := []complex128{1, 1, complex(1.03, 0)}
	res := TapControlStep(isl, high)
	assert.False(t, res.Stable)
	require.Len(t, res.Events, 1)
	assert.Equal(t, 1, res.Events[0].Delta)
	assert.Equal(t, 1, res.Island.TapPositions()[1])
	assert.Equal(t, 0, isl.TapPositions()[1])

	inBand := []complex128{1, 1, complex(1.004, 0)}
	assert.True(t, TapControlStep(isl, inBand).Stable)

	low := []complex128{1, 1, complex(0.95, 0)}
	atLimit := isl.WithTapPosition(1, -4)
	res = TapControlStep(atLimit, low)
	assert.True(t, res.Stable)
	assert.Equal(t, []int{1}, res.Limited)
}

func TestTapControlStepFromSide(t *testing.T) {
	snap := &network.Snapshot{
		Buses: []network.Bus{
			{Active: true, IsSlack: true},
			{Active: true, Injection: complex(-0.4, -0.1)},
			{Active: true},
		},
		Branches: []network.Branch{
			{From: 0, To: 2, R: 0.01, X: 0.1, Active: true},
			{From: 1, To: 2, X: 0.05, Active: true, TapChanger: network.TapChanger{
				Active: true, MinPosition: -4, MaxPosition: 4, Step: 0.01, RegulatedBus: 1, Vset: 1.0,
			}},
		},
		Generators: []network.Generator{{Bus: 0, Active: true, Dispatchable: true, IsSlack: true}},
	}
	islands, err := topology.Split(snap, false)
	require.NoError(t, err)
	isl := islands[0]

	// Raising the module raises the regulated "from" voltage
	low := []complex128{1, complex(0.95, 0), 1}
	res := TapControlStep(isl, low)
	require.Len(t, res.Events, 1)
	assert.Equal(t, 1, res.Events[0].Delta)
	assert.Equal(t, 1, res.Island.TapPositions()[1])

	high := []complex128{1, complex(1.03, 0), 1}
	res = TapControlStep(isl, high)
	require.Len(t, res.Events, 1)
	assert.Equal(t, -1, res.Events[0].Delta)
}

func TestRemoteVoltageStep(t *testing.T) {
	isl := tapIsland(t)
	roles := classify.NewBusRoles([]classify.BusType{classify.Slack, classify.PV, classify.PQ})
	vset := []float64{1, 1.02, 1}
	v := []complex128{1, complex(1.02, 0), complex(0.97, 0)}

	next, events, done := RemoteVoltageStep(isl, roles, vset, v, 1e-5)
	assert.False(t, done)
	require.Len(t, events, 1)
	assert.InDelta(t, 1.05, next[1], 1e-12)
	assert.Equal(t, 1.02, vset[1])

	// Clamped to the bus maximum
	v[2] = complex(0.8, 0)
	next, _, _ = RemoteVoltageStep(isl, roles, vset, v, 1e-5)
	assert.Equal(t, 1.1, next[1])
}

func TestDistributeSlack(t *testing.T) {
	roles := classify.NewBusRoles([]classify.BusType{classify.Slack, classify.PV, classify.PQ})
	scalc := []complex128{complex(0.5, 0), complex(0.2, 0), complex(-0.7, 0)}
	sbus := []complex128{0, complex(0.2, 0), complex(-0.7, 0)}

	out, pslack, events, ok := DistributeSlack(roles, scalc, sbus, []float64{70, 30, 0})
	require.True(t, ok)
	assert.InDelta(t, 0.5, pslack, 1e-15)
	assert.Len(t, events, 2)
	assert.InDelta(t, 0.35, real(out[0]), 1e-15)
	assert.InDelta(t, 0.35, real(out[1]), 1e-15)
	assert.Equal(t, sbus[2], out[2])

	_, _, _, ok = DistributeSlack(roles, scalc, sbus, []float64{0, 0, 0})
	assert.False(t, ok)
}

// fakeSolve reports every PV bus at a fixed Q and the regulated bus voltage
// as given, so the loops can be driven without numerics.
func fakeSolve(pvQ float64, vRegulated float64) SolveFunc {
	return func(ctx context.Context, st State) (*solver.Outcome, error) {
		scalc := append([]complex128(nil), st.Sbus...)
		for i := range scalc {
			if st.Roles.Type(i) == classify.PV {
				scalc[i] = complex(real(scalc[i]), pvQ)
			}
		}
		v := append([]complex128(nil), st.V...)
		v[2] = cmplx.Rect(vRegulated, 0)
		return &solver.Outcome{V: v, Scalc: scalc, Converged: true, State: solver.Converged}, nil
	}
}

func initial(t *testing.T) State {
	isl := tapIsland(t)
	roles, err := classify.Classify(isl, false)
	require.NoError(t, err)
	return State{
		Island: isl,
		Roles:  roles,
		Sbus:   isl.Network.Sbus(),
		Vset:   isl.Network.VoltageSetpoints(),
		V:      []complex128{1, 1, 1},
	}
}

func TestRunEnforcesQLimits(t *testing.T) {
	res, err := Run(context.Background(), initial(t), Options{ControlQ: true}, fakeSolve(0.8, 1.0))
	require.NoError(t, err)

	assert.Equal(t, classify.PQ, res.State.Roles.Type(1))
	assert.Equal(t, 0.5, imag(res.State.Sbus[1]))
	assert.Equal(t, 0.5, imag(res.Outcome.Scalc[1]))
	require.Len(t, res.Events, 1)
	assert.Empty(t, res.Warnings)
}

func TestRunWithoutQControlKeepsPV(t *testing.T) {
	res, err := Run(context.Background(), initial(t), Options{}, fakeSolve(0.8, 1.0))
	require.NoError(t, err)
	assert.Equal(t, classify.PV, res.State.Roles.Type(1))
	assert.Equal(t, 0.8, imag(res.Outcome.Scalc[1]))
}

func TestRunTapsHitRoundLimit(t *testing.T) {
	opts := Options{ControlTaps: true, MaxControlRounds: 2}
	res, err := Run(context.Background(), initial(t), opts, fakeSolve(0, 1.2))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, res.State.Island.TapPositions()[1])
	require.Len(t, res.Warnings, 1)
	var limit *LimitError
	assert.True(t, errors.As(res.Warnings[0], &limit))
	assert.Equal(t, "tap/remote", limit.Loop)
}

func TestRunTapsStopAtLimit(t *testing.T) {
	res, err := Run(context.Background(), initial(t), Options{ControlTaps: true}, fakeSolve(0, 1.2))
	require.NoError(t, err)
	assert.Equal(t, 4, res.State.Island.TapPositions()[1])
	assert.Empty(t, res.Warnings)
	assert.Len(t, res.Events, 4)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	solve := func(ctx context.Context, st State) (*solver.Outcome, error) {
		out, err := fakeSolve(0, 1.2)(ctx, st)
		cancel()
		return out, err
	}
	_, err := Run(ctx, initial(t), Options{ControlTaps: true}, solve)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectedStepKeepsStableState(t *testing.T) {
	calls := 0
	solve := func(ctx context.Context, st State) (*solver.Outcome, error) {
		calls++
		if calls > 1 {
			return &solver.Outcome{}, errors.New("boom")
		}
		return fakeSolve(0, 1.2)(ctx, st)
	}
	res, err := Run(context.Background(), initial(t), Options{ControlTaps: true}, solve)
	require.NoError(t, err)
	assert.Equal(t, 0, res.State.Island.TapPositions()[1])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Error(), "rejected")
}
