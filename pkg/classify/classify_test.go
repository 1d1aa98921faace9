package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

func split(t *testing.T, snap *network.Snapshot, distributed bool) *topology.Island {
	t.Helper()
	islands, err := topology.Split(snap, distributed)
	require.NoError(t, err)
	return islands[0]
}

func fourBus() *network.Snapshot {
	br := func(f, t int) network.Branch {
		return network.Branch{From: f, To: t, R: 0.01, X: 0.1, Active: true}
	}
	return &network.Snapshot{
		Buses: []network.Bus{
			{Active: true},
			{Active: true},
			{Active: true, IsSlack: true},
			{Active: true},
		},
		Branches: []network.Branch{br(0, 1), br(1, 2), br(2, 3)},
		Generators: []network.Generator{
			{Bus: 1, Vset: 1.01, Snom: 10, Active: true, ControlsVoltage: true, Dispatchable: true},
			{Bus: 1, Vset: 1.01, Snom: 10, Active: false, ControlsVoltage: true, Dispatchable: true},
			{Bus: 3, P: 0.1, Snom: 5, Active: true, ControlsVoltage: false, Dispatchable: true},
		},
	}
}

func TestClassify(t *testing.T) {
	roles, err := Classify(split(t, fourBus(), false), false)
	require.NoError(t, err)

	assert.Equal(t, []BusType{PQ, PV, Slack, PQ}, roles.Types())
	idx := roles.Index()
	assert.Equal(t, []int{0, 3}, idx.PQ)
	assert.Equal(t, []int{1}, idx.PV)
	assert.Equal(t, []int{2}, idx.VD)
	assert.Equal(t, []int{0, 1, 3}, idx.PVPQ)
	assert.Equal(t, 5, idx.NumUnknowns())

	theta, vm := idx.Positions(4)
	assert.Equal(t, []int{0, 1, -1, 2}, theta)
	assert.Equal(t, []int{3, -1, -1, 4}, vm)
}

func TestSharedBusStaysPV(t *testing.T) {
	snap := fourBus()
	snap.Generators[0].Active = false
	snap.Generators[1].Active = true

	roles, err := Classify(split(t, snap, false), false)
	require.NoError(t, err)
	assert.Equal(t, PV, roles.Type(1))
}

func TestPromotesPVWithoutSlack(t *testing.T) {
	snap := fourBus()
	snap.Buses[2].IsSlack = false
	snap.Generators = append(snap.Generators, network.Generator{
		Bus: 3, Vset: 1.0, Snom: 50, Active: true, ControlsVoltage: true, Dispatchable: true,
	})

	roles, err := Classify(split(t, snap, false), false)
	require.NoError(t, err)
	assert.Equal(t, Slack, roles.Type(3))
	assert.Equal(t, PV, roles.Type(1))
}

func TestDistributedSlackDemotesExtraSlack(t *testing.T) {
	snap := fourBus()
	snap.Buses[0].IsSlack = true

	_, err := Classify(split(t, snap, false), false)
	var ambiguous *topology.AmbiguousSlackError
	require.True(t, errors.As(err, &ambiguous))

	roles, err := Classify(split(t, snap, true), true)
	require.NoError(t, err)
	assert.Equal(t, Slack, roles.Type(0))
	assert.Equal(t, PV, roles.Type(2))
}

func TestWithTypeCopyOnWrite(t *testing.T) {
	roles := NewBusRoles([]BusType{Slack, PV, PQ})
	next := roles.WithType(1, PQ)

	assert.Equal(t, PV, roles.Type(1))
	assert.Equal(t, 0, roles.Version())
	assert.Equal(t, PQ, next.Type(1))
	assert.Equal(t, 1, next.Version())

	same := next.WithType(1, PQ)
	assert.Equal(t, next.Version(), same.Version())
	assert.Equal(t, "Slack", Slack.String())
}
