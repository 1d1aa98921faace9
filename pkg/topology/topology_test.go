package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

func line(from, to int) network.Branch {
	return network.Branch{From: from, To: to, R: 0.01, X: 0.1, Active: true}
}

func twoIslands() *network.Snapshot {
	return &network.Snapshot{
		Buses: []network.Bus{
			{Active: true, IsSlack: true},
			{Active: true, Injection: -0.2},
			{Active: true, Injection: -0.1},
			{Active: true, Injection: -0.3},
			{Active: true, Injection: -0.1},
		},
		Branches: []network.Branch{
			line(0, 1),
			line(3, 4),
			line(1, 2),
		},
	}
}

func TestSplitTwoIslands(t *testing.T) {
	islands, err := Split(twoIslands(), false)
	require.NoError(t, err)
	require.Len(t, islands, 2)

	assert.Equal(t, []int{0, 1, 2}, islands[0].BusIndex)
	assert.Equal(t, []int{0, 2}, islands[0].BranchIndex)
	assert.False(t, islands[0].Dead)
	assert.NoError(t, islands[0].Err)

	assert.Equal(t, []int{3, 4}, islands[1].BusIndex)
	assert.True(t, islands[1].Dead)

	// Local re-indexing
	br := islands[1].Network.Branches[0]
	assert.Equal(t, 0, br.From)
	assert.Equal(t, 1, br.To)
	i, ok := islands[1].Local(4)
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = islands[1].Local(0)
	assert.False(t, ok)
}

func TestOpenBranchSplits(t *testing.T) {
	snap := twoIslands()
	snap.Branches[2].Active = false
	islands, err := Split(snap, false)
	require.NoError(t, err)
	require.Len(t, islands, 3)

	// Bus 2 is isolated and becomes a single node dead island
	assert.Equal(t, []int{2}, islands[1].BusIndex)
	assert.True(t, islands[1].Dead)
}

func TestInactiveBusExcluded(t *testing.T) {
	snap := twoIslands()
	snap.Buses[4].Active = false
	islands, err := Split(snap, false)
	require.NoError(t, err)
	require.Len(t, islands, 2)
	assert.Equal(t, []int{3}, islands[1].BusIndex)
	assert.Empty(t, islands[1].BranchIndex)
}

func TestAmbiguousSlack(t *testing.T) {
	snap := twoIslands()
	snap.Buses[2].IsSlack = true

	islands, err := Split(snap, false)
	require.NoError(t, err)
	var ambiguous *AmbiguousSlackError
	require.True(t, errors.As(islands[0].Err, &ambiguous))
	assert.Equal(t, []int{0, 2}, ambiguous.Buses)

	// Distributed slack accepts several slack buses
	islands, err = Split(snap, true)
	require.NoError(t, err)
	assert.NoError(t, islands[0].Err)
}

func TestNoReference(t *testing.T) {
	snap := twoIslands()
	snap.Generators = []network.Generator{
		{Bus: 4, P: 0.2, Active: true},
	}
	islands, err := Split(snap, false)
	require.NoError(t, err)
	assert.False(t, islands[1].Dead)
	var noRef *NoReferenceError
	assert.True(t, errors.As(islands[1].Err, &noRef))
	assert.Equal(t, 1, noRef.Island)
}

func TestWithTapPositionCopies(t *testing.T) {
	snap := twoIslands()
	snap.Branches[0].TapChanger = network.TapChanger{
		Active: true, Position: 0, MinPosition: -3, MaxPosition: 3, Step: 0.01, RegulatedBus: 1,
	}
	islands, err := Split(snap, false)
	require.NoError(t, err)

	moved := islands[0].WithTapPosition(0, 2)
	assert.Equal(t, 2, moved.TapPositions()[0])
	assert.Equal(t, 0, islands[0].TapPositions()[0])
	assert.Equal(t, 0, snap.Branches[0].TapChanger.Position)
	assert.Equal(t, 1, moved.Network.Branches[0].TapChanger.RegulatedBus)
}

func TestSplitRejectsInvalid(t *testing.T) {
	snap := twoIslands()
	snap.Branches[0].From = 9
	_, err := Split(snap, false)
	assert.Error(t, err)
}
