package topology

import (
	"fmt"
	"sort"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

// Island is an electrically independent part of a snapshot. Network holds the
// island's own elements re-indexed locally; the index slices map local
// positions back to the snapshot.
type Island struct {
	Index       int
	BusIndex    []int
	BranchIndex []int
	GenIndex    []int
	Network     *network.Snapshot
	Dead        bool
	Err         error

	local map[int]int
}

func (isl *Island) NumBuses() int { return len(isl.BusIndex) }

// Local maps a snapshot bus index to its island position.
func (isl *Island) Local(global int) (int, bool) {
	i, ok := isl.local[global]
	return i, ok
}

// WithTapPosition returns a copy of the island with one branch tap moved.
// The receiver is left untouched.
func (isl *Island) WithTapPosition(branch, position int) *Island {
	c := *isl
	c.Network = isl.Network.Clone()
	c.Network.Branches[branch].TapChanger.Position = position
	return &c
}

func (isl *Island) TapPositions() []int {
	pos := make([]int, len(isl.Network.Branches))
	for k, br := range isl.Network.Branches {
		pos[k] = br.TapChanger.Position
	}
	return pos
}

// Split labels connected components over the active branches with a
// union-find and returns one island per component, ordered by lowest bus.
// Inactive and DC buses belong to no island.
func Split(snap *network.Snapshot, distributedSlack bool) ([]*Island, error) {
	var err error

	err = snap.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot: %v", err)
	}

	n := snap.NumBuses()
	uf := newUnionFind(n)
	for k, br := range snap.Branches {
		if snap.BranchActive(k) {
			uf.union(br.From, br.To)
		}
	}

	groups := make(map[int][]int)
	roots := make([]int, 0)
	for i, bus := range snap.Buses {
		if !bus.Active || bus.IsDC {
			continue
		}
		r := uf.find(i)
		if _, exists := groups[r]; !exists {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	sort.Slice(roots, func(a, b int) bool {
		return groups[roots[a]][0] < groups[roots[b]][0]
	})

	islands := make([]*Island, 0, len(roots))
	for idx, r := range roots {
		isl := extract(snap, idx, groups[r])
		isl.Dead = isDead(isl)
		if !isl.Dead {
			isl.Err = checkReference(isl, distributedSlack)
		}
		islands = append(islands, isl)
	}

	return islands, nil
}

func extract(snap *network.Snapshot, index int, buses []int) *Island {
	isl := &Island{
		Index:    index,
		BusIndex: buses,
		local:    make(map[int]int, len(buses)),
	}
	for i, g := range buses {
		isl.local[g] = i
	}

	sub := &network.Snapshot{
		Name:  fmt.Sprintf("%s/island%d", snap.Name, index),
		Sbase: snap.Sbase,
		Buses: make([]network.Bus, len(buses)),
	}
	for i, g := range buses {
		sub.Buses[i] = snap.Buses[g]
	}

	for k, br := range snap.Branches {
		if !snap.BranchActive(k) {
			continue
		}
		f, ok := isl.local[br.From]
		if !ok {
			continue
		}
		t := isl.local[br.To]

		br.From, br.To = f, t
		if br.TapChanger.Active {
			if rb, ok := isl.local[br.TapChanger.RegulatedBus]; ok {
				br.TapChanger.RegulatedBus = rb
			} else {
				br.TapChanger.Active = false
			}
		}
		sub.Branches = append(sub.Branches, br)
		isl.BranchIndex = append(isl.BranchIndex, k)
	}

	for k, gen := range snap.Generators {
		b, ok := isl.local[gen.Bus]
		if !ok {
			continue
		}
		gen.Bus = b
		if gen.Remote.Active {
			if rb, ok := isl.local[gen.Remote.Bus]; ok {
				gen.Remote.Bus = rb
			} else {
				gen.Remote.Active = false
			}
		}
		sub.Generators = append(sub.Generators, gen)
		isl.GenIndex = append(isl.GenIndex, k)
	}

	isl.Network = sub
	return isl
}

// isDead reports islands that cannot carry a solution: isolated buses and
// components with neither generation nor a slack bus.
func isDead(isl *Island) bool {
	if len(isl.Network.Branches) == 0 {
		return true
	}
	for i := range isl.Network.Buses {
		if isl.Network.HasSlack(i) || isl.Network.HasGeneration(i) {
			return false
		}
	}
	return true
}

func checkReference(isl *Island, distributedSlack bool) error {
	net := isl.Network
	slacks := make([]int, 0)
	hasPV := false
	for i := range net.Buses {
		if net.HasSlack(i) {
			slacks = append(slacks, isl.BusIndex[i])
		}
	}
	for k := range net.Generators {
		if net.Regulating(k) {
			hasPV = true
		}
	}

	if len(slacks) > 1 && !distributedSlack {
		return &AmbiguousSlackError{Island: isl.Index, Buses: slacks}
	}
	if len(slacks) == 0 && !hasPV {
		return &NoReferenceError{Island: isl.Index}
	}
	return nil
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range n {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
