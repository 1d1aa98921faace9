package classify

import (
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

type BusType int

const (
	PQ BusType = iota
	PV
	Slack
)

func (t BusType) String() string {
	switch t {
	case PQ:
		return "PQ"
	case PV:
		return "PV"
	case Slack:
		return "Slack"
	default:
		return "unknown"
	}
}

// BusRoles is an immutable, versioned assignment of bus types. Changes go
// through WithType, which returns a new value with the version bumped.
type BusRoles struct {
	version int
	types   []BusType
}

func NewBusRoles(types []BusType) BusRoles {
	return BusRoles{types: append([]BusType(nil), types...)}
}

func (r BusRoles) Version() int { return r.version }
func (r BusRoles) Len() int     { return len(r.types) }

func (r BusRoles) Type(i int) BusType { return r.types[i] }

func (r BusRoles) Types() []BusType {
	return append([]BusType(nil), r.types...)
}

func (r BusRoles) WithType(i int, t BusType) BusRoles {
	if r.types[i] == t {
		return r
	}
	types := r.Types()
	types[i] = t
	return BusRoles{version: r.version + 1, types: types}
}

// Index holds the bus index arrays and the unknown variable ordering:
// angles for PVPQ then magnitudes for PQ.
type Index struct {
	PQ   []int
	PV   []int
	VD   []int
	PVPQ []int
}

func (r BusRoles) Index() Index {
	var idx Index
	for i, t := range r.types {
		switch t {
		case PQ:
			idx.PQ = append(idx.PQ, i)
		case PV:
			idx.PV = append(idx.PV, i)
		case Slack:
			idx.VD = append(idx.VD, i)
		}
	}
	for i, t := range r.types {
		if t == PQ || t == PV {
			idx.PVPQ = append(idx.PVPQ, i)
		}
	}
	return idx
}

func (idx Index) NumUnknowns() int {
	return len(idx.PVPQ) + len(idx.PQ)
}

// Positions maps bus index to unknown position: theta[i] for the angle and
// vm[i] for the magnitude, -1 when the variable is fixed.
func (idx Index) Positions(n int) ([]int, []int) {
	theta := make([]int, n)
	vm := make([]int, n)
	for i := range n {
		theta[i], vm[i] = -1, -1
	}
	for k, i := range idx.PVPQ {
		theta[i] = k
	}
	for k, i := range idx.PQ {
		vm[i] = len(idx.PVPQ) + k
	}
	return theta, vm
}

// Classify assigns roles from generator status. A flagged slack bus is the
// reference; with distributed slack the lowest slack is the angle reference
// and other slack buses become PV. An island without slack promotes the PV
// bus with the largest installed power.
func Classify(isl *topology.Island, distributedSlack bool) (BusRoles, error) {
	if isl.Err != nil {
		return BusRoles{}, isl.Err
	}

	net := isl.Network
	n := len(net.Buses)
	types := make([]BusType, n)

	for k, gen := range net.Generators {
		if net.Regulating(k) {
			types[gen.Bus] = PV
		}
	}

	slacks := make([]int, 0)
	for i := range n {
		if net.HasSlack(i) {
			slacks = append(slacks, i)
		}
	}

	if len(slacks) > 1 && !distributedSlack {
		global := make([]int, len(slacks))
		for k, i := range slacks {
			global[k] = isl.BusIndex[i]
		}
		return BusRoles{}, &topology.AmbiguousSlackError{Island: isl.Index, Buses: global}
	}

	switch {
	case len(slacks) > 0:
		types[slacks[0]] = Slack
		for _, i := range slacks[1:] {
			types[i] = PV
		}
	default:
		ref := -1
		weights := net.InstalledPower()
		for i, t := range types {
			if t != PV {
				continue
			}
			if ref < 0 || weights[i] > weights[ref] {
				ref = i
			}
		}
		if ref < 0 {
			return BusRoles{}, &topology.NoReferenceError{Island: isl.Index}
		}
		types[ref] = Slack
	}

	return NewBusRoles(types), nil
}
