package powerflow

import (
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

// initialVoltage builds the snapshot wide starting voltages. Missing or
// unusable stored and previous values fall back to 1 p.u.
func initialVoltage(snap *network.Snapshot, opts Options) []complex128 {
	v := make([]complex128, snap.NumBuses())
	for i := range v {
		v[i] = 1
	}

	switch opts.InitialGuess {
	case Stored:
		for i, bus := range snap.Buses {
			if usable(bus.V0) {
				v[i] = bus.V0
			}
		}
	case Previous:
		if len(opts.Previous) != len(v) {
			return v
		}
		for i, prev := range opts.Previous {
			if usable(prev) {
				v[i] = prev
			}
		}
	}
	return v
}

func usable(v complex128) bool {
	return v != 0 && !cmplx.IsNaN(v) && !cmplx.IsInf(v)
}

func islandVoltage(isl *topology.Island, global []complex128) []complex128 {
	v := make([]complex128, isl.NumBuses())
	for i, g := range isl.BusIndex {
		v[i] = global[g]
	}
	return v
}
