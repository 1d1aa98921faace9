package results

import (
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

// IslandSolution is what the assembler needs from one solved island.
type IslandSolution struct {
	Island     *topology.Island
	Admittance *admittance.Admittance
	Roles      classify.BusRoles
	V          []complex128
}

// Results holds full network arrays in snapshot indexing. Powers are per
// unit; loading is |Sf| over the branch rate.
type Results struct {
	Voltage      []complex128
	Scalc        []complex128
	BusTypes     []classify.BusType
	Solved       []bool
	Sf           []complex128
	St           []complex128
	If           []complex128
	It           []complex128
	Vbranch      []complex128
	Losses       []complex128
	Loading      []float64
	Qgen         []float64
	TapPositions []int
}

// Assemble maps island voltages back to the snapshot and derives the branch
// quantities. Buses outside every solved island get NaN voltage; branches
// touching them carry zero flow.
func Assemble(snap *network.Snapshot, solutions []IslandSolution) *Results {
	nb, nbr := snap.NumBuses(), snap.NumBranches()
	res := &Results{
		Voltage:      make([]complex128, nb),
		Scalc:        make([]complex128, nb),
		BusTypes:     make([]classify.BusType, nb),
		Solved:       make([]bool, nb),
		Sf:           make([]complex128, nbr),
		St:           make([]complex128, nbr),
		If:           make([]complex128, nbr),
		It:           make([]complex128, nbr),
		Vbranch:      make([]complex128, nbr),
		Losses:       make([]complex128, nbr),
		Loading:      make([]float64, nbr),
		Qgen:         make([]float64, len(snap.Generators)),
		TapPositions: make([]int, nbr),
	}

	nan := cmplx.NaN()
	for i := range res.Voltage {
		res.Voltage[i] = nan
		res.Scalc[i] = nan
	}
	for k, br := range snap.Branches {
		res.TapPositions[k] = br.TapChanger.Position
	}
	for k := range res.Qgen {
		res.Qgen[k] = math.NaN()
	}

	sbase := snap.GetBaseMVA()
	for _, sol := range solutions {
		isl := sol.Island
		a := sol.Admittance
		v := sol.V

		scalc := calcPower(a, v)
		for i, g := range isl.BusIndex {
			res.Voltage[g] = v[i]
			res.Scalc[g] = scalc[i]
			res.BusTypes[g] = sol.Roles.Type(i)
			res.Solved[g] = true
		}

		ifr := a.Yf.MulVec(v)
		ito := a.Yt.MulVec(v)
		for k, g := range isl.BranchIndex {
			f, t := a.From[k], a.To[k]
			res.If[g] = ifr[k]
			res.It[g] = ito[k]
			res.Sf[g] = v[f] * cmplx.Conj(ifr[k])
			res.St[g] = v[t] * cmplx.Conj(ito[k])
			res.Vbranch[g] = v[f] - v[t]
			res.Losses[g] = res.Sf[g] + res.St[g]
			if rate := isl.Network.Branches[k].Rate; rate > 0 {
				res.Loading[g] = cmplx.Abs(res.Sf[g]) * sbase / rate
			}
			res.TapPositions[g] = isl.Network.Branches[k].TapChanger.Position
		}

		qgen := apportionQ(isl.Network, scalc)
		for k, g := range isl.GenIndex {
			res.Qgen[g] = qgen[k]
		}
	}

	return res
}

func calcPower(a *admittance.Admittance, v []complex128) []complex128 {
	ibus := a.Ybus.MulVec(v)
	s := make([]complex128, len(v))
	for i := range v {
		s[i] = v[i] * cmplx.Conj(ibus[i])
	}
	return s
}

// apportionQ splits the reactive power left at each bus, after the fixed
// injection and non regulating generators, over the regulating generators in
// proportion to their reactive range. Equal shares when the ranges are zero.
func apportionQ(net *network.Snapshot, scalc []complex128) []float64 {
	q := make([]float64, len(net.Generators))
	free := make([]float64, len(net.Buses))
	rangeSum := make([]float64, len(net.Buses))
	count := make([]int, len(net.Buses))

	for i, bus := range net.Buses {
		free[i] = imag(scalc[i]) - imag(bus.Injection)
	}
	for k, gen := range net.Generators {
		switch {
		case !net.GeneratorActive(k):
			q[k] = 0
		case net.Regulating(k):
			rangeSum[gen.Bus] += gen.Qmax - gen.Qmin
			count[gen.Bus]++
		default:
			q[k] = gen.Q
			free[gen.Bus] -= gen.Q
		}
	}
	for k, gen := range net.Generators {
		if !net.Regulating(k) {
			continue
		}
		b := gen.Bus
		if rangeSum[b] > 0 {
			q[k] = free[b] * (gen.Qmax - gen.Qmin) / rangeSum[b]
		} else {
			q[k] = free[b] / float64(count[b])
		}
	}

	// Slack generators without voltage control take what is left at the bus
	for k, gen := range net.Generators {
		if !net.GeneratorActive(k) || net.Regulating(k) || !gen.IsSlack || count[gen.Bus] > 0 {
			continue
		}
		q[k] += free[gen.Bus]
		free[gen.Bus] = 0
	}

	return q
}
