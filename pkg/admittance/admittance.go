package admittance

import (
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

// Admittance holds the island matrices. Ybus equals Yseries plus the diagonal
// Yshunt, which carries bus shunts and branch charging.
type Admittance struct {
	Ybus    *matrix.CSR
	Yf      *matrix.CSR
	Yt      *matrix.CSR
	Yseries *matrix.CSR
	Yshunt  []complex128
	From    []int
	To      []int
}

// primitive holds the pi-model entries of one branch.
type primitive struct {
	yff, yft, ytf, ytt complex128
	shf, sht           complex128 // charging part of yff and ytt
}

func branchPrimitive(br network.Branch) primitive {
	ys := 1 / complex(br.R, br.X)
	bc := complex(0, br.B/2)
	m, theta := br.Tap()
	m2 := complex(m*m, 0)
	tap := cmplx.Rect(m, theta)

	return primitive{
		yff: (ys + bc) / m2,
		yft: -ys / cmplx.Conj(tap),
		ytf: -ys / tap,
		ytt: ys + bc,
		shf: bc / m2,
		sht: bc,
	}
}

// Build assembles Ybus, Yf and Yt by scatter-add over the island branches in
// order. Parallel branches each add their own contribution.
func Build(isl *topology.Island) *Admittance {
	net := isl.Network
	n := len(net.Buses)
	nbr := len(net.Branches)

	ybus := matrix.NewBuilder(n, n)
	yseries := matrix.NewBuilder(n, n)
	yf := matrix.NewBuilder(nbr, n)
	yt := matrix.NewBuilder(nbr, n)
	yshunt := make([]complex128, n)

	for i, bus := range net.Buses {
		yshunt[i] += bus.Shunt
	}

	a := &Admittance{
		From: make([]int, nbr),
		To:   make([]int, nbr),
	}

	for k, br := range net.Branches {
		f, t := br.From, br.To
		a.From[k], a.To[k] = f, t
		p := branchPrimitive(br)

		yf.Add(k, f, p.yff)
		yf.Add(k, t, p.yft)
		yt.Add(k, f, p.ytf)
		yt.Add(k, t, p.ytt)

		ybus.Add(f, f, p.yff)
		ybus.Add(f, t, p.yft)
		ybus.Add(t, f, p.ytf)
		ybus.Add(t, t, p.ytt)

		yseries.Add(f, f, p.yff-p.shf)
		yseries.Add(f, t, p.yft)
		yseries.Add(t, f, p.ytf)
		yseries.Add(t, t, p.ytt-p.sht)

		yshunt[f] += p.shf
		yshunt[t] += p.sht
	}

	for i, bus := range net.Buses {
		if bus.Shunt != 0 {
			ybus.Add(i, i, bus.Shunt)
		}
	}

	a.Ybus = ybus.Build()
	a.Yseries = yseries.Build()
	a.Yf = yf.Build()
	a.Yt = yt.Build()
	a.Yshunt = yshunt

	return a
}

// BuildFastDecoupled returns the XB fast decoupled matrices. B' ignores
// resistance, shunts, taps and phase shift. B'' keeps resistance and tap
// magnitude but drops charging and phase shift. Both are real valued and
// stored as -Im(Y).
func BuildFastDecoupled(isl *topology.Island) (*matrix.CSR, *matrix.CSR) {
	net := isl.Network
	n := len(net.Buses)
	bp := matrix.NewBuilder(n, n)
	bpp := matrix.NewBuilder(n, n)

	for _, br := range net.Branches {
		f, t := br.From, br.To

		// B'
		if br.X != 0 {
			b1 := network.Branch{X: br.X, TapModule: 1}
			p1 := branchPrimitive(b1)
			bp.Add(f, f, complex(-imag(p1.yff), 0))
			bp.Add(f, t, complex(-imag(p1.yft), 0))
			bp.Add(t, f, complex(-imag(p1.ytf), 0))
			bp.Add(t, t, complex(-imag(p1.ytt), 0))
		}

		// B''
		m, _ := br.Tap()
		b2 := network.Branch{R: br.R, X: br.X, TapModule: m}
		p2 := branchPrimitive(b2)
		bpp.Add(f, f, complex(-imag(p2.yff), 0))
		bpp.Add(f, t, complex(-imag(p2.yft), 0))
		bpp.Add(t, f, complex(-imag(p2.ytf), 0))
		bpp.Add(t, t, complex(-imag(p2.ytt), 0))
	}

	for i, bus := range net.Buses {
		if bus.Shunt != 0 {
			bpp.Add(i, i, complex(-imag(bus.Shunt), 0))
		}
	}

	return bp.Build(), bpp.Build()
}
