package control

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/pkg/classify"
	"github.com/edp1096/toy-powerflow/pkg/topology"
)

type EventKind int

const (
	SwitchToPQ EventKind = iota
	TapStep
	RemoteSetpoint
	SlackDistribution
)

func (k EventKind) String() string {
	switch k {
	case SwitchToPQ:
		return "pv-to-pq"
	case TapStep:
		return "tap-step"
	case RemoteSetpoint:
		return "remote-setpoint"
	case SlackDistribution:
		return "slack-distribution"
	}
	return "unknown"
}

// Event is one discrete control action. Indices are island local.
type Event struct {
	Kind   EventKind
	Bus    int
	Branch int
	Value  float64
	Delta  int
}

func (e Event) String() string {
	switch e.Kind {
	case SwitchToPQ:
		return fmt.Sprintf("bus %d: PV->PQ, Q fixed at %.4f", e.Bus, e.Value)
	case TapStep:
		return fmt.Sprintf("branch %d: tap step %+d to module %.4f", e.Branch, e.Delta, e.Value)
	case RemoteSetpoint:
		return fmt.Sprintf("bus %d: set point moved to %.4f", e.Bus, e.Value)
	case SlackDistribution:
		return fmt.Sprintf("bus %d: slack share %.6f", e.Bus, e.Value)
	}
	return e.Kind.String()
}

// QLimitStep switches every PV bus whose calculated reactive injection lies
// outside its limits to PQ with Q fixed at the violated limit. Buses are never
// switched back.
func QLimitStep(roles classify.BusRoles, scalc, sbus []complex128, qmin, qmax []float64) (classify.BusRoles, []complex128, []Event) {
	next := roles
	out := sbus
	events := make([]Event, 0)

	for i := range roles.Len() {
		if roles.Type(i) != classify.PV {
			continue
		}
		q := imag(scalc[i])
		limit := q
		switch {
		case q > qmax[i]:
			limit = qmax[i]
		case q < qmin[i]:
			limit = qmin[i]
		default:
			continue
		}
		if len(events) == 0 {
			out = append([]complex128(nil), sbus...)
		}
		out[i] = complex(real(sbus[i]), limit)
		next = next.WithType(i, classify.PQ)
		events = append(events, Event{Kind: SwitchToPQ, Bus: i, Value: limit})
	}

	return next, out, events
}

// TapStepResult is the outcome of one tap control pass.
type TapStepResult struct {
	Island  *topology.Island
	Events  []Event
	Stable  bool
	Limited []int
}

// TapControlStep moves each regulating tap one position toward its target.
// The tap sits on the "from" side: a higher module lowers the "to" voltage and
// raises the "from" voltage, so the step sign depends on which end is
// regulated. Taps inside half a step of the target, or at their limit, hold.
func TapControlStep(isl *topology.Island, v []complex128) TapStepResult {
	res := TapStepResult{Island: isl, Stable: true}

	for k, br := range isl.Network.Branches {
		tc := br.TapChanger
		if !tc.Active || tc.Vset <= 0 {
			continue
		}
		vm := cmplx.Abs(v[tc.RegulatedBus])
		band := tc.Step / 2

		delta := 0
		switch {
		case vm > tc.Vset+band:
			delta = 1
		case vm < tc.Vset-band:
			delta = -1
		default:
			continue
		}
		if tc.RegulatedBus == br.From {
			delta = -delta
		}

		pos := tc.Position + delta
		if pos < tc.MinPosition || pos > tc.MaxPosition {
			res.Limited = append(res.Limited, k)
			continue
		}

		res.Island = res.Island.WithTapPosition(k, pos)
		res.Stable = false
		res.Events = append(res.Events, Event{
			Kind:   TapStep,
			Branch: k,
			Delta:  delta,
			Value:  res.Island.Network.Branches[k].TapChanger.Module(),
		})
	}

	return res
}

// RemoteVoltageStep shifts the local set point of remotely regulating
// generators by the remote voltage error, clamped to the local bus limits.
// It reports done when every error is below tol or the set point is clamped.
func RemoteVoltageStep(isl *topology.Island, roles classify.BusRoles, vset []float64, v []complex128, tol float64) ([]float64, []Event, bool) {
	next := vset
	events := make([]Event, 0)
	done := true
	net := isl.Network

	for k, gen := range net.Generators {
		if !gen.Remote.Active || gen.Remote.Bus == gen.Bus || !net.Regulating(k) {
			continue
		}
		if roles.Type(gen.Bus) != classify.PV {
			continue
		}

		diff := gen.Remote.Vset - cmplx.Abs(v[gen.Remote.Bus])
		if math.Abs(diff) < tol {
			continue
		}

		vmin, vmax := net.Buses[gen.Bus].VoltageLimits()
		target := math.Min(math.Max(next[gen.Bus]+diff, vmin), vmax)
		if target == next[gen.Bus] {
			continue
		}
		if len(events) == 0 {
			next = append([]float64(nil), vset...)
		}
		next[gen.Bus] = target
		done = false
		events = append(events, Event{Kind: RemoteSetpoint, Bus: gen.Bus, Value: target})
	}

	return next, events, done
}

// DistributeSlack spreads the slack active power over the PV and slack
// buses in proportion to the weights. It returns the new injections, the
// slack power that was spread and whether any weight was positive.
func DistributeSlack(roles classify.BusRoles, scalc, sbus []complex128, weights []float64) ([]complex128, float64, []Event, bool) {
	idx := roles.Index()
	pslack := 0.0
	for _, i := range idx.VD {
		pslack += real(scalc[i]) - real(sbus[i])
	}

	total := 0.0
	participants := make([]int, 0)
	for i := range roles.Len() {
		if roles.Type(i) == classify.PQ || weights[i] <= 0 {
			continue
		}
		total += weights[i]
		participants = append(participants, i)
	}
	if total <= 0 {
		return sbus, pslack, nil, false
	}

	out := append([]complex128(nil), sbus...)
	events := make([]Event, 0, len(participants))
	for _, i := range participants {
		share := pslack * weights[i] / total
		out[i] += complex(share, 0)
		events = append(events, Event{Kind: SlackDistribution, Bus: i, Value: share})
	}
	return out, pslack, events, true
}
