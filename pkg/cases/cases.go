// Package cases holds small reference networks used by the CLI, the examples
// and the scenario tests.
package cases

import (
	"fmt"
	"sort"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

var catalog = map[string]func() *network.Snapshot{
	"fivebus":        FiveBus,
	"fivebus-radial": FiveBusRadial,
	"islands":        TwoIslands,
	"parallel":       Parallel,
	"qlimit":         PVQLimit,
	"tap":            TapTransformer,
	"remote":         RemoteGenerator,
}

// Names lists the built-in cases in order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Get(name string) (*network.Snapshot, error) {
	build, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown case %q (available: %v)", name, Names())
	}
	return build(), nil
}

func line(name string, from, to int, r, x, b float64) network.Branch {
	return network.Branch{Name: name, From: from, To: to, R: r, X: x, B: b, Rate: 100, Active: true}
}

func load(p, q float64) complex128 {
	return complex(-p, -q)
}

func slackGen(bus int, vset float64) network.Generator {
	return network.Generator{
		Name: fmt.Sprintf("G%d", bus+1), Bus: bus, Vset: vset,
		Qmin: -10, Qmax: 10, Snom: 1000,
		Active: true, ControlsVoltage: true, Dispatchable: true, IsSlack: true,
	}
}

func bus(name string, injection complex128) network.Bus {
	return network.Bus{Name: name, Vnom: 20, Active: true, Vmin: 0.9, Vmax: 1.1, Injection: injection}
}

// FiveBus is the five bus system from Lynn Powell's textbook: a slack
// generator at bus 1 and loads at buses 2 to 5 on a meshed 20 kV network.
func FiveBus() *network.Snapshot {
	return &network.Snapshot{
		Name:  "fivebus",
		Sbase: 100,
		Buses: []network.Bus{
			bus("Bus 1", 0),
			bus("Bus 2", load(0.40, 0.20)),
			bus("Bus 3", load(0.25, 0.15)),
			bus("Bus 4", load(0.40, 0.20)),
			bus("Bus 5", load(0.50, 0.20)),
		},
		Branches: []network.Branch{
			line("line 1-2", 0, 1, 0.05, 0.11, 0.02),
			line("line 1-3", 0, 2, 0.05, 0.11, 0.02),
			line("line 1-5", 0, 4, 0.03, 0.08, 0.02),
			line("line 2-3", 1, 2, 0.04, 0.09, 0.02),
			line("line 2-5", 1, 4, 0.04, 0.09, 0.02),
			line("line 3-4", 2, 3, 0.06, 0.13, 0.03),
			line("line 4-5", 3, 4, 0.04, 0.09, 0.02),
		},
		Generators: []network.Generator{slackGen(0, 1.0)},
	}
}

// FiveBusRadial keeps the five bus loads and line data on a radial feeder.
func FiveBusRadial() *network.Snapshot {
	snap := FiveBus()
	snap.Name = "fivebus-radial"
	snap.Branches = []network.Branch{
		line("line 1-2", 0, 1, 0.05, 0.11, 0.02),
		line("line 1-3", 0, 2, 0.05, 0.11, 0.02),
		line("line 1-5", 0, 4, 0.03, 0.08, 0.02),
		line("line 3-4", 2, 3, 0.06, 0.13, 0.03),
	}
	return snap
}

// TwoIslands is a three bus grid with a slack generator next to a two bus
// grid that only carries load.
func TwoIslands() *network.Snapshot {
	return &network.Snapshot{
		Name:  "islands",
		Sbase: 100,
		Buses: []network.Bus{
			bus("A1", 0),
			bus("A2", 0),
			bus("A3", load(0.5, 0.2)),
			bus("B1", load(0.1, 0.05)),
			bus("B2", load(0.2, 0.05)),
		},
		Branches: []network.Branch{
			line("A1-A2", 0, 1, 0.001, 0.05, 0),
			line("A2-A3", 1, 2, 0.001, 0.05, 0),
			line("A3-A1", 2, 0, 0.001, 0.05, 0),
			line("B1-B2", 3, 4, 0.01, 0.05, 0),
		},
		Generators: []network.Generator{
			slackGen(0, 1.0),
			{Name: "G2", Bus: 1, P: 0.1, Vset: 0.995, Qmin: -1, Qmax: 1, Snom: 100,
				Active: true, ControlsVoltage: true, Dispatchable: true},
		},
	}
}

// Parallel connects a load to the slack bus through two identical lines.
func Parallel() *network.Snapshot {
	return &network.Snapshot{
		Name:  "parallel",
		Sbase: 100,
		Buses: []network.Bus{
			bus("S", 0),
			bus("L", load(0.6, 0.2)),
		},
		Branches: []network.Branch{
			line("S-L 1", 0, 1, 0.02, 0.1, 0.01),
			line("S-L 2", 0, 1, 0.02, 0.1, 0.01),
		},
		Generators: []network.Generator{slackGen(0, 1.0)},
	}
}

// PVQLimit has a generator holding 1.05 p.u. next to a 1.0 p.u. slack, which
// needs far more reactive power than its 0.1 p.u. limit.
func PVQLimit() *network.Snapshot {
	return &network.Snapshot{
		Name:  "qlimit",
		Sbase: 100,
		Buses: []network.Bus{
			bus("Slack", 0),
			bus("PV", 0),
			bus("Load", load(0.6, 0.4)),
		},
		Branches: []network.Branch{
			line("1-2", 0, 1, 0.01, 0.1, 0),
			line("2-3", 1, 2, 0.01, 0.1, 0),
			line("1-3", 0, 2, 0.01, 0.1, 0),
		},
		Generators: []network.Generator{
			slackGen(0, 1.0),
			{Name: "G2", Bus: 1, P: 0.2, Vset: 1.05, Qmin: -0.1, Qmax: 0.1, Snom: 50,
				Active: true, ControlsVoltage: true, Dispatchable: true},
		},
	}
}

// TapTransformer feeds a load through a transformer whose tap changer
// regulates the load bus to 1.0 p.u.
func TapTransformer() *network.Snapshot {
	trafo := network.Branch{
		Name: "T1", From: 1, To: 2, R: 0, X: 0.08, Rate: 100, Active: true,
		TapChanger: network.TapChanger{
			Active: true, MinPosition: -10, MaxPosition: 10, Step: 0.0125,
			Neutral: 1, RegulatedBus: 2, Vset: 1.0,
		},
	}
	return &network.Snapshot{
		Name:  "tap",
		Sbase: 100,
		Buses: []network.Bus{
			bus("Grid", 0),
			bus("HV", 0),
			bus("LV", load(0.8, 0.4)),
		},
		Branches: []network.Branch{
			line("Grid-HV", 0, 1, 0.01, 0.05, 0),
			trafo,
		},
		Generators: []network.Generator{slackGen(0, 1.0)},
	}
}

// RemoteGenerator has a generator regulating the voltage of the next bus
// down the feeder instead of its own terminal.
func RemoteGenerator() *network.Snapshot {
	return &network.Snapshot{
		Name:  "remote",
		Sbase: 100,
		Buses: []network.Bus{
			bus("Slack", 0),
			bus("Gen", 0),
			bus("Load", load(0.3, 0.1)),
		},
		Branches: []network.Branch{
			line("1-2", 0, 1, 0.01, 0.1, 0),
			line("2-3", 1, 2, 0.01, 0.1, 0),
		},
		Generators: []network.Generator{
			slackGen(0, 1.0),
			{Name: "G2", Bus: 1, P: 0.1, Vset: 1.0, Qmin: -1, Qmax: 1, Snom: 50,
				Active: true, ControlsVoltage: true, Dispatchable: true,
				Remote: network.RemoteControl{Active: true, Bus: 2, Vset: 1.0}},
		},
	}
}
