package network

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-powerflow/internal/consts"
)

// Bus values are per unit on the snapshot base unless stated otherwise.
type Bus struct {
	Name      string
	Vnom      float64 // kV
	Active    bool
	IsDC      bool
	IsSlack   bool
	Vmin      float64
	Vmax      float64
	Vset      float64
	Injection complex128 // net non-generator injection, loads negative
	Shunt     complex128 // admittance to ground
	V0        complex128 // stored voltage guess
}

type RemoteControl struct {
	Active bool
	Bus    int
	Vset   float64
}

type Generator struct {
	Name            string
	Bus             int
	P               float64
	Q               float64
	Vset            float64
	Qmin            float64
	Qmax            float64
	Snom            float64 // MVA
	Active          bool
	ControlsVoltage bool
	Dispatchable    bool
	IsSlack         bool
	Remote          RemoteControl
}

// TapChanger describes the discrete regulating tap of a transformer branch.
// The tap module is Neutral + Position*Step.
type TapChanger struct {
	Active       bool
	Position     int
	MinPosition  int
	MaxPosition  int
	Step         float64
	Neutral      float64
	RegulatedBus int
	Vset         float64
}

func (t TapChanger) Module() float64 {
	neutral := t.Neutral
	if neutral == 0 {
		neutral = 1
	}
	return neutral + float64(t.Position)*t.Step
}

type Branch struct {
	Name       string
	From       int
	To         int
	R          float64
	X          float64
	B          float64 // total line charging
	TapModule  float64
	TapAngle   float64 // rad
	Rate       float64 // MVA
	Active     bool
	TapChanger TapChanger
}

// Tap returns the effective tap magnitude and phase shift.
func (b Branch) Tap() (float64, float64) {
	if b.TapChanger.Active {
		return b.TapChanger.Module(), b.TapAngle
	}
	if b.TapModule == 0 {
		return 1, b.TapAngle
	}
	return b.TapModule, b.TapAngle
}

type Snapshot struct {
	Name       string
	Sbase      float64 // MVA
	Buses      []Bus
	Branches   []Branch
	Generators []Generator
}

func (s *Snapshot) GetBaseMVA() float64 {
	if s.Sbase <= 0 {
		return consts.BaseMVA
	}
	return s.Sbase
}

func (s *Snapshot) NumBuses() int    { return len(s.Buses) }
func (s *Snapshot) NumBranches() int { return len(s.Branches) }

func (s *Snapshot) Validate() error {
	n := len(s.Buses)
	for k, br := range s.Branches {
		if br.From < 0 || br.From >= n || br.To < 0 || br.To >= n {
			return fmt.Errorf("branch %d (%s): bus index out of range (from=%d, to=%d, buses=%d)", k, br.Name, br.From, br.To, n)
		}
		if br.From == br.To {
			return fmt.Errorf("branch %d (%s): from and to bus are the same (%d)", k, br.Name, br.From)
		}
		if br.Active && br.R == 0 && br.X == 0 {
			return fmt.Errorf("branch %d (%s): zero series impedance", k, br.Name)
		}
		if br.TapChanger.Active {
			tc := br.TapChanger
			if tc.MinPosition > tc.MaxPosition {
				return fmt.Errorf("branch %d (%s): tap limits inverted (%d > %d)", k, br.Name, tc.MinPosition, tc.MaxPosition)
			}
			if tc.Position < tc.MinPosition || tc.Position > tc.MaxPosition {
				return fmt.Errorf("branch %d (%s): tap position %d outside [%d, %d]", k, br.Name, tc.Position, tc.MinPosition, tc.MaxPosition)
			}
			if tc.RegulatedBus < 0 || tc.RegulatedBus >= n {
				return fmt.Errorf("branch %d (%s): regulated bus %d out of range", k, br.Name, tc.RegulatedBus)
			}
			if tc.Step <= 0 {
				return fmt.Errorf("branch %d (%s): tap step must be positive", k, br.Name)
			}
		}
		if math.IsNaN(br.R) || math.IsNaN(br.X) || math.IsNaN(br.B) {
			return fmt.Errorf("branch %d (%s): NaN parameter", k, br.Name)
		}
	}
	for k, gen := range s.Generators {
		if gen.Bus < 0 || gen.Bus >= n {
			return fmt.Errorf("generator %d (%s): bus index %d out of range", k, gen.Name, gen.Bus)
		}
		if gen.Qmin > gen.Qmax {
			return fmt.Errorf("generator %d (%s): Qmin %g > Qmax %g", k, gen.Name, gen.Qmin, gen.Qmax)
		}
		if gen.Remote.Active && (gen.Remote.Bus < 0 || gen.Remote.Bus >= n) {
			return fmt.Errorf("generator %d (%s): remote bus %d out of range", k, gen.Name, gen.Remote.Bus)
		}
	}
	return nil
}

// BranchActive reports whether a branch conducts: it must be on and both its
// end buses must be active AC buses.
func (s *Snapshot) BranchActive(k int) bool {
	br := s.Branches[k]
	if !br.Active {
		return false
	}
	f, t := s.Buses[br.From], s.Buses[br.To]
	return f.Active && t.Active && !f.IsDC && !t.IsDC
}

func (s *Snapshot) GeneratorActive(k int) bool {
	gen := s.Generators[k]
	return gen.Active && s.Buses[gen.Bus].Active
}

// Regulating reports whether a generator holds its bus voltage.
func (s *Snapshot) Regulating(k int) bool {
	gen := s.Generators[k]
	return s.GeneratorActive(k) && gen.ControlsVoltage && gen.Dispatchable
}

// Sbus is the specified complex injection per bus.
func (s *Snapshot) Sbus() []complex128 {
	sbus := make([]complex128, len(s.Buses))
	for i, bus := range s.Buses {
		if bus.Active {
			sbus[i] = bus.Injection
		}
	}
	for k, gen := range s.Generators {
		if s.GeneratorActive(k) {
			sbus[gen.Bus] += complex(gen.P, gen.Q)
		}
	}
	return sbus
}

// QLimits returns the bus net reactive injection limits. They are the sum of
// the limits of the regulating generators shifted by the fixed reactive
// injection at the bus, so they compare directly against the calculated net Q.
func (s *Snapshot) QLimits() ([]float64, []float64) {
	qmin := make([]float64, len(s.Buses))
	qmax := make([]float64, len(s.Buses))
	fixed := make([]float64, len(s.Buses))
	regulated := make([]bool, len(s.Buses))

	for i, bus := range s.Buses {
		fixed[i] = imag(bus.Injection)
	}
	for k, gen := range s.Generators {
		if !s.GeneratorActive(k) {
			continue
		}
		if s.Regulating(k) {
			qmin[gen.Bus] += gen.Qmin
			qmax[gen.Bus] += gen.Qmax
			regulated[gen.Bus] = true
		} else {
			fixed[gen.Bus] += gen.Q
		}
	}
	for i := range s.Buses {
		if !regulated[i] {
			qmin[i] = math.Inf(-1)
			qmax[i] = math.Inf(1)
			continue
		}
		qmin[i] += fixed[i]
		qmax[i] += fixed[i]
	}
	return qmin, qmax
}

// VoltageSetpoints returns the controlled voltage magnitude per bus. The first
// regulating generator wins; otherwise the bus set point or 1 p.u.
func (s *Snapshot) VoltageSetpoints() []float64 {
	vset := make([]float64, len(s.Buses))
	for i, bus := range s.Buses {
		vset[i] = 1
		if bus.Vset > 0 {
			vset[i] = bus.Vset
		}
	}
	seen := make([]bool, len(s.Buses))
	for k, gen := range s.Generators {
		if !s.Regulating(k) || seen[gen.Bus] || gen.Vset <= 0 {
			continue
		}
		vset[gen.Bus] = gen.Vset
		seen[gen.Bus] = true
	}
	return vset
}

// InstalledPower is the distributed slack weight: the nominal power of the
// active dispatchable generators at each bus.
func (s *Snapshot) InstalledPower() []float64 {
	w := make([]float64, len(s.Buses))
	for k, gen := range s.Generators {
		if s.GeneratorActive(k) && gen.Dispatchable {
			w[gen.Bus] += gen.Snom
		}
	}
	return w
}

func (s *Snapshot) HasSlack(i int) bool {
	if s.Buses[i].IsSlack {
		return true
	}
	for k, gen := range s.Generators {
		if gen.Bus == i && gen.IsSlack && s.GeneratorActive(k) {
			return true
		}
	}
	return false
}

func (s *Snapshot) HasGeneration(i int) bool {
	for k, gen := range s.Generators {
		if gen.Bus == i && s.GeneratorActive(k) {
			return true
		}
	}
	return false
}

// VoltageLimits returns the bus magnitude limits, defaulting to [0.9, 1.1].
func (b Bus) VoltageLimits() (float64, float64) {
	vmin, vmax := b.Vmin, b.Vmax
	if vmin <= 0 {
		vmin = 0.9
	}
	if vmax <= 0 {
		vmax = 1.1
	}
	return vmin, vmax
}

// Clone copies the element slices so the copy can be modified freely.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Buses = append([]Bus(nil), s.Buses...)
	c.Branches = append([]Branch(nil), s.Branches...)
	c.Generators = append([]Generator(nil), s.Generators...)
	return &c
}
