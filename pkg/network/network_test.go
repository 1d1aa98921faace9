package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeBus() *Snapshot {
	return &Snapshot{
		Name: "three",
		Buses: []Bus{
			{Name: "b0", Active: true, IsSlack: true, Vset: 1.02},
			{Name: "b1", Active: true, Injection: complex(-0.5, -0.2)},
			{Name: "b2", Active: true, Injection: complex(-0.1, -0.05)},
		},
		Branches: []Branch{
			{Name: "l01", From: 0, To: 1, R: 0.01, X: 0.1, Active: true},
			{Name: "l12", From: 1, To: 2, R: 0.01, X: 0.1, Active: true},
		},
		Generators: []Generator{
			{Name: "g2", Bus: 2, P: 0.3, Q: 0.1, Vset: 1.01, Qmin: -0.2, Qmax: 0.4, Snom: 50,
				Active: true, ControlsVoltage: true, Dispatchable: true},
			{Name: "g2b", Bus: 2, P: 0.1, Q: 0.05, Snom: 20, Active: true, Dispatchable: true},
		},
	}
}

func TestValidate(t *testing.T) {
	s := threeBus()
	require.NoError(t, s.Validate())

	s.Branches[0].To = 7
	assert.Error(t, s.Validate())

	s = threeBus()
	s.Branches[1].R, s.Branches[1].X = 0, 0
	assert.ErrorContains(t, s.Validate(), "zero series impedance")

	s = threeBus()
	s.Generators[0].Qmin = 1
	assert.ErrorContains(t, s.Validate(), "Qmin")
}

func TestSbusAndLimits(t *testing.T) {
	s := threeBus()
	sbus := s.Sbus()
	assert.Equal(t, complex128(0), sbus[0])
	assert.InDelta(t, -0.5, real(sbus[1]), 1e-15)
	assert.InDelta(t, 0.3, real(sbus[2]), 1e-15)
	assert.InDelta(t, 0.1, imag(sbus[2]), 1e-15)

	qmin, qmax := s.QLimits()
	// Fixed part: load -0.05 plus the non regulating generator 0.05
	assert.InDelta(t, -0.2, qmin[2], 1e-15)
	assert.InDelta(t, 0.4, qmax[2], 1e-15)
	assert.True(t, math.IsInf(qmax[1], 1))

	vset := s.VoltageSetpoints()
	assert.Equal(t, []float64{1.02, 1, 1.01}, vset)

	assert.Equal(t, []float64{0, 0, 70}, s.InstalledPower())
}

func TestInactiveGeneratorIgnored(t *testing.T) {
	s := threeBus()
	s.Generators[0].Active = false
	assert.InDelta(t, 0.0, real(s.Sbus()[2]), 1e-15)
	assert.False(t, s.Regulating(0))
	assert.True(t, s.HasGeneration(2))
	assert.True(t, s.HasSlack(0))
	assert.False(t, s.HasSlack(2))
}

func TestTap(t *testing.T) {
	br := Branch{R: 0, X: 0.1, TapAngle: 0.1}
	m, theta := br.Tap()
	assert.Equal(t, 1.0, m)
	assert.Equal(t, 0.1, theta)

	br.TapChanger = TapChanger{Active: true, Position: -2, MinPosition: -5, MaxPosition: 5, Step: 0.0125}
	m, _ = br.Tap()
	assert.InDelta(t, 0.975, m, 1e-15)
}

func TestCloneIsIndependent(t *testing.T) {
	s := threeBus()
	c := s.Clone()
	c.Branches[0].TapChanger.Position = 3
	c.Buses[1].Injection = 0
	assert.Equal(t, 0, s.Branches[0].TapChanger.Position)
	assert.NotEqual(t, complex128(0), s.Buses[1].Injection)
	assert.Equal(t, 100.0, s.GetBaseMVA())
}
