package util

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatValueFactor(t *testing.T) {
	assert.Equal(t, "12.500 MW", FormatValueFactor(12.5e6, "W"))
	assert.Equal(t, "250.000 kvar", FormatValueFactor(250e3, "var"))
	assert.Equal(t, "0.000 W", FormatValueFactor(0, "W"))
	assert.Equal(t, "NaN V", FormatValueFactor(math.NaN(), "V"))
}

func TestFormatPhasor(t *testing.T) {
	assert.Equal(t, "  1.0000< 30.000deg", FormatPhasor(cmplx.Rect(1, math.Pi/6)))
	assert.Equal(t, "     NaN<    NaNdeg", FormatPhasor(cmplx.NaN()))
}

func TestFormatPower(t *testing.T) {
	assert.Equal(t, "   40.000 MW   -20.000 Mvar", FormatPower(complex(0.4, -0.2), 100))
	assert.Equal(t, "  85.0 %", FormatPercent(0.85))
}
