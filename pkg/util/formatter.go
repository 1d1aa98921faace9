package util

import (
	"fmt"
	"math"
	"math/cmplx"
)

func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	switch {
	case math.IsNaN(value):
		return fmt.Sprintf("NaN %s", unit)
	case absValue >= 1e9:
		return fmt.Sprintf("%.3f G%s", value/1e9, unit)
	case absValue >= 1e6:
		return fmt.Sprintf("%.3f M%s", value/1e6, unit)
	case absValue >= 1e3:
		return fmt.Sprintf("%.3f k%s", value/1e3, unit)
	case absValue >= 1 || absValue == 0:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f m%s", value*1e3, unit)
	default:
		return fmt.Sprintf("%.3e %s", value, unit)
	}
}

// FormatPU prints a per unit magnitude.
func FormatPU(value float64) string {
	if math.IsNaN(value) {
		return "     NaN"
	}
	return fmt.Sprintf("%8.4f", value) // " 1.0000"
}

// FormatAngle prints radians as degrees.
func FormatAngle(rad float64) string {
	if math.IsNaN(rad) {
		return "    NaN"
	}
	return fmt.Sprintf("%7.3f", rad*180/math.Pi) // " -2.345"
}

func FormatPhasor(v complex128) string {
	return fmt.Sprintf("%s<%sdeg", FormatPU(cmplx.Abs(v)), FormatAngle(cmplx.Phase(v)))
}

// FormatPower prints a per unit complex power in MW and Mvar on base sbase
// MVA.
func FormatPower(s complex128, sbase float64) string {
	return fmt.Sprintf("%9.3f MW %9.3f Mvar", real(s)*sbase, imag(s)*sbase)
}

func FormatPercent(value float64) string {
	return fmt.Sprintf("%6.1f %%", value*100)
}
