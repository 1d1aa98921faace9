package consts

const (
	Tolerance            = 1e-6 // Power mismatch infinity norm (p.u.)
	MaxIterations        = 25
	BaseMVA              = 100.0 // System base power (MVA)
	BacktrackFactor      = 0.5
	MinStepLength        = 1e-4
	DivergenceIterations = 5
	DivergenceFactor     = 1e3
	HELMDivergence       = 10.0 // Max real voltage before the series is rejected
	LMInitialFactor      = 1e-3
	MaxOuterIterations   = 20
	MaxControlRounds     = 10
	RemoteVoltageFactor  = 10.0 // Remote control tolerance = Tolerance * factor
)
