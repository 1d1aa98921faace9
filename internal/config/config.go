package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
	"github.com/edp1096/toy-powerflow/pkg/solver"
)

// File is the YAML options file of the pflow CLI.
type File struct {
	Solver               string  `yaml:"solver"`
	Tolerance            float64 `yaml:"tolerance"`
	MaxIterations        int     `yaml:"max_iterations"`
	ControlQ             bool    `yaml:"control_q"`
	ControlTaps          bool    `yaml:"control_taps"`
	ControlRemoteVoltage bool    `yaml:"control_remote_voltage"`
	DistributedSlack     bool    `yaml:"distributed_slack"`
	InitialGuess         string  `yaml:"initial_guess"`
	Retry                bool    `yaml:"retry"`
	MaxOuterIterations   int     `yaml:"max_outer_iterations"`
	MaxControlRounds     int     `yaml:"max_control_rounds"`
	Workers              int     `yaml:"workers"`
	LineSearch           bool    `yaml:"line_search"`
	HELMUsePade          bool    `yaml:"helm_pade"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	MetricsAddr string `yaml:"metrics_addr"`
	Trace       bool   `yaml:"trace"`
}

// Default mirrors powerflow.DefaultOptions.
func Default() File {
	f := File{
		Solver:             solver.NewtonRaphson.String(),
		Tolerance:          consts.Tolerance,
		MaxIterations:      consts.MaxIterations,
		ControlQ:           true,
		InitialGuess:       powerflow.Flat.String(),
		Retry:              true,
		MaxOuterIterations: consts.MaxOuterIterations,
		MaxControlRounds:   consts.MaxControlRounds,
		LineSearch:         true,
		HELMUsePade:        true,
	}
	f.Log.Level = "info"
	f.Log.Format = "text"
	return f
}

// Load reads path over the defaults and applies PF_* environment overrides.
// An empty path uses the defaults.
func Load(path string) (File, error) {
	var err error

	f := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return f, fmt.Errorf("reading config: %w", err)
		}
		err = yaml.Unmarshal(data, &f)
		if err != nil {
			return f, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	err = f.applyEnv(os.LookupEnv)
	if err != nil {
		return f, err
	}
	return f, f.Validate()
}

func (f *File) applyEnv(lookup func(string) (string, bool)) error {
	var err error

	if v, ok := lookup("PF_SOLVER"); ok {
		f.Solver = v
	}
	if v, ok := lookup("PF_TOLERANCE"); ok {
		f.Tolerance, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PF_TOLERANCE: %w", err)
		}
	}
	if v, ok := lookup("PF_MAX_ITER"); ok {
		f.MaxIterations, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PF_MAX_ITER: %w", err)
		}
	}
	if v, ok := lookup("PF_WORKERS"); ok {
		f.Workers, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PF_WORKERS: %w", err)
		}
	}

	flags := map[string]*bool{
		"PF_CONTROL_Q":         &f.ControlQ,
		"PF_CONTROL_TAPS":      &f.ControlTaps,
		"PF_DISTRIBUTED_SLACK": &f.DistributedSlack,
	}
	for _, key := range []string{"PF_CONTROL_Q", "PF_CONTROL_TAPS", "PF_DISTRIBUTED_SLACK"} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		*flags[key], err = strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (f File) Validate() error {
	var errs []error

	_, err := solver.ParseKind(f.Solver)
	if err != nil {
		errs = append(errs, err)
	}
	_, err = powerflow.ParseInitialGuess(f.InitialGuess)
	if err != nil {
		errs = append(errs, err)
	}
	if f.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("tolerance must be positive, got %g", f.Tolerance))
	}
	if f.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", f.MaxIterations))
	}
	if f.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", f.Workers))
	}
	return errors.Join(errs...)
}

// Options converts the file into power flow options. Logger and Metrics are
// left for the caller.
func (f File) Options() (powerflow.Options, error) {
	opts := powerflow.DefaultOptions()

	kind, err := solver.ParseKind(f.Solver)
	if err != nil {
		return opts, err
	}
	guess, err := powerflow.ParseInitialGuess(f.InitialGuess)
	if err != nil {
		return opts, err
	}

	opts.Solver = kind
	opts.Tolerance = f.Tolerance
	opts.MaxIterations = f.MaxIterations
	opts.ControlQ = f.ControlQ
	opts.ControlTaps = f.ControlTaps
	opts.ControlRemoteVoltage = f.ControlRemoteVoltage
	opts.DistributedSlack = f.DistributedSlack
	opts.InitialGuess = guess
	opts.RetryWithOtherMethods = f.Retry
	opts.LineSearch = f.LineSearch
	opts.HELMUsePade = f.HELMUsePade
	if f.MaxOuterIterations > 0 {
		opts.MaxOuterIterations = f.MaxOuterIterations
	}
	if f.MaxControlRounds > 0 {
		opts.MaxControlRounds = f.MaxControlRounds
	}
	if f.Workers > 0 {
		opts.Workers = f.Workers
	}
	return opts, nil
}
