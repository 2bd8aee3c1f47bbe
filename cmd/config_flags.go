package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
)

// configFlags holds the solver options shared by solve, bounds and baseline.
type configFlags struct {
	cfg  mechanism.Config
	mode string
}

// addConfigFlags registers the solver options on cmd with their defaults.
func addConfigFlags(cmd *cobra.Command, f *configFlags) {
	f.cfg = mechanism.DefaultConfig()
	f.cfg.Verbosity = 0

	fl := cmd.Flags()
	fl.IntVarP(&f.cfg.Quantization, "quantization", "n", 0, "Bins per unit, shifts range over 1..n (required)")
	fl.Float64Var(&f.cfg.XMax, "xmax", 0, "Half-range of the grid (required)")
	fl.Float64VarP(&f.cfg.CostBound, "cost-bound", "C", 0, "Bound on the expected cost (required)")
	fl.Float64Var(&f.cfg.CostExponent, "cexp", f.cfg.CostExponent, "Exponent of the cost |x|^cexp")
	fl.StringVar(&f.mode, "mode", f.cfg.Mode.String(), "Cost model: exact or bin-floor")
	fl.Float64Var(&f.cfg.TailRatio, "tail-ratio", f.cfg.TailRatio, "Geometric decay beyond the grid")
	fl.Float64Var(&f.cfg.Tol, "tol", f.cfg.Tol, "Duality gap tolerance")
	fl.IntVarP(&f.cfg.Verbosity, "verbose", "v", 0, "0 silent, 1 per-iteration logs, 2 with distribution snapshots")
	fl.Float64Var(&f.cfg.InitialTemperature, "t0", f.cfg.InitialTemperature, "Initial softmax temperature")
	fl.Float64Var(&f.cfg.TemperatureGrowth, "t-growth", f.cfg.TemperatureGrowth, "Temperature growth factor")
	fl.IntVar(&f.cfg.MaxIter, "max-iter", f.cfg.MaxIter, "Maximum number of Newton iterations")
	fl.IntVar(&f.cfg.MaxStall, "max-stall", f.cfg.MaxStall, "Consecutive floored steps before giving up")
	fl.Float64Var(&f.cfg.StepFloor, "step-floor", f.cfg.StepFloor, "Smallest line search step")

	cmd.MarkFlagRequired("quantization")
	cmd.MarkFlagRequired("xmax")
	cmd.MarkFlagRequired("cost-bound")
}

// config returns the validated configuration.
func (f *configFlags) config() (mechanism.Config, error) {
	mode, err := mechanism.ParseMode(f.mode)
	if err != nil {
		return mechanism.Config{}, err
	}
	cfg := f.cfg
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return mechanism.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
