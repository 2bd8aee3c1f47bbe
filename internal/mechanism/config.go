package mechanism

import (
	"errors"
	"fmt"
	"math"
)

// Mode selects the cost and objective model.
type Mode int

const (
	// ModeExact integrates the cost over each bin and models the geometric tails
	// beyond the grid. Its optimum is an achievable mechanism.
	ModeExact Mode = 1
	// ModeBinFloor uses the smallest cost inside each bin and ignores the tails,
	// which gives a provable lower bound on the exact problem.
	ModeBinFloor Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeBinFloor:
		return "bin-floor"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "exact", "bin-floor", "1" or "2".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "exact", "1":
		return ModeExact, nil
	case "bin-floor", "binfloor", "floor", "2":
		return ModeBinFloor, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeExact && m != ModeBinFloor {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts every spelling ParseMode does.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ErrUnsupportedMode is returned for a mode other than exact or bin-floor.
var ErrUnsupportedMode = errors.New("unsupported mode")

// Config holds every option of a solve. Use DefaultConfig and override fields.
type Config struct {
	// Quantization is the number of bins per unit (n). Shifts range over 1..n.
	Quantization int `json:"quantization"`
	// XMax is the requested half-range of the grid. It is rounded up to a whole
	// number of bins.
	XMax float64 `json:"xmax"`
	// CostBound is the right hand side C of the cost constraint.
	CostBound float64 `json:"costBound"`
	// CostExponent is the exponent of the cost functional |x|^cexp.
	CostExponent float64 `json:"costExponent"`
	Mode         Mode    `json:"mode"`
	// TailRatio is the geometric decay r assumed beyond the grid boundary.
	TailRatio float64 `json:"tailRatio"`
	// Tol is the duality gap at which the solver stops.
	Tol float64 `json:"tol"`
	// Verbosity: 0 silent, 1 per-iteration diagnostics, 2 diagnostics plus
	// distribution snapshots for live plotting.
	Verbosity int `json:"verbosity"`

	// InitialTemperature is the starting softmax temperature t.
	InitialTemperature float64 `json:"initialTemperature"`
	// TemperatureGrowth multiplies t after a full step or a small decrement.
	TemperatureGrowth float64 `json:"temperatureGrowth"`
	// MaxIter caps the number of outer iterations.
	MaxIter int `json:"maxIter"`
	// MaxStall is the number of consecutive floor-length steps tolerated.
	MaxStall int `json:"maxStall"`
	// StepFloor is the smallest step the line search tries.
	StepFloor float64 `json:"stepFloor"`
}

// DefaultConfig returns a configuration with all optional fields at their
// defaults. Quantization, XMax and CostBound still have to be set.
func DefaultConfig() Config {
	return Config{
		CostExponent:       2,
		Mode:               ModeExact,
		TailRatio:          0.9,
		Tol:                1e-8,
		Verbosity:          2,
		InitialTemperature: 1,
		TemperatureGrowth:  1.25,
		MaxIter:            5000,
		MaxStall:           50,
		StepFloor:          1e-8,
	}
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks the configuration before any iteration begins.
func (c Config) Validate() error {
	if c.Quantization <= 0 {
		return &ConfigError{Field: "Quantization", Reason: "must be positive"}
	}
	if !(c.XMax > 0) || math.IsInf(c.XMax, 0) {
		return &ConfigError{Field: "XMax", Reason: "must be positive and finite"}
	}
	if !(c.CostBound > 0) || math.IsInf(c.CostBound, 0) {
		return &ConfigError{Field: "CostBound", Reason: "must be positive and finite"}
	}
	if !(c.CostExponent > 0) {
		return &ConfigError{Field: "CostExponent", Reason: "must be positive"}
	}
	if c.Mode != ModeExact && c.Mode != ModeBinFloor {
		return &ConfigError{Field: "Mode", Reason: c.Mode.String(), Err: ErrUnsupportedMode}
	}
	if !(c.TailRatio > 0 && c.TailRatio < 1) {
		return &ConfigError{Field: "TailRatio", Reason: "must lie in (0, 1)"}
	}
	if !(c.Tol > 0) {
		return &ConfigError{Field: "Tol", Reason: "must be positive"}
	}
	if c.Verbosity < 0 || c.Verbosity > 2 {
		return &ConfigError{Field: "Verbosity", Reason: "must be 0, 1 or 2"}
	}
	if !(c.InitialTemperature > 0) {
		return &ConfigError{Field: "InitialTemperature", Reason: "must be positive"}
	}
	if !(c.TemperatureGrowth > 1) {
		return &ConfigError{Field: "TemperatureGrowth", Reason: "must be greater than 1"}
	}
	if c.MaxIter <= 0 {
		return &ConfigError{Field: "MaxIter", Reason: "must be positive"}
	}
	if c.MaxStall <= 0 {
		return &ConfigError{Field: "MaxStall", Reason: "must be positive"}
	}
	if !(c.StepFloor > 0 && c.StepFloor < 1) {
		return &ConfigError{Field: "StepFloor", Reason: "must lie in (0, 1)"}
	}
	// Every shift 1..n must leave at least one overlapping pair on the grid.
	if 2*c.halfBins() < c.Quantization {
		return &ConfigError{
			Field:  "XMax",
			Reason: fmt.Sprintf("grid of %d bins is too short for %d shifts", 2*c.halfBins()+1, c.Quantization),
		}
	}
	return nil
}

// halfBins is N = ceil(n*xmax). The small slack keeps values such as 3*10 from
// rounding up to 31.
func (c Config) halfBins() int {
	return int(math.Ceil(float64(c.Quantization)*c.XMax - 1e-9))
}
