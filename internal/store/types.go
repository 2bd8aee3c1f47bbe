package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
)

// Record is the persisted state of a converged mechanism. It holds enough to
// rebuild a sampler without solving again.
type Record struct {
	// Name is derived from the configuration, see RecordName.
	Name string `json:"name"`

	Config mechanism.Config `json:"config"`

	// Grid holds the bin centers, Distribution the per-bin probabilities
	// (boundary bins without their tail factor).
	Grid         []float64 `json:"grid"`
	Distribution []float64 `json:"distribution"`

	// PrimalObjective is the worst-case divergence over all shifts.
	PrimalObjective   float64 `json:"primalObjective"`
	SmoothedObjective float64 `json:"smoothedObjective"`
	ArgmaxShift       int     `json:"argmaxShift"`

	Temperature float64 `json:"temperature"`
	Iterations  int     `json:"iterations"`
	Gap         float64 `json:"gap"`
	Feasible    bool    `json:"feasible"`

	Timestamp time.Time `json:"timestamp"`
}

// RecordInfo is the listing view of a record without the distribution.
type RecordInfo struct {
	Name            string         `json:"name"`
	Mode            mechanism.Mode `json:"mode"`
	Quantization    int            `json:"quantization"`
	XMax            float64        `json:"xmax"`
	CostBound       float64        `json:"costBound"`
	CostExponent    float64        `json:"costExponent"`
	PrimalObjective float64        `json:"primalObjective"`
	Iterations      int            `json:"iterations"`
	Timestamp       time.Time      `json:"timestamp"`
}

// RecordName derives a file-system safe name from the parameters that
// determine the solution.
func RecordName(cfg mechanism.Config) string {
	g := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return fmt.Sprintf("%s_n%d_xmax%s_cexp%s_C%s_r%s",
		cfg.Mode, cfg.Quantization, g(cfg.XMax), g(cfg.CostExponent), g(cfg.CostBound), g(cfg.TailRatio))
}

// NewRecord captures a solver result. The slices are copied.
func NewRecord(res *mechanism.Result) *Record {
	return &Record{
		Name:              RecordName(res.Config),
		Config:            res.Config,
		Grid:              append([]float64(nil), res.Grid...),
		Distribution:      append([]float64(nil), res.Distribution...),
		PrimalObjective:   res.PrimalObjective,
		SmoothedObjective: res.SmoothedObjective,
		ArgmaxShift:       res.ArgmaxShift,
		Temperature:       res.Temperature,
		Iterations:        res.Iterations,
		Gap:               res.Gap,
		Feasible:          res.Feasible,
		Timestamp:         time.Now(),
	}
}

// ToInfo converts a full Record to RecordInfo.
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		Name:            r.Name,
		Mode:            r.Config.Mode,
		Quantization:    r.Config.Quantization,
		XMax:            r.Config.XMax,
		CostBound:       r.Config.CostBound,
		CostExponent:    r.Config.CostExponent,
		PrimalObjective: r.PrimalObjective,
		Iterations:      r.Iterations,
		Timestamp:       r.Timestamp,
	}
}

// Validate checks that the record describes a usable distribution.
func (r *Record) Validate() error {
	if r.Name == "" {
		return &ValidationError{Field: "Name", Reason: "cannot be empty"}
	}
	if err := r.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	if len(r.Grid) < 3 {
		return &ValidationError{Field: "Grid", Reason: "needs at least 3 bins"}
	}
	if len(r.Distribution) != len(r.Grid) {
		return &ValidationError{
			Field:  "Distribution",
			Reason: fmt.Sprintf("length mismatch: expected %d entries, got %d", len(r.Grid), len(r.Distribution)),
		}
	}
	for i, v := range r.Distribution {
		if v < 0 {
			return &ValidationError{Field: "Distribution", Reason: fmt.Sprintf("negative entry at %d", i)}
		}
	}
	if r.PrimalObjective < 0 {
		return &ValidationError{Field: "PrimalObjective", Reason: "cannot be negative"}
	}
	if r.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// Sampler rebuilds the sampler of the stored distribution.
func (r *Record) Sampler() (*mechanism.Sampler, error) {
	return mechanism.NewSampler(r.Grid, r.Distribution, r.Config.Quantization, r.Config.TailRatio)
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
