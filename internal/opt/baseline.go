package opt

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
)

// Family is a parametric noise distribution on the solver grid.
type Family struct {
	Name string
	// Lower and Upper bound the parameters.
	Lower, Upper []float64
	// Shape returns unnormalized positive weights for the 2N+1 bins.
	Shape func(m *mechanism.Model, params []float64) []float64
}

// Geometric is the discretized two-sided geometric law p_i ∝ ρ^|i-N|.
var Geometric = Family{
	Name:  "geometric",
	Lower: []float64{1e-3},
	Upper: []float64{1 - 1e-3},
	Shape: func(m *mechanism.Model, params []float64) []float64 {
		rho := params[0]
		p := make([]float64, m.Len())
		for i := range p {
			p[i] = math.Pow(rho, math.Abs(float64(i-m.Half)))
		}
		return p
	},
}

// Plateau is flat for the central bins |i-N| <= w·N and geometric beyond,
// in the spirit of staircase mechanisms.
var Plateau = Family{
	Name:  "plateau",
	Lower: []float64{1e-3, 0},
	Upper: []float64{1 - 1e-3, 1},
	Shape: func(m *mechanism.Model, params []float64) []float64 {
		rho, width := params[0], math.Round(params[1]*float64(m.Half))
		p := make([]float64, m.Len())
		for i := range p {
			d := math.Abs(float64(i - m.Half))
			p[i] = math.Pow(rho, math.Max(d-width, 0))
		}
		return p
	},
}

// Families lists the baseline families in search order.
var Families = []Family{Geometric, Plateau}

// BaselineResult is the best member of one family.
type BaselineResult struct {
	Family       string    `json:"family"`
	Params       []float64 `json:"params"`
	Distribution []float64 `json:"distribution"`
	// PrimalObjective is max_k D_k of the feasible distribution.
	PrimalObjective float64 `json:"primalObjective"`
	// Cost is the expected cost Cost·p, at most the configured bound.
	Cost float64 `json:"cost"`
}

const minWeight = 1e-250

// feasible normalizes shape against the mass row and mixes it with the point
// mass on the center bin just enough to meet the cost bound.
func feasible(m *mechanism.Model, shape []float64) []float64 {
	p := make([]float64, len(shape))
	for i, v := range shape {
		// keep far tails representable
		p[i] = math.Max(v, minWeight)
	}
	floats.Scale(1/floats.Dot(m.Mass, p), p)

	cost := floats.Dot(m.Cost, p)
	bound := m.Target[0]
	if cost <= bound {
		return p
	}
	center := m.Cost[m.Half]
	alpha := (cost - bound) / (cost - center)
	floats.Scale(1-alpha, p)
	p[m.Half] += alpha
	return p
}

// Baseline searches every family with optimizer and returns the best feasible
// member of each, sorted by objective.
func Baseline(cfg mechanism.Config, optimizer Optimizer) ([]BaselineResult, error) {
	m, err := mechanism.NewModel(cfg)
	if err != nil {
		return nil, err
	}
	if m.Cost[m.Half] >= m.Target[0] {
		return nil, fmt.Errorf("cost bound %v does not exceed the center bin cost %v", m.Target[0], m.Cost[m.Half])
	}

	results := make([]BaselineResult, 0, len(Families))
	for _, fam := range Families {
		eval := func(params []float64) float64 {
			p := feasible(m, fam.Shape(m, params))
			return floats.Max(mechanism.ShiftObjectives(m, p))
		}
		params, best := optimizer.Run(eval, fam.Lower, fam.Upper, len(fam.Lower))

		p := feasible(m, fam.Shape(m, params))
		res := BaselineResult{
			Family:          fam.Name,
			Params:          params,
			Distribution:    p,
			PrimalObjective: floats.Max(mechanism.ShiftObjectives(m, p)),
			Cost:            floats.Dot(m.Cost, p),
		}
		slog.Debug("Baseline family searched",
			"family", fam.Name,
			"params", params,
			"objective", res.PrimalObjective,
			"optimizer_cost", best,
		)
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PrimalObjective < results[j].PrimalObjective })
	return results, nil
}
