package mechanism

import "gonum.org/v1/gonum/floats"

// armijo is the sufficient decrease fraction of the directional derivative.
const armijo = 0.1

// stepOutcome is the accepted point of a line search.
type stepOutcome struct {
	P       []float64
	Step    float64
	Allobj  []float64
	Softmax Softmax
	// Floored is set when the search ran down to the step floor without
	// meeting its acceptance test.
	Floored bool
}

// lineSearch backtracks along v from p by halving the step from 1.
//
// A candidate with a non-positive entry is never accepted. While infeasible
// the longest positive step wins outright. Once feasible a step must decrease
// the smoothed objective by armijo·step·slope. When the step falls below floor
// the last positive candidate is taken regardless; if there is none p is kept.
func lineSearch(m *Model, p, v []float64, fval, slope, t float64, feasible bool, floor float64) stepOutcome {
	cand := make([]float64, len(p))
	var lastPositive []float64
	var lastStep float64

	for dst := 1.0; ; dst /= 2 {
		floats.AddScaledTo(cand, p, dst, v)
		positive := floats.Min(cand) > 0

		if positive {
			if !feasible {
				return accept(m, cand, dst, t, false)
			}
			allobj := ShiftObjectives(m, cand)
			sm := NewSoftmax(allobj, t)
			if sm.Value < fval+armijo*dst*slope {
				return stepOutcome{P: cand, Step: dst, Allobj: allobj, Softmax: sm}
			}
			if lastPositive == nil {
				lastPositive = make([]float64, len(cand))
			}
			copy(lastPositive, cand)
			lastStep = dst
		}

		if dst/2 < floor {
			if lastPositive != nil {
				return accept(m, lastPositive, lastStep, t, true)
			}
			keep := make([]float64, len(p))
			copy(keep, p)
			return accept(m, keep, 0, t, true)
		}
	}
}

func accept(m *Model, p []float64, step, t float64, floored bool) stepOutcome {
	allobj := ShiftObjectives(m, p)
	return stepOutcome{
		P:       p,
		Step:    step,
		Allobj:  allobj,
		Softmax: NewSoftmax(allobj, t),
		Floored: floored,
	}
}
