package mechanism

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax is the temperature-t log-sum-exp aggregation of the shift objectives.
type Softmax struct {
	// Primal is max_k allobj[k], the true minimax objective.
	Primal float64
	// Value is log(sum exp(t·(allobj-Primal)))/t + Primal.
	Value float64
	// Argmax is the index of the maximizing shift (shift Argmax+1).
	Argmax int
	// Eta holds the softmax weights, summing to one.
	Eta []float64
}

// NewSoftmax aggregates allobj at temperature t.
func NewSoftmax(allobj []float64, t float64) Softmax {
	argmax := floats.MaxIdx(allobj)
	primal := allobj[argmax]

	eta := make([]float64, len(allobj))
	for k, v := range allobj {
		eta[k] = math.Exp(t * (v - primal))
	}
	sum := floats.Sum(eta)
	floats.Scale(1/sum, eta)

	return Softmax{
		Primal: primal,
		Value:  math.Log(sum)/t + primal,
		Argmax: argmax,
		Eta:    eta,
	}
}

// SmoothingGap bounds Value - Primal for this problem class at temperature t.
func SmoothingGap(n int, t float64) float64 {
	return float64(n) / math.E / t
}
