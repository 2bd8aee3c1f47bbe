package mechanism

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A shift divergence is a sum of pair terms phi(a, b) = (a-b)·log(a/b) with
// a = wa·p[ia] and b = wb·p[ib]. Interior pairs have unit weights; pairs that
// reach into a geometric tail carry a power of the tail ratio on the tail side.

// forEachPair calls fn for every pair term of shift k.
func forEachPair(m *Model, k int, fn func(ia, ib int, wa, wb float64)) {
	l := m.Len()
	for i := 0; i+k < l; i++ {
		fn(i, i+k, 1, 1)
	}
	if m.Mode != ModeExact {
		return
	}
	r := m.TailRatio
	rj := 1.0
	for j := 1; j < k; j++ {
		rj *= r
		// left tail bin -j against grid entry k-j
		fn(0, k-j, rj, 1)
		// grid entry l-1-k+j against right tail bin l-1+j
		fn(l-1-k+j, l-1, 1, rj)
	}
}

// tailCorrection is the coefficient of (p[0] + p[l-1]) in the exact-mode
// divergence of shift k. It collects the tail-to-tail pairs and the pair of
// each boundary entry with its own tail, which have the fixed ratio r^k.
func tailCorrection(m *Model, k int) float64 {
	if m.Mode != ModeExact {
		return 0
	}
	r := m.TailRatio
	rk := math.Pow(r, float64(k))
	return float64(k) * (1 - rk) / (1 - r) * -math.Log(r)
}

// ShiftObjectives returns allobj: the divergence between p and p shifted by k
// bins, for k = 1..n. Entry k-1 belongs to shift k.
func ShiftObjectives(m *Model, p []float64) []float64 {
	n := m.Quantization
	l := m.Len()
	out := make([]float64, n)
	for k := 1; k <= n; k++ {
		var sum float64
		forEachPair(m, k, func(ia, ib int, wa, wb float64) {
			a, b := wa*p[ia], wb*p[ib]
			sum += (a - b) * math.Log(a/b)
		})
		sum += tailCorrection(m, k) * (p[0] + p[l-1])
		out[k-1] = sum
	}
	return out
}

// ShiftGradients returns the gradient of every shift objective with respect
// to p, as n rows of grid length.
func ShiftGradients(m *Model, p []float64) [][]float64 {
	n := m.Quantization
	l := m.Len()
	grads := make([][]float64, n)
	for k := 1; k <= n; k++ {
		g := make([]float64, l)
		forEachPair(m, k, func(ia, ib int, wa, wb float64) {
			a, b := wa*p[ia], wb*p[ib]
			lr := math.Log(a / b)
			g[ia] += wa * (lr + 1 - b/a)
			g[ib] += wb * (-lr + 1 - a/b)
		})
		c := tailCorrection(m, k)
		g[0] += c
		g[l-1] += c
		grads[k-1] = g
	}
	return grads
}

// AggregateGradient is the eta-weighted sum of the per-shift gradients.
func AggregateGradient(grads [][]float64, eta []float64) []float64 {
	out := make([]float64, len(grads[0]))
	for k, g := range grads {
		if eta[k] == 0 {
			continue
		}
		floats.AddScaled(out, eta[k], g)
	}
	return out
}

// BandedHessian builds sum_k eta[k]·∇²D_k. Every pair term couples entries at
// most n apart, so the result is a symmetric band matrix of half-bandwidth n.
func BandedHessian(m *Model, p, eta []float64) *mat.SymBandDense {
	l := m.Len()
	n := m.Quantization
	diag := make([]float64, l)
	bands := make([]float64, l*n) // bands[i*n+d-1] couples i and i+d
	for k := 1; k <= n; k++ {
		w := eta[k-1]
		if w == 0 {
			continue
		}
		forEachPair(m, k, func(ia, ib int, wa, wb float64) {
			a, b := wa*p[ia], wb*p[ib]
			s := w * (a + b)
			diag[ia] += s * wa * wa / (a * a)
			diag[ib] += s * wb * wb / (b * b)
			lo, hi := ia, ib
			if lo > hi {
				lo, hi = hi, lo
			}
			bands[lo*n+hi-lo-1] -= s * wa * wb / (a * b)
		})
	}

	h := mat.NewSymBandDense(l, n, nil)
	for i := 0; i < l; i++ {
		h.SetSymBand(i, i, diag[i])
		for d := 1; d <= n && i+d < l; d++ {
			h.SetSymBand(i, i+d, bands[i*n+d-1])
		}
	}
	return h
}
