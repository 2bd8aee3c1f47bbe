package mechanism

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Source is a uniform random source on [0, 1). *rand.Rand from math/rand and
// math/rand/v2 both satisfy it.
type Source interface {
	Float64() float64
}

// Sampler draws from a converged distribution. It is read-only after
// construction and may be shared by goroutines that each use their own Source.
type Sampler struct {
	points []float64
	p      []float64
	cdf    []float64
	width  float64
	ratio  float64
}

// NewSampler builds the cumulative distribution over points. The boundary
// bins carry their geometric tail mass p/(1-r).
func NewSampler(points, p []float64, quantization int, ratio float64) (*Sampler, error) {
	if len(points) < 3 || len(points) != len(p) {
		return nil, fmt.Errorf("sampler needs matching grid and distribution of at least 3 bins, got %d and %d", len(points), len(p))
	}
	if quantization <= 0 {
		return nil, fmt.Errorf("quantization must be positive, got %d", quantization)
	}
	if !(ratio > 0 && ratio < 1) {
		return nil, fmt.Errorf("tail ratio must lie in (0, 1), got %v", ratio)
	}
	if floats.Min(p) < 0 {
		return nil, fmt.Errorf("distribution has negative entries")
	}

	l := len(p)
	weighted := make([]float64, l)
	copy(weighted, p)
	weighted[0] /= 1 - ratio
	weighted[l-1] /= 1 - ratio
	cdf := floats.CumSum(make([]float64, l), weighted)
	if !(cdf[l-1] > 0) {
		return nil, fmt.Errorf("distribution has no mass")
	}

	return &Sampler{
		points: append([]float64(nil), points...),
		p:      append([]float64(nil), p...),
		cdf:    cdf,
		width:  1 / float64(quantization),
		ratio:  ratio,
	}, nil
}

// Mass is the total probability including the tails. It is 1 for a feasible
// distribution; draws are normalized by it either way.
func (s *Sampler) Mass() float64 {
	return s.cdf[len(s.cdf)-1]
}

// Sample draws one value. Interior bins return the bin center plus a uniform
// dither; boundary bins first move outward by a geometric number of bins.
func (s *Sampler) Sample(src Source) float64 {
	u := src.Float64() * s.Mass()
	l := len(s.cdf)
	i := sort.Search(l, func(i int) bool { return s.cdf[i] > u })
	if i == l {
		i = l - 1
	}

	x := s.points[i] + (src.Float64()-0.5)*s.width
	if i == 0 || i == l-1 {
		offset := s.geometric(src) * s.width
		if i == 0 {
			x -= offset
		} else {
			x += offset
		}
	}
	return x
}

// SampleN draws k values.
func (s *Sampler) SampleN(src Source, k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = s.Sample(src)
	}
	return out
}

// geometric draws G with P(G >= j) = r^j.
func (s *Sampler) geometric(src Source) float64 {
	u := 1 - src.Float64() // (0, 1]
	return math.Floor(math.Log(u) / math.Log(s.ratio))
}

// Moment returns E|X|^c under the sampler's law, with tails summed until their
// weight is negligible.
func (s *Sampler) Moment(c float64) float64 {
	l := len(s.p)
	h := s.width
	binMean := func(x float64) float64 {
		return binCostIntegral(x-h/2, x+h/2, c) / h
	}

	var sum float64
	for i := 1; i < l-1; i++ {
		sum += s.p[i] * binMean(s.points[i])
	}

	var tail float64
	rj := 1.0
	for j := 0; j < 1e6 && rj > 1e-18; j++ {
		off := float64(j) * h
		tail += rj * (binMean(s.points[0]-off)*s.p[0] + binMean(s.points[l-1]+off)*s.p[l-1])
		rj *= s.ratio
	}
	return (sum + tail) / s.Mass()
}
