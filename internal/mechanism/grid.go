package mechanism

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"
)

// Model is the immutable quantization grid together with the two linear
// constraint rows A = [Cost; Mass] and right hand side b = [C; 1].
type Model struct {
	// Half is N, the number of bins on each side of zero.
	Half int
	// Quantization is n, the number of bins per unit.
	Quantization int
	// XMax is the half-range after alignment to a whole number of bins.
	XMax         float64
	TailRatio    float64
	CostExponent float64
	Mode         Mode

	// Points holds the 2N+1 bin centers (i-N)/n.
	Points []float64
	// Cost is the expected-cost row: Cost·p is the expected |x|^cexp.
	Cost []float64
	// Mass is the normalization row. The boundary entries carry the geometric
	// tail factor 1/(1-r).
	Mass []float64
	// Target is b = [C, 1].
	Target [2]float64
}

// NewModel builds the grid and the constraint rows for cfg.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	half := cfg.halfBins()
	n := cfg.Quantization
	l := 2*half + 1
	m := &Model{
		Half:         half,
		Quantization: n,
		XMax:         float64(half) / float64(n),
		TailRatio:    cfg.TailRatio,
		CostExponent: cfg.CostExponent,
		Mode:         cfg.Mode,
		Points:       make([]float64, l),
		Cost:         make([]float64, l),
		Mass:         make([]float64, l),
		Target:       [2]float64{cfg.CostBound, 1},
	}

	width := 1 / float64(n)
	for i := range m.Points {
		x := float64(i-half) * width
		m.Points[i] = x
		m.Mass[i] = 1
		switch cfg.Mode {
		case ModeExact:
			m.Cost[i] = binCostIntegral(x-width/2, x+width/2, cfg.CostExponent) * float64(n)
		case ModeBinFloor:
			m.Cost[i] = binFloorCost(x, width, cfg.CostExponent)
		}
	}

	tailMass := 1 / (1 - cfg.TailRatio)
	m.Mass[0], m.Mass[l-1] = tailMass, tailMass

	switch cfg.Mode {
	case ModeExact:
		m.Cost[0] += tailCostBound(half, n, cfg.TailRatio, cfg.CostExponent)
		m.Cost[l-1] += tailCostBound(half, n, cfg.TailRatio, cfg.CostExponent)
	case ModeBinFloor:
		// every tail bin costs at least as much as the boundary bin floor
		tail := m.Cost[0] * cfg.TailRatio / (1 - cfg.TailRatio)
		m.Cost[0] += tail
		m.Cost[l-1] += tail
	}
	return m, nil
}

// Len is the grid length 2N+1.
func (m *Model) Len() int { return len(m.Points) }

// Width is the bin width 1/n.
func (m *Model) Width() float64 { return 1 / float64(m.Quantization) }

// Residual returns A·p - b as [cost, mass].
func (m *Model) Residual(p []float64) [2]float64 {
	return [2]float64{
		floats.Dot(m.Cost, p) - m.Target[0],
		floats.Dot(m.Mass, p) - m.Target[1],
	}
}

// InitialGuess returns a heavy-tailed, symmetric starting distribution shaped
// by the cost target, scaled so that the mass constraint holds exactly.
func (m *Model) InitialGuess() []float64 {
	p := make([]float64, m.Len())
	for i, x := range m.Points {
		p[i] = 1 / (1 + math.Pow(math.Abs(x), m.CostExponent)/m.Target[0])
	}
	floats.Scale(1/floats.Dot(m.Mass, p), p)
	return p
}

// costAntiderivative is the antiderivative of |x|^c.
func costAntiderivative(x, c float64) float64 {
	v := math.Pow(math.Abs(x), c+1) / (c + 1)
	if x < 0 {
		return -v
	}
	return v
}

// binCostIntegral integrates |x|^c over [a, b].
func binCostIntegral(a, b, c float64) float64 {
	return costAntiderivative(b, c) - costAntiderivative(a, c)
}

// binFloorCost is the minimum of |x|^c over the bin centered at x.
func binFloorCost(x, width, c float64) float64 {
	d := math.Abs(x) - width/2
	if d <= 0 {
		return 0
	}
	return math.Pow(d, c)
}

// tailCostBound bounds the expected cost of the geometric tail beyond one
// boundary bin, sum_{j>=1} r^j * mean cost of bin N+j, per unit of boundary
// mass. The sum is dominated by an integral with a closed form in the upper
// incomplete gamma function, so the result over-estimates the tail cost.
func tailCostBound(half, n int, r, c float64) float64 {
	lambda := -float64(n) * math.Log(r)
	a := c + 1
	x := lambda * (float64(half) + 1.5) / float64(n)

	lgam, _ := math.Lgamma(a)
	q := mathext.GammaIncRegComp(a, x)
	var logQ float64
	if q > 0 {
		logQ = math.Log(q)
	} else {
		// asymptotic Q(a, x) ~ x^(a-1) e^-x / Gamma(a)
		logQ = (a-1)*math.Log(x) - x - lgam
	}
	logT := math.Log(float64(n)) - (float64(half)+1.5)*math.Log(r) - a*math.Log(lambda) + lgam + logQ
	return math.Exp(logT)
}
