package mechanism

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// rankOneShrink scales the subtracted mean-gradient outer product just under t
// so that the regularized Hessian stays strictly positive definite along p.
const rankOneShrink = 0.999

// Direction is a constrained Newton search direction.
type Direction struct {
	V []float64
	// Decrement is -grad·V/2, the estimated gap of the smoothed problem.
	Decrement float64
	// Fallback is set when the Cholesky factorization failed and the dense
	// augmented system was solved instead.
	Fallback bool
}

// RegularizedHessian forms
//
//	H + t·sum_k eta[k]·g_k·g_kᵀ - rankOneShrink·t·ḡ·ḡᵀ
//
// where ḡ is the eta-weighted mean gradient. Exact softmax curvature would
// subtract t·ḡ·ḡᵀ.
func RegularizedHessian(band *mat.SymBandDense, grads [][]float64, eta []float64, t float64) *mat.SymDense {
	l, _ := band.Dims()
	h := mat.NewSymDense(l, nil)
	h.CopySym(band)
	for k, g := range grads {
		if eta[k] == 0 {
			continue
		}
		h.SymRankOne(h, t*eta[k], mat.NewVecDense(l, g))
	}
	mean := AggregateGradient(grads, eta)
	h.SymRankOne(h, -rankOneShrink*t, mat.NewVecDense(l, mean))
	return h
}

// constraintMatrix stacks the cost and mass rows.
func constraintMatrix(m *Model) *mat.Dense {
	a := mat.NewDense(2, m.Len(), nil)
	a.SetRow(0, m.Cost)
	a.SetRow(1, m.Mass)
	return a
}

// NewtonDirection solves the equality-constrained Newton system
//
//	[H Aᵀ; A 0]·[v; w] = [-grad; -rpri]
//
// through a Cholesky factor R of H (H = RᵀR) and a thin SVD of A·R⁻¹. If H is
// numerically not positive definite the augmented system is solved densely.
func NewtonDirection(h *mat.SymDense, grad []float64, a *mat.Dense, rpri []float64) (Direction, error) {
	var chol mat.Cholesky
	if chol.Factorize(h) {
		v, err := choleskyDirection(&chol, grad, a, rpri)
		if err == nil {
			return Direction{V: v, Decrement: -floats.Dot(grad, v) / 2}, nil
		}
	}
	v, err := denseKKTDirection(h, grad, a, rpri)
	if err != nil {
		return Direction{}, err
	}
	return Direction{V: v, Decrement: -floats.Dot(grad, v) / 2, Fallback: true}, nil
}

var errRankDeficient = errors.New("constraint rows are rank deficient in the Cholesky metric")

func choleskyDirection(chol *mat.Cholesky, grad []float64, a *mat.Dense, rpri []float64) ([]float64, error) {
	l := len(grad)
	rows, _ := a.Dims()

	var u mat.TriDense
	chol.UTo(&u)
	r := u.RawTriangular()

	// g̃ = R⁻ᵀ·grad
	gt := make([]float64, l)
	copy(gt, grad)
	blas64.Trsv(blas.Trans, r, blas64.Vector{N: l, Data: gt, Inc: 1})

	// A·R⁻¹, one row at a time: (a_i·R⁻¹)ᵀ = R⁻ᵀ·a_iᵀ
	ar := mat.NewDense(rows, l, nil)
	row := make([]float64, l)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, a)
		blas64.Trsv(blas.Trans, r, blas64.Vector{N: l, Data: row, Inc: 1})
		ar.SetRow(i, row)
	}

	var svd mat.SVD
	if !svd.Factorize(ar, mat.SVDThin) {
		return nil, errRankDeficient
	}
	s := svd.Values(nil)
	if s[len(s)-1] <= s[0]*1e-14 {
		return nil, errRankDeficient
	}
	var us, vs mat.Dense
	svd.UTo(&us)
	svd.VTo(&vs)

	// coef = S⁻¹·Uᵀ·rpri - Vᵀ·g̃
	coef := make([]float64, len(s))
	for j := range s {
		var ur, vg float64
		for i := 0; i < rows; i++ {
			ur += us.At(i, j) * rpri[i]
		}
		for i := 0; i < l; i++ {
			vg += vs.At(i, j) * gt[i]
		}
		coef[j] = ur/s[j] - vg
	}

	// m̃ = -g̃ - V·coef, then v = R⁻¹·m̃
	v := make([]float64, l)
	for i := range v {
		v[i] = -gt[i]
		for j, c := range coef {
			v[i] -= vs.At(i, j) * c
		}
	}
	blas64.Trsv(blas.NoTrans, r, blas64.Vector{N: l, Data: v, Inc: 1})
	return v, nil
}

// denseKKTDirection solves the full augmented system with an LU factorization.
func denseKKTDirection(h mat.Symmetric, grad []float64, a *mat.Dense, rpri []float64) ([]float64, error) {
	l := len(grad)
	rows, _ := a.Dims()
	size := l + rows

	kkt := mat.NewDense(size, size, nil)
	for i := 0; i < l; i++ {
		for j := 0; j < l; j++ {
			kkt.Set(i, j, h.At(i, j))
		}
	}
	for r := 0; r < rows; r++ {
		for j := 0; j < l; j++ {
			v := a.At(r, j)
			kkt.Set(l+r, j, v)
			kkt.Set(j, l+r, v)
		}
	}

	rhs := mat.NewVecDense(size, nil)
	for i := 0; i < l; i++ {
		rhs.SetVec(i, -grad[i])
	}
	for r := 0; r < rows; r++ {
		rhs.SetVec(l+r, -rpri[r])
	}

	var x mat.VecDense
	if err := x.SolveVec(kkt, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return nil, fmt.Errorf("solving augmented system: %w", err)
		}
		// ill-conditioned but solved
	}
	v := make([]float64, l)
	for i := range v {
		v[i] = x.AtVec(i)
	}
	if floats.HasNaN(v) {
		return nil, errors.New("solving augmented system: non-finite direction")
	}
	return v, nil
}
