package mechanism

import (
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestLineSearchKeepsPositivity(t *testing.T) {
	m := newTestModel(t, 4, 2, ModeExact)
	p := m.InitialGuess()

	// p + v = -p/2 and p + v/2 = p/4
	v := make([]float64, len(p))
	floats.ScaleTo(v, -1.5, p)

	sm := NewSoftmax(ShiftObjectives(m, p), 1)
	out := lineSearch(m, p, v, sm.Value, -1, 1, false, 1e-8)
	if out.Step != 0.5 {
		t.Errorf("Step = %v, want 0.5", out.Step)
	}
	if out.Floored {
		t.Error("positive step should not be reported as floored")
	}
	if floats.Min(out.P) <= 0 {
		t.Error("accepted point has non-positive entries")
	}
	if !floats.EqualApprox(out.Allobj, ShiftObjectives(m, out.P), 1e-14) {
		t.Error("Allobj does not match the accepted point")
	}
}

func TestLineSearchFloorsOnAscent(t *testing.T) {
	m := newTestModel(t, 4, 2, ModeExact)
	p := randomDistribution(m, 11)
	const temp = 2.0

	sm := NewSoftmax(ShiftObjectives(m, p), temp)
	grad := AggregateGradient(ShiftGradients(m, p), sm.Eta)
	slope := floats.Dot(grad, grad)

	out := lineSearch(m, p, grad, sm.Value, slope, temp, true, 1e-8)
	if !out.Floored {
		t.Fatal("ascent direction should exhaust the line search")
	}
	if out.Step <= 0 || out.Step >= 1e-7 {
		t.Errorf("Step = %v, want the last positive step above the floor", out.Step)
	}
}

func TestLineSearchFloorsWithoutPositiveCandidate(t *testing.T) {
	m := newTestModel(t, 4, 2, ModeExact)
	p := m.InitialGuess()
	v := make([]float64, len(p))
	v[3] = -1e12

	sm := NewSoftmax(ShiftObjectives(m, p), 1)
	out := lineSearch(m, p, v, sm.Value, -1, 1, false, 1e-8)
	if !out.Floored || out.Step != 0 {
		t.Errorf("Floored = %v, Step = %v, want floored at step 0", out.Floored, out.Step)
	}
	if !floats.Equal(out.P, p) {
		t.Error("iterate should be unchanged when no candidate is positive")
	}
}

func TestLineSearchDecreasesWhenFeasible(t *testing.T) {
	solver, err := NewSolver(validConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	st := solver.InitialState()
	for i := 0; i < 200 && !st.Feasible; i++ {
		st, _, _, err = solver.Step(st)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if !st.Feasible {
		t.Fatal("solver never reached a feasible point")
	}

	m := solver.Model()
	sm := NewSoftmax(ShiftObjectives(m, st.P), st.Temperature)
	grads := ShiftGradients(m, st.P)
	grad := AggregateGradient(grads, sm.Eta)
	h := RegularizedHessian(BandedHessian(m, st.P, sm.Eta), grads, sm.Eta, st.Temperature)
	res := m.Residual(st.P)
	dir, err := NewtonDirection(h, grad, constraintMatrix(m), res[:])
	if err != nil {
		t.Fatalf("NewtonDirection: %v", err)
	}
	slope := floats.Dot(grad, dir.V)
	if slope >= 0 {
		t.Fatalf("Newton direction is not a descent direction: slope %v", slope)
	}

	out := lineSearch(m, st.P, dir.V, sm.Value, slope, st.Temperature, true, 1e-8)
	if out.Floored {
		t.Fatal("line search floored on a descent direction")
	}
	if out.Softmax.Value >= sm.Value {
		t.Errorf("smoothed objective %v did not decrease from %v", out.Softmax.Value, sm.Value)
	}
}
