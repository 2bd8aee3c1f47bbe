package mechanism

import (
	"context"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// IterationInfo carries the diagnostics of one outer iteration.
type IterationInfo struct {
	Iteration   int     `json:"iteration"`
	Step        float64 `json:"step"`
	Primal      float64 `json:"primal"`
	Smoothed    float64 `json:"smoothed"`
	Decrement   float64 `json:"decrement"`
	Temperature float64 `json:"temperature"`
	// ArgmaxShift is the shift 1..n attaining the primal objective.
	ArgmaxShift int `json:"argmaxShift"`
	// ShiftFraction is ArgmaxShift/n.
	ShiftFraction float64 `json:"shiftFraction"`
	Feasible      bool    `json:"feasible"`
	Gap           float64 `json:"gap"`
	Fallback      bool    `json:"fallback,omitempty"`
	Floored       bool    `json:"floored,omitempty"`
	// Residual is the Euclidean norm of A·p - b after the step.
	Residual float64 `json:"residual"`
	// Distribution is a copy of the iterate, filled at verbosity 2 only.
	Distribution []float64 `json:"distribution,omitempty"`
}

// Observer receives per-iteration diagnostics. Observe is called
// synchronously from the solver loop.
type Observer interface {
	Observe(info IterationInfo)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(info IterationInfo)

// Observe calls f(info).
func (f ObserverFunc) Observe(info IterationInfo) { f(info) }

// State is the part of the solver that carries over between iterations.
type State struct {
	P           []float64
	Temperature float64
	Feasible    bool
	Iteration   int
}

// Solver runs the temperature continuation for one configuration.
type Solver struct {
	cfg   Config
	model *Model
	a     *mat.Dense
}

// NewSolver validates cfg and builds the model.
func NewSolver(cfg Config) (*Solver, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg, model: model, a: constraintMatrix(model)}, nil
}

// Model returns the grid and constraint model.
func (s *Solver) Model() *Model { return s.model }

// InitialState returns the starting iterate at the initial temperature.
func (s *Solver) InitialState() State {
	return State{
		P:           s.model.InitialGuess(),
		Temperature: s.cfg.InitialTemperature,
	}
}

// Step performs one Newton iteration from st and returns the next state. done
// reports that the duality gap estimate at st is below tolerance, in which
// case the returned state is st itself.
func (s *Solver) Step(st State) (next State, info IterationInfo, done bool, err error) {
	m := s.model
	t := st.Temperature
	n := m.Quantization

	allobj := ShiftObjectives(m, st.P)
	sm := NewSoftmax(allobj, t)
	grads := ShiftGradients(m, st.P)
	grad := AggregateGradient(grads, sm.Eta)
	h := RegularizedHessian(BandedHessian(m, st.P, sm.Eta), grads, sm.Eta, t)
	res := m.Residual(st.P)

	dir, err := NewtonDirection(h, grad, s.a, res[:])
	if err != nil {
		return st, info, false, err
	}

	dec := math.Max(dir.Decrement, 0)
	gap := dec + SmoothingGap(n, t)
	info = IterationInfo{
		Iteration:     st.Iteration,
		Primal:        sm.Primal,
		Smoothed:      sm.Value,
		Decrement:     dir.Decrement,
		Temperature:   t,
		ArgmaxShift:   sm.Argmax + 1,
		ShiftFraction: float64(sm.Argmax+1) / float64(n),
		Feasible:      st.Feasible,
		Gap:           gap,
		Fallback:      dir.Fallback,
		Residual:      math.Hypot(res[0], res[1]),
	}
	if st.Feasible && gap < s.cfg.Tol {
		return st, info, true, nil
	}

	// The smoothed subproblem is solved to tolerance: only the temperature
	// needs to move, and a line search could not satisfy the Armijo test.
	if st.Feasible && dec < s.cfg.Tol/2 {
		next = st
		next.Temperature = t * s.cfg.TemperatureGrowth
		next.Iteration = st.Iteration + 1
		return next, info, false, nil
	}

	slope := floats.Dot(grad, dir.V)
	out := lineSearch(m, st.P, dir.V, sm.Value, slope, t, st.Feasible, s.cfg.StepFloor)

	next = State{
		P:           out.P,
		Temperature: t,
		Feasible:    st.Feasible || out.Step == 1,
		Iteration:   st.Iteration + 1,
	}
	if out.Step == 1 {
		next.Temperature = t * s.cfg.TemperatureGrowth
	}

	after := m.Residual(out.P)
	info.Step = out.Step
	info.Primal = out.Softmax.Primal
	info.Smoothed = out.Softmax.Value
	info.ArgmaxShift = out.Softmax.Argmax + 1
	info.ShiftFraction = float64(out.Softmax.Argmax+1) / float64(n)
	info.Feasible = next.Feasible
	info.Floored = out.Floored
	info.Residual = math.Hypot(after[0], after[1])
	return next, info, false, nil
}

// Result is the converged (or last) state of a solve.
type Result struct {
	Config Config
	Model  *Model
	// Grid aliases Model.Points.
	Grid         []float64
	Distribution []float64
	// PrimalObjective is the max over shifts; SmoothedObjective the
	// log-sum-exp value at the final temperature.
	PrimalObjective   float64
	SmoothedObjective float64
	ArgmaxShift       int
	Temperature       float64
	Iterations        int
	Gap               float64
	Feasible          bool
	FallbackCount     int
}

// Sampler returns a sampler over the result distribution.
func (r *Result) Sampler() (*Sampler, error) {
	return NewSampler(r.Model.Points, r.Distribution, r.Model.Quantization, r.Model.TailRatio)
}

// Solve runs the continuation until the duality gap estimate is below
// cfg.Tol. obs may be nil. On failure the partial result is returned together
// with a *SolveError.
func Solve(ctx context.Context, cfg Config, obs Observer) (*Result, error) {
	solver, err := NewSolver(cfg)
	if err != nil {
		return nil, err
	}
	return solver.Run(ctx, obs)
}

// Run iterates from the initial state.
func (s *Solver) Run(ctx context.Context, obs Observer) (*Result, error) {
	st := s.InitialState()
	tracker := NewStallTracker(StallConfig{Patience: s.cfg.MaxStall})
	fallbacks := 0
	gap := math.Inf(1)

	fail := func(err error) (*Result, error) {
		return s.result(st, gap, fallbacks), &SolveError{Iteration: st.Iteration, Gap: gap, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if st.Iteration >= s.cfg.MaxIter {
			return fail(ErrNotConverged)
		}

		next, info, done, err := s.Step(st)
		if err != nil {
			return fail(err)
		}
		gap = info.Gap
		if info.Fallback {
			fallbacks++
			if s.cfg.Verbosity >= 1 {
				slog.Warn("Cholesky factorization failed, solved augmented system",
					"iteration", info.Iteration,
					"temperature", info.Temperature,
				)
			}
		}
		if s.cfg.Verbosity >= 1 {
			slog.Info("Iteration",
				"iteration", info.Iteration,
				"step", info.Step,
				"primal", info.Primal,
				"decrement", info.Decrement,
				"temperature", info.Temperature,
				"shift_fraction", info.ShiftFraction,
				"feasible", info.Feasible,
				"gap", info.Gap,
			)
		}
		if obs != nil {
			if s.cfg.Verbosity >= 2 {
				info.Distribution = append([]float64(nil), next.P...)
			}
			obs.Observe(info)
		}

		if done {
			if s.cfg.Verbosity >= 1 {
				slog.Info("Converged",
					"iterations", st.Iteration,
					"primal", info.Primal,
					"gap", info.Gap,
					"fallbacks", fallbacks,
				)
			}
			return s.result(st, gap, fallbacks), nil
		}

		stalled := tracker.Update(info.Primal, info.Floored)
		st = next
		if stalled {
			return fail(ErrStalled)
		}
	}
}

func (s *Solver) result(st State, gap float64, fallbacks int) *Result {
	allobj := ShiftObjectives(s.model, st.P)
	sm := NewSoftmax(allobj, st.Temperature)
	return &Result{
		Config:            s.cfg,
		Model:             s.model,
		Grid:              s.model.Points,
		Distribution:      st.P,
		PrimalObjective:   sm.Primal,
		SmoothedObjective: sm.Value,
		ArgmaxShift:       sm.Argmax + 1,
		Temperature:       st.Temperature,
		Iterations:        st.Iteration,
		Gap:               gap,
		Feasible:          st.Feasible,
		FallbackCount:     fallbacks,
	}
}
