package mechanism

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Bounds brackets the optimal worst-case divergence of one configuration.
type Bounds struct {
	// Upper is the exact-mode result, an achievable mechanism.
	Upper *Result
	// Lower is the bin-floor relaxation.
	Lower *Result
}

// RelativeGap is (upper-lower)/upper on the primal objectives.
func (b *Bounds) RelativeGap() float64 {
	return (b.Upper.PrimalObjective - b.Lower.PrimalObjective) / b.Upper.PrimalObjective
}

// SolveBounds solves cfg in exact and bin-floor mode concurrently. cfg.Mode is
// ignored.
func SolveBounds(ctx context.Context, cfg Config) (*Bounds, error) {
	exact, floor := cfg, cfg
	exact.Mode = ModeExact
	floor.Mode = ModeBinFloor

	var b Bounds
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := Solve(ctx, exact, nil)
		if err != nil {
			return fmt.Errorf("exact mode: %w", err)
		}
		b.Upper = res
		return nil
	})
	g.Go(func() error {
		res, err := Solve(ctx, floor, nil)
		if err != nil {
			return fmt.Errorf("bin-floor mode: %w", err)
		}
		b.Lower = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &b, nil
}
