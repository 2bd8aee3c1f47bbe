package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
	"github.com/cwbudde/shiftnoise/internal/opt"
)

var (
	baselineFlags configFlags
	iters         int
	popSize       int
	seed          int64
	compareSolver bool
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Search parametric mechanism families with the mayfly optimizer",
	Long: `Fits geometric and plateau shaped distributions to the cost bound with
the mayfly metaheuristic and reports the best worst-case divergence of each
family. With --compare the Newton solver runs as well.`,
	RunE: runBaseline,
}

func init() {
	addConfigFlags(baselineCmd, &baselineFlags)
	baselineCmd.Flags().IntVar(&iters, "iters", 100, "Max iterations")
	baselineCmd.Flags().IntVar(&popSize, "pop", 30, "Population size")
	baselineCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	baselineCmd.Flags().BoolVar(&compareSolver, "compare", false, "Also run the Newton solver")
	rootCmd.AddCommand(baselineCmd)
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, err := baselineFlags.config()
	if err != nil {
		return err
	}
	if popSize <= 0 {
		return fmt.Errorf("population size must be positive, got %d", popSize)
	}
	if iters <= 0 {
		return fmt.Errorf("iteration count must be positive, got %d", iters)
	}

	start := time.Now()
	results, err := opt.Baseline(cfg, opt.NewMayfly(iters, popSize, seed))
	if err != nil {
		return err
	}
	slog.Info("Baseline search complete", "elapsed", time.Since(start), "families", len(results))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tPARAMS\tOBJECTIVE\tCOST")
	fmt.Fprintln(w, "------\t------\t---------\t----")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.4g\t%.10g\t%.6g\n", r.Family, r.Params, r.PrimalObjective, r.Cost)
	}

	if compareSolver {
		ctx, cancel := signalContext(0)
		defer cancel()
		res, err := mechanism.Solve(ctx, cfg, nil)
		if err != nil {
			w.Flush()
			return err
		}
		fmt.Fprintf(w, "%s\t-\t%.10g\t%.6g\n", "newton", res.PrimalObjective, cfg.CostBound)
	}
	return w.Flush()
}
