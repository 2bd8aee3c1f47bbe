package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
	"github.com/cwbudde/shiftnoise/internal/store"
)

var (
	solveFlags   configFlags
	saveRecord   bool
	writeTrace   bool
	formatName   string
	printJSON    bool
	solveTimeout time.Duration
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Compute the optimal mechanism for one configuration",
	Long: `Runs the temperature continuation Newton solver until the duality gap
estimate drops below --tol and prints the result. With --save the distribution
is written to the record store under --data-dir.`,
	Example: `  shiftnoise solve -n 4 --xmax 8 -C 0.25
  shiftnoise solve -n 2 --xmax 4 -C 1 --mode bin-floor --save --format msgpack`,
	RunE: runSolve,
}

func init() {
	addConfigFlags(solveCmd, &solveFlags)
	solveCmd.Flags().BoolVar(&saveRecord, "save", false, "Save the result to the record store")
	solveCmd.Flags().BoolVar(&writeTrace, "trace", false, "Write the iteration trace next to the record")
	solveCmd.Flags().StringVar(&formatName, "format", "json", "Record format: json or msgpack")
	solveCmd.Flags().BoolVar(&printJSON, "json", false, "Print the full record as JSON instead of a summary")
	solveCmd.Flags().DurationVar(&solveTimeout, "timeout", 0, "Abort the solve after this duration (0 = no limit)")
	rootCmd.AddCommand(solveCmd)
}

// signalContext is cancelled on interrupt and, if timeout is positive, after
// timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := solveFlags.config()
	if err != nil {
		return err
	}
	format, err := store.ParseFormat(formatName)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(solveTimeout)
	defer cancel()

	var records *store.FSStore
	if saveRecord || writeTrace {
		records, err = store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create record store: %w", err)
		}
		records = records.WithFormat(format)
	}

	var obs mechanism.Observer
	if writeTrace {
		trace, err := store.NewTraceWriter(records.BaseDir(), store.RecordName(cfg), false)
		if err != nil {
			return err
		}
		defer trace.Close()
		obs = trace
	}

	slog.Info("Starting solve",
		"mode", cfg.Mode,
		"quantization", cfg.Quantization,
		"xmax", cfg.XMax,
		"cost_bound", cfg.CostBound,
		"cost_exponent", cfg.CostExponent,
	)

	start := time.Now()
	res, err := mechanism.Solve(ctx, cfg, obs)
	elapsed := time.Since(start)
	if err != nil {
		var serr *mechanism.SolveError
		if errors.As(err, &serr) && res != nil {
			slog.Warn("Solve ended early",
				"iteration", serr.Iteration,
				"gap", serr.Gap,
				"primal", res.PrimalObjective,
			)
		}
		return err
	}

	slog.Info("Solve complete",
		"elapsed", elapsed,
		"iterations", res.Iterations,
		"primal", res.PrimalObjective,
		"gap", res.Gap,
		"fallbacks", res.FallbackCount,
	)

	rec := store.NewRecord(res)
	if saveRecord {
		if err := records.SaveRecord(rec); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}
		slog.Info("Saved record", "name", rec.Name, "format", format)
	}

	if printJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printSummary(cmd.OutOrStdout(), res, elapsed)
	return nil
}

// printSummary writes a short human-readable report of res.
func printSummary(w io.Writer, res *mechanism.Result, elapsed time.Duration) {
	cfg := res.Config
	m := res.Model
	fmt.Fprintf(w, "Mode:          %s\n", cfg.Mode)
	fmt.Fprintf(w, "Grid:          %d bins of width %.6g on [%.6g, %.6g]\n",
		m.Len(), m.Width(), m.Points[0], m.Points[m.Len()-1])
	fmt.Fprintf(w, "Objective:     %.10g (shift %d/%d)\n", res.PrimalObjective, res.ArgmaxShift, m.Quantization)
	fmt.Fprintf(w, "Smoothed:      %.10g at t=%.4g\n", res.SmoothedObjective, res.Temperature)
	fmt.Fprintf(w, "Gap:           %.3g\n", res.Gap)
	fmt.Fprintf(w, "Cost:          %.10g (bound %.6g)\n", floats.Dot(m.Cost, res.Distribution), cfg.CostBound)
	fmt.Fprintf(w, "Iterations:    %d in %s\n", res.Iterations, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Center mass:   %.6g\n", res.Distribution[m.Half])
}
