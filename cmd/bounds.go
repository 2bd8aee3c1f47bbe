package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
)

var (
	boundsFlags   configFlags
	boundsTimeout time.Duration
)

var boundsCmd = &cobra.Command{
	Use:   "bounds",
	Short: "Bracket the optimum between the exact and bin-floor models",
	Long: `Solves the same configuration in exact and bin-floor mode concurrently.
The exact objective is achievable, the bin-floor objective is a lower bound on
any mechanism with the given cost, so together they bracket the optimum.`,
	RunE: runBounds,
}

func init() {
	addConfigFlags(boundsCmd, &boundsFlags)
	boundsCmd.Flags().DurationVar(&boundsTimeout, "timeout", 0, "Abort after this duration (0 = no limit)")
	rootCmd.AddCommand(boundsCmd)
}

func runBounds(cmd *cobra.Command, args []string) error {
	cfg, err := boundsFlags.config()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(boundsTimeout)
	defer cancel()

	start := time.Now()
	b, err := mechanism.SolveBounds(ctx, cfg)
	if err != nil {
		return err
	}

	slog.Info("Bounds complete",
		"elapsed", time.Since(start),
		"upper", b.Upper.PrimalObjective,
		"lower", b.Lower.PrimalObjective,
	)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Upper (exact):     %.10g after %d iterations\n", b.Upper.PrimalObjective, b.Upper.Iterations)
	fmt.Fprintf(w, "Lower (bin-floor): %.10g after %d iterations\n", b.Lower.PrimalObjective, b.Lower.Iterations)
	fmt.Fprintf(w, "Relative gap:      %.4g\n", b.RelativeGap())
	return nil
}
