package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/server"
	"github.com/cwbudde/shiftnoise/internal/store"
)

var (
	listenAddr string
	noSave     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts an HTTP server that runs solves as background jobs. Jobs are
created with POST /api/v1/jobs, progress streams over server-sent events and
the current distribution is rendered at /api/v1/jobs/<id>/plot.png.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().BoolVar(&noSave, "no-save", false, "Keep results in memory instead of the record store")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var records *store.FSStore
	if !noSave {
		var err error
		records, err = store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create record store: %w", err)
		}
	}

	srv := server.NewServer(listenAddr, records)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case s := <-sig:
		slog.Info("Received signal", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
