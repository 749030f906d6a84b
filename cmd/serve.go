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

	"github.com/cwbudde/gpumembench/internal/server"
	"github.com/cwbudde/gpumembench/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP benchmark server",
	Long: `Starts an HTTP server that queues benchmark runs, executes them one at a
time on the configured backend, streams per-configuration progress over
server-sent events and saves every finished report to the result store.
Run flags set the defaults of submitted runs.`,
	RunE: runServe,
}

func init() {
	addRunFlags(serveCmd.Flags())
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}

	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	srv := server.NewServer(serveAddr, st, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		slog.Info("Received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
