package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	metricsAddress string
}

func newServeCmd(root *rootFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Process queued work and promote waiting pipelines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address (overrides metrics.address)")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootFlags, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newAppContext(ctx, root.configPath, root.verbose, cmd.ErrOrStderr())
	if err != nil {
		return newCommandError("serve", "initialising services", err, suggestionFor(err))
	}
	defer app.Close()

	// Pipelines whose predecessors finished while no process was serving are
	// promoted before new work is picked up.
	if err := app.Listener.ProcessCompleted(ctx); err != nil {
		app.Logger.Warn(ctx, "initial queue promotion failed", "error", err)
	}

	address := opts.metricsAddress
	if address == "" && app.Config.Metrics.Enabled {
		address = app.Config.Metrics.Address
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Worker.Run(gctx)
	})
	if address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.Metrics.Handler())
		server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			app.Logger.Info(gctx, "serving metrics", "address", address)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return newCommandError("serve", "running worker", err, "Check that the metrics address is free.")
	}
	return nil
}
