package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var listen string
	var checkOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog and on-demand verdicts over HTTP",
		Long: "Starts a read-only HTTP server exposing /healthz, /topology, /catalog, /drift and " +
			"/relations/{database}/{name}/verdict. With DRIFT_SCHEDULE set, every model is re-verified on that schedule.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			a, cfg, logger, err := o.newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				cfg.ListenAddr = listen
			}

			if a.Monitor != nil {
				if checkOnStart {
					a.Monitor.RunOnce(ctx)
				}
				if err := a.Monitor.Start(); err != nil {
					return err
				}
				defer a.Monitor.Stop()
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           a.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       120 * time.Second,
			}

			// Graceful shutdown
			go func() {
				<-ctx.Done()
				logger.Info("shutting down server")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "cluster", cfg.Cluster, "drift_schedule", cfg.DriftSchedule)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().BoolVar(&checkOnStart, "check-on-start", false, "Run one drift check before serving")
	return cmd
}
