package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imageworker/internal/http/handlers"
	"imageworker/internal/http/httpapi"
	"imageworker/internal/infra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve invocation events over HTTP",
	Long: `Serve exposes POST /runsync and POST /run for invocation events, plus
GET /healthz and GET /variants. With WARMUP=true the models are provisioned
and the engine started before the listener opens.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, err := build(cfg, &logger)
	if err != nil {
		return err
	}
	defer c.supervisor.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Warmup {
		logger.Info().Str("variant", cfg.Variant).Msg("warming up")
		if err := c.handler.Warmup(ctx); err != nil {
			logger.Error().Err(err).Msg("warmup failed; invocations will retry")
		}
	}

	app := handlers.NewApp(c.handler, handlers.EngineStateFunc(func() string {
		return string(c.supervisor.State())
	}), c.handler.Variant().Name, &logger)
	app.Variants = c.registry.Names
	app.Version = cfg.WorkerVersion

	srv := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, httpapi.RouterOptions{
		MaxInFlight: cfg.MaxInFlight,
		RetryAfter:  1,
	}, &logger))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr()).Str("variant", cfg.Variant).Msg("worker listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
