// Command courier runs the webhook job dispatcher: the HTTP API and a
// worker pool delivering due jobs, both against the store selected by
// COURIER_STORE.
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

	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/engine"
)

func main() {
	cfg, err := courier.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("courier stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("courier stopped")
}

func run(ctx context.Context, cfg courier.Config, logger *slog.Logger) error {
	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("store close failed", "error", cerr)
		}
	}()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", cfg.Store, err)
	}

	eng, err := engine.Build(s, engineOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	a, err := api.New(eng, api.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("courier listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting jobs first, then let in-flight deliveries finish.
		httpErr := srv.Shutdown(shutdownCtx)
		engErr := eng.Stop(shutdownCtx)
		return errors.Join(httpErr, engErr)
	})

	return g.Wait()
}
