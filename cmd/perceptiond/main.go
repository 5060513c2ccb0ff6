// perceptiond is the access service: it terminates device TCP
// connections and mirrors session liveness into the shared store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/yulincoder/Controller-Device/internal/config"
	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/limits"
	"github.com/yulincoder/Controller-Device/internal/logging"
	"github.com/yulincoder/Controller-Device/internal/metrics"
	"github.com/yulincoder/Controller-Device/internal/monitoring"
	"github.com/yulincoder/Controller-Device/internal/perception"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file (default: cfg.toml in the working directory, if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, "perceptiond")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	store := kvs.New(cfg.Redis.IP, cfg.Redis.Port)
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		cancel()
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("redis unreachable")
	}
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	limiter := limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{Logger: logger})

	monitoring.NewSystemMonitor(logger, 30*time.Second).Start(ctx)

	server := perception.NewServer(cfg.Perception, logger, store, reg, limiter)
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("perception service start failed")
	}

	metricsErr := make(chan error, 1)
	go func() {
		metricsErr <- runMetricsServer(ctx, cfg.Perception.MetricsAddr, reg, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-server.Err():
		logger.Error().Err(err).Msg("accept loop died")
		stop()
	case err := <-metricsErr:
		if err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
		stop()
	}

	server.Stop()
	logger.Info().Msg("perception service stopped")
}

func runMetricsServer(ctx context.Context, addr string, reg *metrics.Registry, logger zerolog.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339Nano))
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown error")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
