// controld is the control service: the HTTP frontend for registry
// queries and synchronous device pushes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/yulincoder/Controller-Device/internal/config"
	"github.com/yulincoder/Controller-Device/internal/control"
	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/logging"
	"github.com/yulincoder/Controller-Device/internal/metrics"
	"github.com/yulincoder/Controller-Device/internal/monitoring"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file (default: cfg.toml in the working directory, if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, "controld")
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
	monitoring.NewSystemMonitor(logger, 30*time.Second).Start(ctx)

	server := control.NewServer(cfg.HTTP, logger, store, reg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("control service error")
		}
		stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("control service shutdown error")
	}
	logger.Info().Msg("control service stopped")
}
