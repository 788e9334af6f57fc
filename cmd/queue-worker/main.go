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

	"github.com/joho/godotenv"

	"github.com/sungwon/mailqueue/internal/app"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/dispatch"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/metrics"
	"github.com/sungwon/mailqueue/internal/transport"
)

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	once := flag.Bool("once", false, "run a single drain pass and exit")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(app.LoggerConfig(cfg))
	log.Info().Msg("starting queue worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.OpenBackends(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open backends")
	}
	defer backends.Close()

	tr, err := transport.New(app.TransportConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create transport")
	}

	dispatcher := dispatch.New(backends.Queue, backends.Suppressions, tr, log, cfg.Transport.Timeout)
	opts := dispatch.DrainOptions{Limit: cfg.Queue.BatchSize}

	if *once {
		stats, err := dispatcher.Drain(ctx, dispatch.DrainOptions{})
		if err != nil {
			log.Error().Err(err).Msg("drain failed")
			backends.Close()
			os.Exit(1)
		}
		log.Info().Int("attempted", stats.Attempted).Msg("single pass complete")
		return
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = metrics.NewServer(cfg.Metrics.Addr, log, backends.Checks)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx, cfg.Queue.PollInterval, opts)
		close(done)
	}()
	log.Info().
		Str("transport", tr.Name()).
		Dur("poll_interval", cfg.Queue.PollInterval).
		Int("batch_size", cfg.Queue.BatchSize).
		Msg("dispatcher running")

	<-ctx.Done()
	log.Info().Msg("shutting down queue worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("dispatcher did not stop before shutdown timeout")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("queue worker stopped")
}
