package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"skyforge/internal/bootstrap"
	"skyforge/internal/events"
	"skyforge/internal/generation"
	"skyforge/internal/http/handlers"
	httpapi "skyforge/internal/http/httpapi"
	"skyforge/internal/infra"
	"skyforge/internal/infra/credentials"
	"skyforge/internal/progress"
	"skyforge/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	jobs, err := bootstrap.OpenJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.JobStore).Msg("failed to open job store")
	}
	defer jobs.Close()
	checks := map[string]handlers.HealthCheck{"job_store": jobs.Ping}

	var creds *credentials.Store
	if jobs.SQL != nil {
		creds = credentials.NewStore(jobs.SQL)
	}
	image, mesh, err := bootstrap.Providers(ctx, cfg, creds, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve provider keys")
	}
	if image == nil {
		logger.Warn().Msg("skybox api key missing, image generation disabled")
	}
	if mesh == nil {
		logger.Warn().Msg("meshy api key missing, mesh generation disabled")
	}

	policies, err := generation.LoadPolicies(cfg.PollerConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PollerConfigPath).Msg("invalid poller config")
	}

	fetcher := storage.NewFetcher(storage.FetcherOptions{
		ProxyURL:   cfg.AssetProxyURL,
		ProxyHosts: cfg.AssetProxyHosts,
		MaxBytes:   cfg.AssetMaxBytes,
		Logger:     &logger,
	})
	assets, staticDir, err := bootstrap.AssetStore(ctx, cfg, fetcher, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open asset storage")
	}

	var hubOpts []progress.Option
	var remote generation.ProgressLoader
	if cfg.RedisURL != "" {
		sink, err := progress.NewRedisSink(ctx, cfg.RedisURL, time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer sink.Close()
		hubOpts = append(hubOpts, progress.WithSink(sink))
		remote = sink
		checks["redis"] = sink.Ping
	}
	hub := progress.NewHub(&logger, hubOpts...)
	go hub.Run(ctx)

	var notifier events.Notifier = events.Nop{}
	if cfg.AMQPURL != "" {
		n, err := events.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		defer n.Close()
		notifier = n
	}

	orch := generation.NewOrchestrator(generation.Options{
		Jobs:            jobs.Jobs,
		Image:           image,
		Mesh:            mesh,
		Policies:        policies,
		Persister:       generation.NewPersister(assets, 0, &logger),
		Progress:        hub,
		Remote:          remote,
		Notifier:        notifier,
		Pool:            infra.NewPool("generation", &logger),
		Logger:          &logger,
		LeaseTTL:        cfg.RunLeaseTTL,
		LeaseRenewEvery: cfg.RunLeaseRenewInterval,
	})

	app := &handlers.App{
		Generations: orch,
		Progress:    hub,
		Assets:      fetcher,
		Checks:      checks,
		Logger:      logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		JWTSecret:       cfg.JWTSecret,
		AllowHeaderAuth: cfg.AppEnv == "development",
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})

	server := infra.NewHTTPServer(cfg, router, logger)
	go func() {
		logger.Info().Str("store", cfg.JobStore).Str("storage", cfg.StorageDriver).Msg("API starting")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
