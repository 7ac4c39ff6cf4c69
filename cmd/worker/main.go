package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"skyforge/internal/adapter/repo"
	"skyforge/internal/bootstrap"
	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// leaseReaper fails pending jobs whose run lease lapsed, which happens when
// the API process died mid-run.
type leaseReaper struct {
	jobs   domain.JobRepository
	logger infra.Logger
	now    func() time.Time
}

func (r *leaseReaper) reapOnce(ctx context.Context) ([]string, error) {
	ids, err := r.jobs.ExpireLeases(ctx, r.now().UTC(), repo.LeaseExpiredMessage)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.logger.Warn().Str("job_id", id).Msg("worker: run lease expired, job failed")
	}
	return ids, nil
}

func (r *leaseReaper) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.reapOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("worker: expire leases failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: job store connection failed")
	}
	defer store.Close()

	if cfg.JobStore == "memory" {
		logger.Warn().Msg("worker: memory job store is process local, nothing to reap")
		return
	}

	logger.Info().Dur("interval", cfg.ReaperInterval).Str("store", cfg.JobStore).Msg("worker: lease reaper started")
	reaper := &leaseReaper{jobs: store.Jobs, logger: logger, now: time.Now}
	reaper.run(ctx, cfg.ReaperInterval)
	logger.Info().Msg("worker: stopped")
}
