// Package bootstrap opens the stores and clients selected by configuration.
package bootstrap

import (
	"context"
	"fmt"

	"skyforge/internal/adapter/repo"
	"skyforge/internal/domain"
	"skyforge/internal/generation"
	"skyforge/internal/infra"
	"skyforge/internal/infra/credentials"
	"skyforge/internal/providers/meshy"
	"skyforge/internal/providers/skybox"
	"skyforge/internal/storage"
	"skyforge/migrations"
)

// JobStore is an opened job repository plus its lifecycle hooks.
type JobStore struct {
	Jobs domain.JobRepository
	// SQL is set for the postgres store and backs the credentials table.
	SQL   infra.SQLExecutor
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenJobStore opens the repository named by cfg.JobStore.
func OpenJobStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*JobStore, error) {
	switch cfg.JobStore {
	case "postgres":
		pool, err := infra.NewDBPool(ctx, infra.DBOptions{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, AppName: "skyforge"})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if _, err := infra.Migrate(ctx, pool, migrations.FS, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &JobStore{
			Jobs:  repo.NewJobRepository(runner),
			SQL:   runner,
			Ping:  pool.Ping,
			Close: pool.Close,
		}, nil
	case "sqlite", "mysql":
		store, err := repo.OpenGormJobRepository(cfg.JobStore, cfg.JobStoreDSN)
		if err != nil {
			return nil, err
		}
		return &JobStore{
			Jobs:  store,
			Ping:  store.Ping,
			Close: func() { _ = store.Close() },
		}, nil
	case "memory":
		return &JobStore{
			Jobs:  repo.NewMemoryJobRepository(),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported job store %q", cfg.JobStore)
	}
}

// Providers returns the configured provider clients. A provider without an
// API key is returned as nil so requests needing it are rejected.
func Providers(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger *infra.Logger) (generation.ImageProvider, generation.MeshProvider, error) {
	skyboxKey, meshyKey := cfg.SkyboxAPIKey, cfg.MeshyAPIKey
	if creds != nil {
		var err error
		if skyboxKey, err = creds.Resolve(ctx, credentials.ProviderSkybox, skyboxKey); err != nil {
			return nil, nil, fmt.Errorf("resolve skybox key: %w", err)
		}
		if meshyKey, err = creds.Resolve(ctx, credentials.ProviderMeshy, meshyKey); err != nil {
			return nil, nil, fmt.Errorf("resolve meshy key: %w", err)
		}
	}

	var (
		image generation.ImageProvider
		mesh  generation.MeshProvider
	)
	if skyboxKey != "" {
		image = skybox.NewClient(skybox.Options{APIKey: skyboxKey, BaseURL: cfg.SkyboxBaseURL, Logger: logger})
	}
	if meshyKey != "" {
		mesh = meshy.NewClient(meshy.Options{APIKey: meshyKey, BaseURL: cfg.MeshyBaseURL, Logger: logger})
	}
	return image, mesh, nil
}

// AssetStore opens the durable store named by cfg.StorageDriver. The second
// return value is the directory to serve statically, if any.
func AssetStore(ctx context.Context, cfg *infra.Config, fetcher *storage.Fetcher, logger *infra.Logger) (generation.AssetStore, string, error) {
	switch cfg.StorageDriver {
	case "s3":
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		}, fetcher, logger)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	case "filesystem", "":
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, fetcher)
		if err != nil {
			return nil, "", err
		}
		return store, store.BasePath(), nil
	case "none":
		return nil, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
