package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyforge/internal/adapter/repo"
	"skyforge/internal/infra"
	"skyforge/internal/storage"
)

func TestOpenJobStore(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenJobStore(ctx, &infra.Config{JobStore: "memory"}, infra.NopLogger())
	require.NoError(t, err)
	defer mem.Close()
	assert.IsType(t, &repo.JobRepositoryMemory{}, mem.Jobs)
	assert.Nil(t, mem.SQL)
	assert.NoError(t, mem.Ping(ctx))

	lite, err := OpenJobStore(ctx, &infra.Config{JobStore: "sqlite", JobStoreDSN: filepath.Join(t.TempDir(), "jobs.db")}, infra.NopLogger())
	require.NoError(t, err)
	defer lite.Close()
	assert.IsType(t, &repo.JobRepositoryGorm{}, lite.Jobs)
	assert.NoError(t, lite.Ping(ctx))

	_, err = OpenJobStore(ctx, &infra.Config{JobStore: "cassandra"}, infra.NopLogger())
	assert.Error(t, err)
}

func TestProvidersWithoutKeysAreDisabled(t *testing.T) {
	image, mesh, err := Providers(context.Background(), &infra.Config{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, image)
	assert.Nil(t, mesh)

	image, mesh, err = Providers(context.Background(), &infra.Config{SkyboxAPIKey: "sk"}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, image)
	assert.Nil(t, mesh)
}

func TestAssetStore(t *testing.T) {
	ctx := context.Background()
	fetcher := storage.NewFetcher(storage.FetcherOptions{})
	dir := t.TempDir()

	store, static, err := AssetStore(ctx, &infra.Config{StorageDriver: "filesystem", StoragePath: dir, StorageBaseURL: "http://localhost/static"}, fetcher, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Equal(t, dir, static)

	store, static, err = AssetStore(ctx, &infra.Config{StorageDriver: "none"}, fetcher, nil)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Empty(t, static)

	_, _, err = AssetStore(ctx, &infra.Config{StorageDriver: "ftp"}, fetcher, nil)
	assert.Error(t, err)
}
