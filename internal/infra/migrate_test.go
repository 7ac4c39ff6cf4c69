package infra

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyforge/internal/sqlinline"
	"skyforge/migrations"
)

func TestMigrationFilesAreSortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql":         {Data: []byte("select 1;")},
		"001_generation_jobs.sql": {Data: []byte("select 1;")},
		"README.md":               {Data: []byte("notes")},
		"old/000_legacy.sql":      {Data: []byte("select 1;")},
	}
	files, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_generation_jobs.sql", "002_indexes.sql"}, files)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := migrationFiles(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_generation_jobs.sql", files[0])
}

func TestStripMarker(t *testing.T) {
	got := stripMarker(sqlinline.QInsertMigration)
	assert.False(t, strings.HasPrefix(got, "--sql"))
	assert.Contains(t, got, "insert into schema_migrations")

	assert.Equal(t, "select 1", stripMarker("select 1"))
}
