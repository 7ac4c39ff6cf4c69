package infra

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skyforge/internal/sqlinline"
)

// Migrate applies every *.sql file of fsys not yet recorded in
// schema_migrations, in lexical order, each inside its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, logger Logger) ([]string, error) {
	files, err := migrationFiles(fsys)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, stripMarker(sqlinline.QCreateSchemaMigrations)); err != nil {
		return nil, fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var applied []string
	for _, name := range files {
		version := strings.TrimSuffix(name, ".sql")
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		done, err := applyMigration(ctx, pool, version, string(body))
		if err != nil {
			return applied, fmt.Errorf("migrate: %s: %w", name, err)
		}
		if done {
			logger.Info().Str("version", version).Msg("migrate: applied")
			applied = append(applied, version)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, version, body string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, stripMarker(sqlinline.QSelectMigrationApplied), version).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := tx.Exec(ctx, body, pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, stripMarker(sqlinline.QInsertMigration), version); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migrate: list files: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func stripMarker(query string) string {
	_, trimmed, err := ExtractMarker(query)
	if err != nil {
		return query
	}
	return trimmed
}
