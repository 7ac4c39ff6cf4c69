// Package migrations embeds the postgres schema files applied by AUTO_MIGRATE.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
