// Package migrations embeds the SQL migrations applied by internal/migrate.
package migrations

import "embed"

// FS holds goose migrations.
//
//go:embed *.sql
var FS embed.FS
