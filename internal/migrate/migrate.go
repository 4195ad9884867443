// Package migrate applies the embedded users-directory migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/arena-auth/migrations"
)

// Up opens dsn through the pgx stdlib driver and applies pending migrations.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	return Apply(ctx, db, migrations.FS, log)
}

// Apply runs every pending migration from fsys against db and logs each applied version.
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS, log *zap.Logger) error {
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("dur", r.Duration),
		)
	}
	if len(results) == 0 {
		log.Debug("schema up to date")
	}
	return nil
}
