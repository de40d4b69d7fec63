// Package db opens the PostgreSQL pool and runs schema migrations.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlift/chatlift/internal/config"
)

// Open creates a pgx connection pool for the configured database.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, DSN(cfg))
}
