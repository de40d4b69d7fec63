package modules

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	migrations "github.com/chatlift/chatlift/db"
	"github.com/chatlift/chatlift/internal/ai"
	"github.com/chatlift/chatlift/internal/config"
	"github.com/chatlift/chatlift/internal/db"
	"github.com/chatlift/chatlift/internal/logger"
	"github.com/chatlift/chatlift/internal/storage"
)

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideDBConn,
		fx.Annotate(provideStore, fx.As(new(storage.Store))),
		fx.Annotate(provideAnalyzer, fx.As(new(ai.Analyzer))),
	),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig() (config.Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	schema, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	if err := db.Migrate(log, cfg.Postgres, schema); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideStore(conn *pgxpool.Pool) *storage.Postgres {
	return storage.NewPostgres(conn)
}

func provideAnalyzer(log *slog.Logger, cfg config.Config) *ai.Client {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	return ai.NewClient(log, cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, timeout)
}
