package modules

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/chatlift/chatlift/internal/ai"
	"github.com/chatlift/chatlift/internal/config"
	"github.com/chatlift/chatlift/internal/convstate"
	"github.com/chatlift/chatlift/internal/db"
	"github.com/chatlift/chatlift/internal/retention"
	"github.com/chatlift/chatlift/internal/router"
	"github.com/chatlift/chatlift/internal/session"
	"github.com/chatlift/chatlift/internal/storage"
	wmtransport "github.com/chatlift/chatlift/internal/transport/whatsmeow"
)

var EngineModule = fx.Module(
	"engine",
	fx.Provide(
		provideStatusHub,
		provideConvStateStore,
		provideRouter,
		fx.Annotate(provideTransport, fx.As(new(session.Transport))),
		provideManager,
		provideRetention,
	),
	fx.Invoke(
		startRouter,
		startRetention,
		registerManagerShutdown,
	),
)

// ---------------------------------------------------------------------------
// engine providers
// ---------------------------------------------------------------------------

func provideStatusHub() *session.StatusHub {
	return session.NewStatusHub()
}

func provideConvStateStore(log *slog.Logger, store storage.Store) *convstate.Store {
	return convstate.NewStore(log, store)
}

func provideRouter(log *slog.Logger, store storage.Store, states *convstate.Store, analyzer ai.Analyzer, cfg config.Config) *router.Router {
	return router.NewRouter(log, store, states, analyzer, router.Options{
		Workers:     cfg.Router.Workers,
		QueueSize:   cfg.Router.QueueSize,
		DedupWindow: cfg.Router.DedupWindow,
		DedupTTL:    cfg.Router.DedupTTLDuration(),
	})
}

func provideTransport(log *slog.Logger, cfg config.Config) (*wmtransport.Transport, error) {
	return wmtransport.New(context.Background(), log, db.DSN(cfg.Postgres))
}

func provideManager(log *slog.Logger, transport session.Transport, r *router.Router, hub *session.StatusHub, cfg config.Config) *session.Manager {
	return session.NewManager(log, transport, r, hub, session.Options{
		ReconnectBase:        cfg.Session.ReconnectBaseDuration(),
		ReconnectCap:         cfg.Session.ReconnectCapDuration(),
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		QRTTL:                cfg.Session.QRTTLDuration(),
		SendRatePerSecond:    cfg.Session.SendRatePerSecond,
	})
}

func provideRetention(log *slog.Logger, store storage.Store, cfg config.Config) *retention.Service {
	return retention.NewService(log, store, cfg.Retention.Schedule, cfg.Retention.Days)
}

// ---------------------------------------------------------------------------
// lifecycle
// ---------------------------------------------------------------------------

func startRouter(lc fx.Lifecycle, r *router.Router) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return r.Shutdown(ctx)
		},
	})
}

func startRetention(lc fx.Lifecycle, svc *retention.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return svc.Start()
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}

func registerManagerShutdown(lc fx.Lifecycle, manager *session.Manager) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return manager.Shutdown(ctx)
		},
	})
}
