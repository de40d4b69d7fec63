package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/chatlift/chatlift/internal/config"
	"github.com/chatlift/chatlift/internal/handlers"
	"github.com/chatlift/chatlift/internal/server"
	"github.com/chatlift/chatlift/internal/session"
	"github.com/chatlift/chatlift/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		annotateHandler(handlers.NewPingHandler),
		annotateHandler(handlers.NewSessionsHandler),
		annotateHandler(provideStatusStreamHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

// annotateHandler wraps a handler provider function with fx.Annotate
// to register it as a server.Handler with the correct group tag
func annotateHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideStatusStreamHandler(log *slog.Logger, manager *session.Manager) *handlers.StatusStreamHandler {
	return handlers.NewStatusStreamHandler(log, manager.Hub())
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Chatlift Engine %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
