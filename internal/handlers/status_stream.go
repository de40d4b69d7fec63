package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chatlift/chatlift/internal/auth"
	"github.com/chatlift/chatlift/internal/session"
)

// StatusStreamHandler pushes session status snapshots over a websocket so
// dashboards can render QR codes and connection state live instead of
// polling. Each subscriber sees the current snapshot immediately and only
// the latest snapshot afterwards; intermediate states may be skipped.
type StatusStreamHandler struct {
	hub      *session.StatusHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStatusStreamHandler creates a status stream handler.
func NewStatusStreamHandler(log *slog.Logger, hub *session.StatusHub) *StatusStreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusStreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: log.With(slog.String("handler", "status_stream")),
	}
}

// Register mounts GET /api/session/status/stream on the Echo instance.
func (h *StatusStreamHandler) Register(e *echo.Echo) {
	e.GET("/api/session/status/stream", h.Stream)
}

// Stream upgrades to a websocket and writes one JSON snapshot per status
// change until the client hangs up.
func (h *StatusStreamHandler) Stream(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer conn.Close()

	snapshots, cancel := h.hub.Subscribe(tenantID)
	defer cancel()

	// Drain client frames so close/ping control messages are processed; any
	// read error ends the subscription.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debug("status stream closed",
					slog.String("tenant_id", tenantID),
					slog.Any("error", err))
				return nil
			}
		}
	}
}
