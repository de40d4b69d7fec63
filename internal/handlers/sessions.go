// Package handlers provides HTTP API handlers for the engine server.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatlift/chatlift/internal/auth"
	"github.com/chatlift/chatlift/internal/session"
)

// SessionsHandler exposes the tenant's WhatsApp session lifecycle. The tenant
// is always taken from the JWT, never from the request body, so one tenant
// cannot drive another's session.
type SessionsHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

// SendMessageRequest is the body for POST /api/messages.
type SendMessageRequest struct {
	ContactID string `json:"contact_id"`
	Text      string `json:"text"`
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(log *slog.Logger, manager *session.Manager) *SessionsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionsHandler{
		manager: manager,
		logger:  log.With(slog.String("handler", "sessions")),
	}
}

// Register mounts the session routes on the Echo instance.
func (h *SessionsHandler) Register(e *echo.Echo) {
	e.POST("/api/session/connect", h.Connect)
	e.POST("/api/session/disconnect", h.Disconnect)
	e.GET("/api/session/status", h.Status)
	e.POST("/api/messages", h.SendMessage)
}

// Connect starts (or resumes) the tenant's session. Calling it while the
// session is already live is a no-op that returns the current status.
func (h *SessionsHandler) Connect(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.manager.Connect(c.Request().Context(), tenantID); err != nil {
		return sessionError(err)
	}
	snap, err := h.manager.GetStatus(tenantID)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusAccepted, snap)
}

// Disconnect tears the tenant's session down. 404 when none exists.
func (h *SessionsHandler) Disconnect(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.manager.Disconnect(c.Request().Context(), tenantID); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Status returns the latest session snapshot, including a pending QR code
// while pairing.
func (h *SessionsHandler) Status(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	snap, err := h.manager.GetStatus(tenantID)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// SendMessage pushes an outbound text through the tenant's session.
func (h *SessionsHandler) SendMessage(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ContactID = strings.TrimSpace(req.ContactID)
	if req.ContactID == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contact_id and text are required")
	}
	if err := h.manager.Send(c.Request().Context(), tenantID, req.ContactID, req.Text); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
