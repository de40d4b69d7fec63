package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatlift/chatlift/internal/session"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// sessionError maps session service errors to HTTP errors.
func sessionError(err error) error {
	if errors.Is(err, session.ErrNoSession) {
		return echo.NewHTTPError(http.StatusNotFound, "no session for tenant")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
