package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chatbridge/internal/healthcheck"
)

// HealthHandler serves the combined runtime checks.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health returns 200 unless a check is in error, in which case 503.
func (h *HealthHandler) Health(c echo.Context) error {
	report := healthcheck.Evaluate(c.Request().Context(), h.checkers...)
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	report := healthcheck.Evaluate(c.Request().Context(), h.checkers...)
	if !report.Healthy() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
