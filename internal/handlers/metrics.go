package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/memohai/chatbridge/internal/metrics"
)

// MetricsHandler exposes the Prometheus registry.
type MetricsHandler struct {
	metrics *metrics.Metrics
}

func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	if h.metrics == nil {
		return
	}
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
}
