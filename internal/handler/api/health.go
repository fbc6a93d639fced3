package api

import (
	"context"
	"net/http"
	"time"

	xhttp "TeeRelay/pkg/http"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports each dependency's probe result. Any failure turns the response 503.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	return xhttp.DataResponse(c, status, out)
}
