package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"rise-gateway/internal/config"
	"rise-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	service *service.ForwardService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, svc *service.ForwardService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, service: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	UpstreamOrigin     string   `json:"upstream_origin"`
	UpstreamConfigured bool     `json:"upstream_configured"`
	Routes             []string `json:"routes"`
	CookieRewrite      string   `json:"cookie_rewrite"`
}

// Status returns gateway status information. A missing upstream origin is
// reported as "degraded" rather than failing the probe.
func (h *HealthHandler) Status(c echo.Context) error {
	origin := h.service.Origin()
	status := "ok"
	if origin == "" {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:             status,
		Version:            string(h.version),
		UpstreamOrigin:     origin,
		UpstreamConfigured: origin != "",
		Routes:             h.cfg.RoutePrefixes(),
		CookieRewrite:      h.cfg.Cookies.Rewrite,
	})
}
