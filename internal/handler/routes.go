package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rise-gateway/internal/config"
	"rise-gateway/internal/metrics"
	"rise-gateway/internal/middleware"
)

// forwardMethods are accepted on every forwarding route.
var forwardMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, forward *ForwardHandler, health *HealthHandler, m *metrics.Metrics) {
	secure := middleware.SecurityHeaders()
	e.GET("/healthz", health.Healthz, secure)
	e.GET("/proxy/status", health.Status, secure)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), secure)
	}

	for _, route := range cfg.Proxy.Routes {
		h := forward.Route(route)
		e.Match(forwardMethods, route.Prefix, h)
		e.Match(forwardMethods, route.Prefix+"/*", h)
	}
}
