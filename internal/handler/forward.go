package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"rise-gateway/internal/config"
	"rise-gateway/internal/model"
	"rise-gateway/internal/service"
)

// ForwardHandler forwards requests under the configured prefixes to the upstream origin.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Route returns the handler serving one configured route.
func (h *ForwardHandler) Route(route config.RouteConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h.handle(c, route)
	}
}

func (h *ForwardHandler) handle(c echo.Context, route config.RouteConfig) error {
	req := c.Request()

	fr := &model.ForwardRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          upstreamPath(req.URL.EscapedPath(), route),
		Query:         model.ParseQuery(req.URL.RawQuery),
		Header:        req.Header,
		Body:          req.Body,
		InboundOrigin: c.Scheme() + "://" + req.Host,
	}

	resp, err := h.service.Forward(fr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a mid-stream failure can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// upstreamPath returns the path sent upstream for an escaped inbound path.
func upstreamPath(escaped string, route config.RouteConfig) string {
	if !route.StripPrefix {
		return escaped
	}
	rest := strings.TrimPrefix(escaped, route.Prefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		// Raised by the body limit reader; echo's error handler renders it.
		return he
	}

	h.logger.Error("forward error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrUpstreamNotConfigured) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": service.ErrUpstreamNotConfigured.Error(),
		})
	}

	if errors.Is(err, service.ErrUnsupportedEncoding) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "unsupported upstream content encoding",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
