// Package service implements the core forwarding logic.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"rise-gateway/internal/client"
	"rise-gateway/internal/config"
	"rise-gateway/internal/cookie"
	"rise-gateway/internal/metrics"
	"rise-gateway/internal/model"
)

// ErrUpstreamNotConfigured is returned for every forward while no upstream origin is set.
var ErrUpstreamNotConfigured = errors.New("UPSTREAM_ORIGIN is not set")

// ErrUnsupportedEncoding is returned when the upstream answers with a content
// coding the forwarder cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported upstream content encoding")

// droppedRequestHeaders are never copied onto the upstream request.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Connection":     true,
	"Content-Length": true,
}

// droppedResponseHeaders are never copied onto the caller's response.
var droppedResponseHeaders = map[string]bool{
	"Content-Encoding":    true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ForwardService rewrites inbound requests against the upstream origin and
// rewrites the upstream's responses for the caller.
type ForwardService struct {
	client  *client.UpstreamClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	origin  *url.URL
}

// NewForwardService creates a ForwardService. An empty upstream base URL is
// accepted; Forward then fails with ErrUpstreamNotConfigured.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ForwardService, error) {
	s := &ForwardService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "forward_service"),
		metrics: m,
	}

	if cfg.Upstream.BaseURL != "" {
		u, err := config.ParseOrigin(cfg.Upstream.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream base_url: %w", err)
		}
		s.origin = u
	}

	return s, nil
}

// Origin returns the configured upstream origin, or "" when unset.
func (s *ForwardService) Origin() string {
	if s.origin == nil {
		return ""
	}
	return s.origin.String()
}

// Forward sends fr to the upstream origin and returns the rewritten response.
// The caller is responsible for closing the response body.
func (s *ForwardService) Forward(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	if s.origin == nil {
		return nil, ErrUpstreamNotConfigured
	}

	upstreamURL := s.buildUpstreamURL(fr.Path, fr.Query)
	header := filterRequestHeaders(fr.Header)

	body, err := readBody(fr.Method, fr.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	s.logger.Debug("forwarding request",
		"method", fr.Method,
		"path", fr.Path,
	)

	resp, err := s.client.DoStream(fr.Ctx, fr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if !bodyless(fr.Method, resp.StatusCode) {
		decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		resp.Body = decoded
	}

	resp.Header = filterResponseHeaders(resp.Header)

	if s.rewriteCookies(fr.InboundOrigin) {
		if n := cookie.RewriteHeader(resp.Header); n > 0 && s.metrics != nil {
			s.metrics.CookieRewrites.Add(float64(n))
		}
	}

	return resp, nil
}

func (s *ForwardService) buildUpstreamURL(path string, query model.Query) string {
	var b strings.Builder
	b.WriteString(s.origin.Scheme)
	b.WriteString("://")
	b.WriteString(s.origin.Host)
	if !strings.HasPrefix(path, "/") {
		b.WriteByte('/')
	}
	b.WriteString(path)
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

func (s *ForwardService) rewriteCookies(inboundOrigin string) bool {
	switch s.cfg.Cookies.Rewrite {
	case config.CookieRewriteOff:
		return false
	case config.CookieRewriteCrossOrigin:
		return !sameOrigin(inboundOrigin, s.origin)
	default:
		return true
	}
}

// sameOrigin compares scheme, host and effective port. An unparseable or
// empty inbound origin counts as cross-origin.
func sameOrigin(inbound string, upstream *url.URL) bool {
	u, err := url.Parse(inbound)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme, upstream.Scheme) &&
		strings.EqualFold(u.Hostname(), upstream.Hostname()) &&
		effectivePort(u) == effectivePort(upstream)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

// readBody buffers the whole inbound body. GET and HEAD never carry one.
func readBody(method string, body io.Reader) (io.Reader, error) {
	if method == http.MethodGet || method == http.MethodHead || body == nil {
		return nil, nil
	}
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

// bodyless reports whether the upstream response cannot carry a body.
func bodyless(method string, status int) bool {
	return method == http.MethodHead ||
		status == http.StatusNoContent ||
		status == http.StatusNotModified ||
		(status >= 100 && status < 200)
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	if vals := dst.Values("Accept-Encoding"); len(vals) > 0 {
		dst.Set("Accept-Encoding", narrowAcceptEncoding(vals))
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	listed := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				listed[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		canon := http.CanonicalHeaderKey(key)
		if droppedResponseHeaders[canon] || listed[canon] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
