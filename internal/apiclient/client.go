// Package apiclient calls the Rise backend with cookie-carried credentials.
// A call that fails with 401 Unauthorized triggers at most one session
// refresh followed by at most one replay of the identical request.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultRefreshPath = "/api/auth/refresh"
	defaultUserAgent   = "rise-cli/1.0"
	defaultTimeout     = 30 * time.Second

	// HeaderRequestID carries the per-call request ID; both sends of a
	// replayed call share it.
	HeaderRequestID = "X-Request-Id"
)

// DefaultExemptPaths are the paths whose 401 never triggers a refresh.
var DefaultExemptPaths = []string{"/api/auth/**"}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend (or forwarder) origin, e.g. http://localhost:8000/api/proxy.
	BaseURL string
	// RefreshPath is POSTed once when a non-exempt call returns 401.
	RefreshPath string
	// ExemptPaths are doublestar patterns matched against the call path.
	// The refresh path is always exempt.
	ExemptPaths []string
	Timeout     time.Duration
	UserAgent   string
	// SkipUnsafeReplay surfaces the 401 instead of replaying a
	// non-idempotent call after a successful refresh.
	SkipUnsafeReplay bool
	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64
}

// Client is the resilient API client. It is safe for concurrent use; the
// only state shared between calls is the session's cookie jar.
type Client struct {
	rc      *resty.Client
	cfg     Config
	session *Session
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New validates cfg and returns a Client bound to session.
func New(cfg Config, session *Session, logger *slog.Logger) (*Client, error) {
	if session == nil {
		return nil, errors.New("apiclient: session required")
	}
	base, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	cfg.BaseURL = base

	if cfg.RefreshPath == "" {
		cfg.RefreshPath = defaultRefreshPath
	}
	if !strings.HasPrefix(cfg.RefreshPath, "/") {
		return nil, fmt.Errorf("apiclient: refresh path must start with '/'; got %q", cfg.RefreshPath)
	}
	if cfg.ExemptPaths == nil {
		cfg.ExemptPaths = DefaultExemptPaths
	}
	for _, p := range cfg.ExemptPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("apiclient: invalid exempt path pattern %q", p)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("apiclient: requests per second must be non-negative; got %v", cfg.RequestsPerSecond)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	logger = logger.With("component", "apiclient", "session_id", session.ID)

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetCookieJar(session).
		SetHeader("User-Agent", cfg.UserAgent).
		SetLogger(restyLogger{logger: logger})

	return &Client{
		rc:      rc,
		cfg:     cfg,
		session: session,
		limiter: limiter,
		logger:  logger,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("apiclient: base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("apiclient: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("apiclient: base URL scheme must be http or https; got %q", raw)
	}
	if u.Host == "" {
		return "", errors.New("apiclient: base URL missing host")
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Session returns the session the client carries credentials for.
func (c *Client) Session() *Session {
	return c.session
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Do performs call. A 401 on a non-exempt path leads to one refresh and, if
// the refresh succeeds, one replay with the same method, path, headers and
// body bytes. A replay never refreshes again. Non-2xx statuses outside
// call.Accept come back as *StatusError.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	body, err := call.encodeBody()
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	resp, err := c.send(ctx, call, body, requestID)
	if err != nil {
		return nil, err
	}

	refreshed := false
	if resp.StatusCode == http.StatusUnauthorized && !c.exempt(call.Path) {
		if c.refresh(ctx, requestID) {
			refreshed = true
			if c.cfg.SkipUnsafeReplay && !call.Idempotent() {
				c.logger.Info("session refreshed; not replaying non-idempotent call",
					"method", call.method(),
					"path", call.Path,
					"request_id", requestID,
				)
				return nil, newStatusError(call, resp, true)
			}
			resp, err = c.send(ctx, call, body, requestID)
			if err != nil {
				return nil, err
			}
		}
	}

	if resp.IsSuccess() || call.accepts(resp.StatusCode) {
		return resp, nil
	}
	return nil, newStatusError(call, resp, refreshed)
}

func (c *Client) send(ctx context.Context, call Call, body []byte, requestID string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", call.method(), call.Path, err)
	}

	req := c.rc.R().
		SetContext(ctx).
		SetHeaderMultiValues(call.Header)
	if len(call.Query) > 0 {
		req.SetQueryParamsFromValues(call.Query)
	}
	if body != nil {
		req.SetBody(body)
		if req.Header.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "application/json")
		}
	}
	req.SetHeader(HeaderRequestID, requestID)
	injectTraceparent(ctx, req.Header)

	start := time.Now()
	resp, err := req.Execute(call.method(), call.Path)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", call.method(), call.Path, err)
	}

	c.logger.Debug("api call",
		"method", call.method(),
		"path", call.Path,
		"status", resp.StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// refresh reports whether the session refresh returned 2xx. Transport
// failures count as a failed refresh.
func (c *Client) refresh(ctx context.Context, requestID string) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("session refresh skipped", "err", err, "request_id", requestID)
		return false
	}

	req := c.rc.R().
		SetContext(ctx).
		SetHeader(HeaderRequestID, requestID)
	injectTraceparent(ctx, req.Header)

	resp, err := req.Execute(http.MethodPost, c.cfg.RefreshPath)
	if err != nil {
		c.logger.Warn("session refresh failed", "err", err, "request_id", requestID)
		return false
	}
	if !resp.IsSuccess() {
		c.logger.Info("session refresh rejected", "status", resp.StatusCode(), "request_id", requestID)
		return false
	}
	return true
}

// exempt reports whether a 401 on path must not trigger a refresh.
func (c *Client) exempt(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == c.cfg.RefreshPath {
		return true
	}
	for _, p := range c.cfg.ExemptPaths {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
