package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rise-gateway/internal/client"
	"rise-gateway/internal/config"
	"rise-gateway/internal/cookie"
	"rise-gateway/internal/metrics"
	"rise-gateway/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, baseURL, cookieMode string) (*ForwardService, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Cookies: config.CookieConfig{Rewrite: cookieMode},
	}
	m := metrics.New()
	c := client.NewUpstreamClient(cfg, discardLogger(), m)
	svc, err := NewForwardService(c, cfg, discardLogger(), m)
	if err != nil {
		t.Fatalf("NewForwardService() error = %v", err)
	}
	return svc, m
}

func forward(t *testing.T, svc *ForwardService, fr *model.ForwardRequest) (*model.ForwardResponse, string) {
	t.Helper()
	if fr.Ctx == nil {
		fr.Ctx = context.Background()
	}
	if fr.Header == nil {
		fr.Header = http.Header{}
	}
	resp, err := svc.Forward(fr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return resp, string(body)
}

func TestFilterRequestHeaders(t *testing.T) {
	src := http.Header{
		"Accept":          {"application/json"},
		"Content-Type":    {"application/json"},
		"Authorization":   {"Bearer secret"},
		"Cookie":          {"accessToken=a1"},
		"Connection":      {"keep-alive"},
		"Content-Length":  {"42"},
		"Host":            {"gateway.local"},
		"X-Custom-Header": {"a", "b"},
	}

	dst := filterRequestHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Content-Type forwarded", "Content-Type", 1},
		{"Authorization forwarded", "Authorization", 1},
		{"Cookie forwarded", "Cookie", 1},
		{"custom header keeps every value", "X-Custom-Header", 2},
		{"Connection stripped", "Connection", 0},
		{"Content-Length stripped", "Content-Length", 0},
		{"Host stripped", "Host", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	dst.Add("X-Custom-Header", "c")
	if len(src.Values("X-Custom-Header")) != 2 {
		t.Error("filterRequestHeaders() shares value slices with the inbound header")
	}
}

func TestFilterRequestHeaders_NarrowsAcceptEncoding(t *testing.T) {
	dst := filterRequestHeaders(http.Header{"Accept-Encoding": {"gzip, deflate, br;q=0.9, zstd"}})
	if got := dst.Get("Accept-Encoding"); got != "gzip, deflate, zstd" {
		t.Errorf("Accept-Encoding = %q, want %q", got, "gzip, deflate, zstd")
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"application/json"},
		"Content-Length":    {"42"},
		"Content-Encoding":  {"gzip"},
		"Transfer-Encoding": {"chunked"},
		"Connection":        {"keep-alive, X-Hop"},
		"Keep-Alive":        {"timeout=5"},
		"X-Hop":             {"1"},
		"Set-Cookie":        {"a=1", "b=2"},
		"Location":          {"/login"},
		"Cache-Control":     {"no-store"},
	}

	dst := filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type kept", "Content-Type", 1},
		{"Set-Cookie keeps every value", "Set-Cookie", 2},
		{"Location kept", "Location", 1},
		{"Cache-Control kept", "Cache-Control", 1},
		{"Content-Length stripped", "Content-Length", 0},
		{"Content-Encoding stripped", "Content-Encoding", 0},
		{"Transfer-Encoding stripped", "Transfer-Encoding", 0},
		{"Connection stripped", "Connection", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
		{"Connection-listed header stripped", "X-Hop", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestBuildUpstreamURL(t *testing.T) {
	svc, _ := newTestService(t, "http://backend:8000", config.CookieRewriteAlways)

	tests := []struct {
		name  string
		path  string
		query string
		want  string
	}{
		{"no query", "/api/workplace/scouts", "", "http://backend:8000/api/workplace/scouts"},
		{"root", "/", "", "http://backend:8000/"},
		{"missing leading slash", "api/me", "", "http://backend:8000/api/me"},
		{"escaped path kept", "/files/a%2Fb", "", "http://backend:8000/files/a%2Fb"},
		{"query order kept", "/x", "b=2&a=1", "http://backend:8000/x?b=2&a=1"},
		{"repeated keys kept", "/x", "tag=a&other=1&tag=b", "http://backend:8000/x?tag=a&other=1&tag=b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.buildUpstreamURL(tt.path, model.ParseQuery(tt.query))
			if got != tt.want {
				t.Errorf("buildUpstreamURL(%q, %q) = %q, want %q", tt.path, tt.query, got, tt.want)
			}
		})
	}
}

func TestForward_MissingOrigin(t *testing.T) {
	svc, _ := newTestService(t, "", config.CookieRewriteAlways)

	_, err := svc.Forward(&model.ForwardRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/me",
		Header: http.Header{},
	})
	if !errors.Is(err, ErrUpstreamNotConfigured) {
		t.Fatalf("Forward() error = %v, want ErrUpstreamNotConfigured", err)
	}
	if svc.Origin() != "" {
		t.Errorf("Origin() = %q, want empty", svc.Origin())
	}
}

func TestNewForwardService_InvalidOrigin(t *testing.T) {
	cfg := &config.Config{Upstream: config.UpstreamConfig{BaseURL: "ftp://backend", TimeoutSeconds: 1, IdleConnections: 1}}
	c := client.NewUpstreamClient(cfg, discardLogger(), nil)
	if _, err := NewForwardService(c, cfg, discardLogger(), nil); err == nil {
		t.Fatal("NewForwardService() expected error for non-http origin, got nil")
	}
}

func TestForward_MethodPathAndQuery(t *testing.T) {
	type seen struct {
		method, path, rawQuery, body string
	}
	var got []seen
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, seen{r.Method, r.URL.EscapedPath(), r.URL.RawQuery, string(b)})
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)

	methods := []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	for _, m := range methods {
		forward(t, svc, &model.ForwardRequest{
			Method: m,
			Path:   "/api/workplace/scouts/7",
			Query:  model.ParseQuery("tag=b&limit=10&tag=a"),
			Body:   strings.NewReader(`{"x":1}`),
		})
	}

	if len(got) != len(methods) {
		t.Fatalf("upstream saw %d requests, want %d", len(got), len(methods))
	}
	for i, m := range methods {
		if got[i].method != m {
			t.Errorf("request %d method = %q, want %q", i, got[i].method, m)
		}
		if got[i].path != "/api/workplace/scouts/7" {
			t.Errorf("request %d path = %q, want %q", i, got[i].path, "/api/workplace/scouts/7")
		}
		if got[i].rawQuery != "tag=b&limit=10&tag=a" {
			t.Errorf("request %d query = %q, want %q", i, got[i].rawQuery, "tag=b&limit=10&tag=a")
		}
		wantBody := `{"x":1}`
		if m == http.MethodGet || m == http.MethodHead {
			wantBody = ""
		}
		if got[i].body != wantBody {
			t.Errorf("%s body = %q, want %q", m, got[i].body, wantBody)
		}
	}
}

func TestForward_QueryPairsPreserved(t *testing.T) {
	var gotQuery url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)

	raw := "q=hello+world&tag=a&tag=b&empty=&sym=%26%3D"
	forward(t, svc, &model.ForwardRequest{Method: http.MethodGet, Path: "/search", Query: model.ParseQuery(raw)})

	want, _ := url.ParseQuery(raw)
	if !reflect.DeepEqual(gotQuery, want) {
		t.Errorf("upstream query = %v, want %v", gotQuery, want)
	}
}

func TestForward_StatusNotInterpreted(t *testing.T) {
	statuses := []int{
		http.StatusFound, http.StatusBadRequest, http.StatusUnauthorized,
		http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable,
	}

	for _, status := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(status)
				_, _ = w.Write([]byte("upstream says no"))
			}))
			defer upstream.Close()

			svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)
			resp, body := forward(t, svc, &model.ForwardRequest{Method: http.MethodGet, Path: "/"})

			if resp.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, status)
			}
			if body != "upstream says no" {
				t.Errorf("body = %q, want %q", body, "upstream says no")
			}
			if status == http.StatusFound && resp.Header.Get("Location") != "/elsewhere" {
				t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/elsewhere")
			}
		})
	}
}

func TestForward_DecodesCompressedBody(t *testing.T) {
	const payload = `{"scouts":[{"id":1,"name":"alpha"}]}`

	tests := []struct {
		name     string
		encoding string
		encode   func(t *testing.T, s string) []byte
	}{
		{"gzip", "gzip", gzipBytes},
		{"zstd", "zstd", zstdBytes},
		{"deflate", "deflate", zlibBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.encode(t, payload)
			var gotAE string
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAE = r.Header.Get("Accept-Encoding")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", tt.encoding)
				_, _ = w.Write(encoded)
			}))
			defer upstream.Close()

			svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)
			resp, body := forward(t, svc, &model.ForwardRequest{
				Method: http.MethodGet,
				Path:   "/api/workplace/scouts",
				Header: http.Header{"Accept-Encoding": {"br, " + tt.encoding}},
			})

			if gotAE != tt.encoding {
				t.Errorf("upstream Accept-Encoding = %q, want %q", gotAE, tt.encoding)
			}
			if body != payload {
				t.Errorf("body = %q, want %q", body, payload)
			}
			if ce := resp.Header.Get("Content-Encoding"); ce != "" {
				t.Errorf("Content-Encoding = %q, want stripped", ce)
			}
			if cl := resp.Header.Get("Content-Length"); cl != "" {
				t.Errorf("Content-Length = %q, want stripped", cl)
			}
		})
	}
}

func TestForward_UnsupportedEncoding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write([]byte{0x0b, 0x02, 0x80})
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)
	_, err := svc.Forward(&model.ForwardRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/",
		Header: http.Header{},
	})
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("Forward() error = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestForward_HeadWithEncodingHasNoBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)
	resp, body := forward(t, svc, &model.ForwardRequest{Method: http.MethodHead, Path: "/"})

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body != "" {
		t.Errorf("body = %q, want empty", body)
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Error("Content-Encoding not stripped on HEAD")
	}
}

func TestForward_RewritesEveryCookie(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "accessToken=a1; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "refreshToken=r1; Path=/api/auth; HttpOnly; SameSite=Lax")
		w.Header().Add("Set-Cookie", "theme=dark; Secure; SameSite=None")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc, m := newTestService(t, upstream.URL, config.CookieRewriteAlways)
	resp, _ := forward(t, svc, &model.ForwardRequest{Method: http.MethodPost, Path: "/api/auth/login"})

	vals := resp.Header.Values("Set-Cookie")
	if len(vals) != 3 {
		t.Fatalf("Set-Cookie values = %d, want 3", len(vals))
	}
	for _, v := range vals {
		c, _ := cookie.Parse(v)
		if !c.Secure() || c.SameSite() != "None" {
			t.Errorf("cookie %q not rewritten for cross-origin delivery", v)
		}
		if strings.Contains(v, "Lax") {
			t.Errorf("cookie %q still carries Lax", v)
		}
	}
	if got := testutil.ToFloat64(m.CookieRewrites); got != 2 {
		t.Errorf("cookie rewrites = %v, want 2", got)
	}
}

func TestForward_CookieModes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "id=abc")
	}))
	defer upstream.Close()

	tests := []struct {
		name          string
		mode          string
		inboundOrigin string
		want          string
	}{
		{"always same origin", config.CookieRewriteAlways, upstream.URL, "id=abc; Secure; SameSite=None"},
		{"always cross origin", config.CookieRewriteAlways, "https://app.example.com", "id=abc; Secure; SameSite=None"},
		{"off", config.CookieRewriteOff, "https://app.example.com", "id=abc"},
		{"cross-origin differs", config.CookieRewriteCrossOrigin, "https://app.example.com", "id=abc; Secure; SameSite=None"},
		{"cross-origin same", config.CookieRewriteCrossOrigin, upstream.URL, "id=abc"},
		{"cross-origin unknown inbound", config.CookieRewriteCrossOrigin, "", "id=abc; Secure; SameSite=None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, upstream.URL, tt.mode)
			resp, _ := forward(t, svc, &model.ForwardRequest{
				Method:        http.MethodGet,
				Path:          "/",
				InboundOrigin: tt.inboundOrigin,
			})
			if got := resp.Header.Get("Set-Cookie"); got != tt.want {
				t.Errorf("Set-Cookie = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSameOrigin(t *testing.T) {
	upstream, _ := url.Parse("http://backend:8000")
	httpsUpstream, _ := url.Parse("https://api.example.com")

	tests := []struct {
		inbound  string
		upstream *url.URL
		want     bool
	}{
		{"http://backend:8000", upstream, true},
		{"HTTP://BACKEND:8000", upstream, true},
		{"http://backend", upstream, false},
		{"https://backend:8000", upstream, false},
		{"https://api.example.com:443", httpsUpstream, true},
		{"https://api.example.com", httpsUpstream, true},
		{"https://app.example.com", httpsUpstream, false},
		{"", upstream, false},
		{"::bad", upstream, false},
	}

	for _, tt := range tests {
		t.Run(tt.inbound, func(t *testing.T) {
			if got := sameOrigin(tt.inbound, tt.upstream); got != tt.want {
				t.Errorf("sameOrigin(%q, %q) = %v, want %v", tt.inbound, tt.upstream, got, tt.want)
			}
		})
	}
}

func TestForward_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL, config.CookieRewriteAlways)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Forward(&model.ForwardRequest{Ctx: ctx, Method: http.MethodGet, Path: "/", Header: http.Header{}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Forward() error = %v, want context.Canceled", err)
	}
}
