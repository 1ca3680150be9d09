package apiclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// Session is the explicit session context a Client carries credentials in.
// It implements http.CookieJar and additionally remembers every stored
// cookie with its attributes, so that callers can persist the session.
type Session struct {
	ID        string
	CreatedAt time.Time

	jar *cookiejar.Jar

	mu      sync.Mutex
	cookies map[cookieKey]*http.Cookie
}

type cookieKey struct {
	host, path, name string
}

// NewSession creates an empty session with a fresh ID.
func NewSession() (*Session, error) {
	return newSession(uuid.NewString(), time.Now().UTC())
}

// ResumeSession recreates a session with a known ID and creation time.
func ResumeSession(id string, createdAt time.Time) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return newSession(id, createdAt)
}

func newSession(id string, createdAt time.Time) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("apiclient: create cookie jar: %w", err)
	}
	return &Session{
		ID:        id,
		CreatedAt: createdAt,
		jar:       jar,
		cookies:   make(map[cookieKey]*http.Cookie),
	}, nil
}

// SetCookies implements http.CookieJar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jar.SetCookies(u, cookies)
	for _, c := range cookies {
		cp := *c
		if cp.Path == "" || cp.Path[0] != '/' {
			cp.Path = defaultCookiePath(u.Path)
		}
		key := cookieKey{host: u.Hostname(), path: cp.Path, name: cp.Name}
		if cp.MaxAge < 0 || (!cp.Expires.IsZero() && !cp.Expires.After(time.Now())) {
			delete(s.cookies, key)
			continue
		}
		if cp.MaxAge > 0 {
			cp.Expires = time.Now().Add(time.Duration(cp.MaxAge) * time.Second)
			cp.MaxAge = 0
		}
		s.cookies[key] = &cp
	}
}

// Cookies implements http.CookieJar.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	jar := s.jar
	s.mu.Unlock()
	return jar.Cookies(u)
}

// Snapshot returns copies of every unexpired cookie the session holds,
// including Path, Expires and the security attributes.
func (s *Session) Snapshot() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]*http.Cookie, 0, len(s.cookies))
	for key, c := range s.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(s.cookies, key)
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Clear forgets every cookie.
func (s *Session) Clear() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("apiclient: create cookie jar: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar = jar
	s.cookies = make(map[cookieKey]*http.Cookie)
	return nil
}

// defaultCookiePath follows RFC 6265 section 5.1.4.
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	if i == 0 {
		return "/"
	}
	return p[:i]
}
