// Package sessionstore persists API client sessions between CLI invocations
// in a TOML file readable only by its owner.
package sessionstore

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"rise-gateway/internal/apiclient"
)

// fileMode is enforced on every save.
const fileMode = 0o600

// Store is the decoded session file. Sessions are keyed by base URL.
type Store struct {
	Sessions []Entry `toml:"sessions"`
}

// Entry is one persisted session.
type Entry struct {
	BaseURL   string    `toml:"base_url"`
	ID        string    `toml:"id"`
	CreatedAt time.Time `toml:"created_at"`
	Cookies   []Cookie  `toml:"cookies"`
}

// Cookie is a stored cookie with the attributes needed to restore it.
type Cookie struct {
	Name     string     `toml:"name"`
	Value    string     `toml:"value"`
	Path     string     `toml:"path"`
	Domain   string     `toml:"domain,omitempty"`
	Expires  *time.Time `toml:"expires,omitempty"`
	Secure   bool       `toml:"secure"`
	HTTPOnly bool       `toml:"http_only"`
	SameSite string     `toml:"same_site,omitempty"`
}

// Load reads the session file at path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	var s Store
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sessionstore: parse %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the store to path with mode 0600, replacing any previous file.
func (s *Store) Save(path string) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionstore: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("sessionstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.toml")
	if err != nil {
		return fmt.Errorf("sessionstore: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sessionstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sessionstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionstore: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("sessionstore: replace %s: %w", path, err)
	}
	return nil
}

// Session returns the stored session for baseURL with its cookies restored,
// or a new empty session when none is stored.
func (s *Store) Session(baseURL string) (*apiclient.Session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: parse base URL: %w", err)
	}

	e := s.find(baseURL)
	if e == nil {
		return apiclient.NewSession()
	}

	session, err := apiclient.ResumeSession(e.ID, e.CreatedAt)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cookies := make([]*http.Cookie, 0, len(e.Cookies))
	for _, c := range e.Cookies {
		if c.Expires != nil && !c.Expires.After(now) {
			continue
		}
		cookies = append(cookies, c.httpCookie())
	}
	session.SetCookies(u, cookies)
	return session, nil
}

// Put records session under baseURL, replacing any previous entry.
func (s *Store) Put(baseURL string, session *apiclient.Session) {
	e := Entry{
		BaseURL:   baseURL,
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
	}
	for _, c := range session.Snapshot() {
		e.Cookies = append(e.Cookies, fromHTTPCookie(c))
	}

	if existing := s.find(baseURL); existing != nil {
		*existing = e
		return
	}
	s.Sessions = append(s.Sessions, e)
}

// Delete removes the entry for baseURL and reports whether one existed.
func (s *Store) Delete(baseURL string) bool {
	for i := range s.Sessions {
		if s.Sessions[i].BaseURL == baseURL {
			s.Sessions = append(s.Sessions[:i], s.Sessions[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) find(baseURL string) *Entry {
	for i := range s.Sessions {
		if s.Sessions[i].BaseURL == baseURL {
			return &s.Sessions[i]
		}
	}
	return nil
}

func fromHTTPCookie(c *http.Cookie) Cookie {
	out := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		exp := c.Expires.UTC()
		out.Expires = &exp
	}
	switch c.SameSite {
	case http.SameSiteLaxMode:
		out.SameSite = "lax"
	case http.SameSiteStrictMode:
		out.SameSite = "strict"
	case http.SameSiteNoneMode:
		out.SameSite = "none"
	}
	return out
}

func (c Cookie) httpCookie() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		out.Expires = *c.Expires
	}
	switch strings.ToLower(c.SameSite) {
	case "lax":
		out.SameSite = http.SameSiteLaxMode
	case "strict":
		out.SameSite = http.SameSiteStrictMode
	case "none":
		out.SameSite = http.SameSiteNoneMode
	}
	return out
}
