// Package cookie parses Set-Cookie directives into name, value and an
// ordered attribute list, and rewrites them for cross-origin delivery.
package cookie

import (
	"net/http"
	"strings"
)

// Attribute is one cookie-av of a Set-Cookie directive. Flag attributes such
// as Secure and HttpOnly have HasValue == false.
type Attribute struct {
	Name     string
	Value    string
	HasValue bool
}

func (a Attribute) String() string {
	if !a.HasValue {
		return a.Name
	}
	return a.Name + "=" + a.Value
}

// SetCookie is a single structured Set-Cookie directive. Attribute order and
// spelling are preserved so that re-serialising an unmodified directive only
// normalises whitespace.
type SetCookie struct {
	Name  string
	Value string
	Attrs []Attribute
}

// Parse splits one Set-Cookie value. A leading pair without "=" yields an
// empty name, matching how browsers store such cookies. The second return is
// false for a blank value.
func Parse(raw string) (SetCookie, bool) {
	parts := strings.Split(raw, ";")
	pair := strings.TrimSpace(parts[0])
	if pair == "" {
		return SetCookie{}, false
	}

	var c SetCookie
	if name, value, ok := strings.Cut(pair, "="); ok {
		c.Name = strings.TrimSpace(name)
		c.Value = strings.TrimSpace(value)
	} else {
		c.Value = pair
	}

	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, value, ok := strings.Cut(p, "=")
		c.Attrs = append(c.Attrs, Attribute{
			Name:     strings.TrimSpace(name),
			Value:    strings.TrimSpace(value),
			HasValue: ok,
		})
	}
	return c, true
}

// String serialises the directive in Set-Cookie form.
func (c SetCookie) String() string {
	var b strings.Builder
	if c.Name != "" {
		b.WriteString(c.Name)
		b.WriteByte('=')
	}
	b.WriteString(c.Value)
	for _, a := range c.Attrs {
		b.WriteString("; ")
		b.WriteString(a.String())
	}
	return b.String()
}

// Attr returns the first attribute named name, compared case-insensitively.
func (c SetCookie) Attr(name string) (Attribute, bool) {
	if i := c.index(name); i >= 0 {
		return c.Attrs[i], true
	}
	return Attribute{}, false
}

func (c SetCookie) index(name string) int {
	for i, a := range c.Attrs {
		if strings.EqualFold(a.Name, name) {
			return i
		}
	}
	return -1
}

// Secure reports whether the Secure flag is present.
func (c SetCookie) Secure() bool {
	return c.index("Secure") >= 0
}

// SameSite returns the SameSite value, or "" when absent.
func (c SetCookie) SameSite() string {
	a, _ := c.Attr("SameSite")
	return a.Value
}

// Set replaces the value of the first attribute named name, keeping its
// position and spelling, and drops any later duplicates. A missing attribute
// is appended.
func (c *SetCookie) Set(name, value string) {
	i := c.index(name)
	if i < 0 {
		c.Attrs = append(c.Attrs, Attribute{Name: name, Value: value, HasValue: true})
		return
	}
	c.Attrs[i].Value = value
	c.Attrs[i].HasValue = true
	c.dropAfter(i, name)
}

// SetFlag ensures a valueless attribute such as Secure is present.
func (c *SetCookie) SetFlag(name string) {
	if c.index(name) < 0 {
		c.Attrs = append(c.Attrs, Attribute{Name: name})
	}
}

func (c *SetCookie) dropAfter(i int, name string) {
	kept := c.Attrs[:i+1]
	for _, a := range c.Attrs[i+1:] {
		if !strings.EqualFold(a.Name, name) {
			kept = append(kept, a)
		}
	}
	c.Attrs = kept
}

// MakeCrossOrigin adds Secure unless present, then forces SameSite=None.
// Browsers refuse to store a SameSite=None cookie without Secure, and refuse
// to send a Lax or Strict cookie on cross-site requests.
func (c *SetCookie) MakeCrossOrigin() {
	c.SetFlag("Secure")
	c.Set("SameSite", "None")
}

// RewriteCrossOrigin parses raw, applies MakeCrossOrigin and serialises the
// result. Blank values are returned unchanged.
func RewriteCrossOrigin(raw string) string {
	c, ok := Parse(raw)
	if !ok {
		return raw
	}
	c.MakeCrossOrigin()
	return c.String()
}

// RewriteHeader rewrites every Set-Cookie value of h in place and returns how
// many values changed. Each header value is treated as exactly one directive;
// a value that an intermediary already folded into "a=1, b=2" cannot be split
// safely (Expires contains commas) and is rewritten as a single directive.
func RewriteHeader(h http.Header) int {
	vals := h.Values("Set-Cookie")
	if len(vals) == 0 {
		return 0
	}
	out := make([]string, 0, len(vals))
	n := 0
	for _, v := range vals {
		rewritten := RewriteCrossOrigin(v)
		if rewritten != v {
			n++
		}
		out = append(out, rewritten)
	}
	h["Set-Cookie"] = out
	return n
}
