package crawler

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Origin identifies a scheme+host+port triple. Throttling and robots.txt rules
// are tracked per origin.
type Origin struct {
	Scheme string
	Host   string
	Port   string
}

// String renders the origin as scheme://host[:port].
func (o Origin) String() string {
	if o.Scheme == "" || o.Host == "" {
		return ""
	}
	return o.Scheme + "://" + hostPort(o.Host, o.Port)
}

// IsZero reports whether the origin is unset.
func (o Origin) IsZero() bool {
	return o.Scheme == "" && o.Host == ""
}

// Target is a normalized, absolute http(s) URL. Two targets are equal when
// their String values are equal.
type Target struct {
	u      *url.URL
	key    string
	origin Origin
}

// String returns the canonical form of the target.
func (t Target) String() string { return t.key }

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool { return t.key == "" }

// Origin returns the origin the target belongs to.
func (t Target) Origin() Origin { return t.origin }

// URL returns a copy of the parsed URL.
func (t Target) URL() *url.URL {
	if t.u == nil {
		return nil
	}
	cp := *t.u
	return &cp
}

// RequestURI returns the path and query used for robots.txt matching.
func (t Target) RequestURI() string {
	if t.u == nil {
		return "/"
	}
	return t.u.RequestURI()
}

// Normalize resolves raw against base (when non-nil) and canonicalizes the
// result. It lowercases the scheme and host, drops default ports and the
// fragment, collapses duplicate slashes, strips a trailing slash on non-root
// paths and sorts query parameters. Normalize(Normalize(x)) == Normalize(x).
//
// Unparseable input yields ErrInvalidURL. Absolute URLs with a scheme other
// than http or https yield ErrNotCrawlable.
func Normalize(raw string, base *url.URL) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https":
	case "":
		return Target{}, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	default:
		return Target{}, fmt.Errorf("%w: scheme %q", ErrNotCrawlable, u.Scheme)
	}
	if u.Opaque != "" || u.Host == "" {
		return Target{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	u.Host = hostPort(host, port)

	u.Fragment = ""
	u.RawFragment = ""
	escaped := cleanPath(u.EscapedPath())
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		u.Path = unescaped
		u.RawPath = escaped
	}
	u.RawQuery = sortQuery(u.RawQuery)
	u.ForceQuery = false

	return Target{
		u:      u,
		key:    u.String(),
		origin: Origin{Scheme: u.Scheme, Host: host, Port: port},
	}, nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(raw string) Target {
	t, err := Normalize(raw, nil)
	if err != nil {
		panic(err)
	}
	return t
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// sortQuery orders the raw "&" separated pairs by key without decoding them,
// so pairs url.ParseQuery would reject (such as "a=1;b=2") survive unchanged.
// Empty segments are dropped; pairs with equal keys keep their order.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return queryKey(kept[i]) < queryKey(kept[j])
	})
	return strings.Join(kept, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	return key
}

func hostPort(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// Scope decides which targets belong to the crawl. A target is in scope when
// its hostname equals the seed hostname, ignoring case, port and scheme.
// Sibling subdomains and the bare/www variants are distinct hosts.
type Scope struct {
	host string
}

// NewScope derives the crawl scope from the seed.
func NewScope(seed Target) Scope {
	return Scope{host: seed.origin.Host}
}

// Host returns the hostname the scope is pinned to.
func (s Scope) Host() string { return s.host }

// InScope reports whether t shares the seed's hostname.
func (s Scope) InScope(t Target) bool {
	return s.host != "" && t.origin.Host == s.host
}

// Follow reports whether t should be fetched: it must be in scope and must not
// point at a static asset that cannot yield links.
func (s Scope) Follow(t Target) bool {
	return s.InScope(t) && !isAsset(t)
}

var assetExtensions = map[string]struct{}{
	".7z": {}, ".avi": {}, ".bmp": {}, ".css": {}, ".csv": {}, ".doc": {},
	".docx": {}, ".eot": {}, ".exe": {}, ".gif": {}, ".gz": {}, ".ico": {},
	".jpeg": {}, ".jpg": {}, ".js": {}, ".json": {}, ".m4a": {}, ".mov": {},
	".mp3": {}, ".mp4": {}, ".ogg": {}, ".otf": {}, ".pdf": {}, ".png": {},
	".ppt": {}, ".pptx": {}, ".rar": {}, ".svg": {}, ".tar": {}, ".tgz": {},
	".ttf": {}, ".wav": {}, ".webm": {}, ".webp": {}, ".woff": {}, ".woff2": {},
	".xls": {}, ".xlsx": {}, ".zip": {},
}

func isAsset(t Target) bool {
	if t.u == nil {
		return false
	}
	ext := strings.ToLower(path.Ext(t.u.Path))
	if ext == "" {
		return false
	}
	_, ok := assetExtensions[ext]
	return ok
}
