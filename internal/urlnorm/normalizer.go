package urlnorm

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
	"strings"

	"golang.org/x/net/idna"
)

// Canonical is a normalized URL together with its host partition key.
// Host includes a non-default port, so a.test and a.test:8080 are
// rate-limited independently.
type Canonical struct {
	// URL is the canonical absolute URL.
	URL string

	// Host is the lower-case ASCII host, with port when it is not the
	// scheme default.
	Host string
}

// String returns the canonical URL.
func (c Canonical) String() string {
	return c.URL
}

// trackingParams are always dropped when no allow-list is configured.
var trackingParams = map[string]struct{}{
	"gclid":  {},
	"fbclid": {},
}

// Normalizer turns raw or relative URLs into Canonical values.
// A Normalizer is immutable after construction and safe for concurrent use.
type Normalizer struct {
	// allow is the set of query parameters to keep. Empty keeps every
	// parameter that is not a known tracking parameter.
	allow map[string]struct{}
}

// NewNormalizer creates a Normalizer. trackedParams is the query parameter
// allow-list; pass nil to keep all non-tracking parameters.
func NewNormalizer(trackedParams []string) *Normalizer {
	n := &Normalizer{allow: make(map[string]struct{}, len(trackedParams))}
	for _, p := range trackedParams {
		p = strings.TrimSpace(p)
		if p != "" {
			n.allow[p] = struct{}{}
		}
	}
	return n
}

// Normalize resolves raw against base (which may be empty for absolute URLs)
// and returns its canonical form.
func (n *Normalizer) Normalize(raw, base string) (Canonical, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Canonical{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Canonical{}, fmt.Errorf("%w: %s", ErrInvalidURL, err.Error())
	}

	if base != "" {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return Canonical{}, fmt.Errorf("%w: base: %s", ErrInvalidURL, err.Error())
		}
		u = b.ResolveReference(u)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Canonical{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	host, err := canonicalHost(scheme, u)
	if err != nil {
		return Canonical{}, err
	}

	escapedPath := cleanPath(u.EscapedPath())

	var b strings.Builder
	b.Grow(len(raw) + 8)
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(escapedPath)
	if q := n.filterQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}

	return Canonical{URL: b.String(), Host: host}, nil
}

// canonicalHost lower-cases and IDNA-encodes the host and strips the
// default port of the scheme.
func canonicalHost(scheme string, u *url.URL) (string, error) {
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if hostname == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if ip := net.ParseIP(hostname); ip == nil {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			// Lookup rejects labels such as underscores that real hosts use.
			ascii, err = idna.Punycode.ToASCII(hostname)
			if err != nil {
				return "", fmt.Errorf("%w: host %q: %s", ErrInvalidURL, hostname, err.Error())
			}
		}
		hostname = ascii
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, nil
	}
	return hostname, nil
}

// cleanPath removes dot segments and duplicate slashes while keeping a
// trailing slash. An empty path becomes "/".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	trailing := strings.HasSuffix(p, "/") ||
		strings.HasSuffix(p, "/.") ||
		strings.HasSuffix(p, "/..")
	cleaned := path.Clean("/" + p)
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// filterQuery drops unwanted parameters and sorts the rest by key, then value.
func (n *Normalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	// ParseQuery returns the well-formed pairs even when some are malformed.
	values, _ := url.ParseQuery(rawQuery)

	keys := make([]string, 0, len(values))
	for k := range values {
		if n.keep(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := slices.Clone(values[k])
		slices.Sort(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func (n *Normalizer) keep(key string) bool {
	if len(n.allow) > 0 {
		_, ok := n.allow[key]
		return ok
	}
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return false
	}
	_, tracking := trackingParams[lower]
	return !tracking
}
