package extract

import (
	"net"
	"path/filepath"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

// Filter decides whether a discovered link is in scope.
type Filter func(c urlnorm.Canonical) bool

// SameSite returns a filter that accepts links whose registrable domain
// (eTLD+1, as listed in the public suffix list) matches one of the seeds.
// IP addresses and hosts without a registrable domain must match exactly.
func SameSite(seeds []urlnorm.Canonical) Filter {
	sites := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		sites[registrableDomain(s.Host)] = struct{}{}
	}
	return func(c urlnorm.Canonical) bool {
		_, ok := sites[registrableDomain(c.Host)]
		return ok
	}
}

// registrableDomain returns the eTLD+1 of host, or the bare host name when
// it has none.
func registrableDomain(host string) string {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	name = strings.Trim(name, "[]")
	if net.ParseIP(name) != nil {
		return name
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(name); err == nil {
		return domain
	}
	return name
}

// HostPatterns returns a filter applying the per-host ignore and follow
// path patterns from the configuration file. Hosts without patterns accept
// every link.
func HostPatterns(hosts map[string]config.HostConfig) Filter {
	return func(c urlnorm.Canonical) bool {
		hc, ok := hosts[c.Host]
		if !ok {
			return true
		}
		return shouldCrawl(c.URL, hc.IgnorePatterns, hc.FollowPatterns)
	}
}

// shouldCrawl checks a URL against ignore and follow patterns.
//
// Logic:
//  1. If the path matches any ignore pattern, skip it
//  2. If follow patterns are set and the path matches none, skip it
//  3. Otherwise, crawl it
func shouldCrawl(rawURL string, ignore, follow []string) bool {
	path := pathOf(rawURL)

	for _, pattern := range ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(follow) == 0 {
		return true
	}
	for _, pattern := range follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// pathOf returns the path of a canonical URL without its query.
func pathOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "/"
	}
	path, _, _ := strings.Cut(rest[i:], "?")
	return path
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//   - a trailing /* to match everything below a directory
//   - a leading *. to match a file extension anywhere
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard" and "/admin/users/1"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1"
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?/") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}
	return false
}
