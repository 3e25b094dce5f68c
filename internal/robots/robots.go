package robots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// ErrDisallowed is returned by Check when robots.txt excludes a URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// DefaultCacheTTL is how long parsed rules are reused.
const DefaultCacheTTL = 30 * time.Minute

// maxRobotsSize caps the robots.txt body; larger files fail open.
const maxRobotsSize = 512 * 1024

// Checker is the policy consulted before every fetch.
type Checker interface {
	// Allowed reports whether rawURL may be fetched.
	Allowed(ctx context.Context, rawURL string) bool
}

// Check returns ErrDisallowed, wrapped with the URL, when c forbids rawURL.
func Check(ctx context.Context, c Checker, rawURL string) error {
	if c == nil || c.Allowed(ctx, rawURL) {
		return nil
	}
	return fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
}

// AllowAll is a Checker that permits every URL. It is used when robots.txt
// handling is turned off.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string) bool { return true }

// Agent evaluates robots.txt rules with caching.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	fetched time.Time
	// rules is nil when robots.txt could not be read; nil allows everything.
	rules *robotstxt.RobotsData
}

// Option configures an Agent.
type Option func(*Agent)

// WithCacheTTL sets how long rules are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Agent) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAgent creates an Agent that downloads robots.txt with client and
// matches rules against userAgent.
func NewAgent(client *http.Client, userAgent string, opts ...Option) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	a := &Agent{
		client:    client,
		userAgent: userAgent,
		ttl:       DefaultCacheTTL,
		logger:    slog.Default(),
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allowed reports whether rawURL is permitted for the agent's user agent.
// Unparseable and relative URLs are not allowed.
func (a *Agent) Allowed(ctx context.Context, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return false
	}

	rules := a.rules(ctx, target)
	if rules == nil {
		return true
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.TestAgent(path, a.productToken())
}

// productToken returns the name part of the user agent, which is what
// robots.txt groups are matched against.
func (a *Agent) productToken() string {
	token, _, _ := strings.Cut(a.userAgent, " ")
	token, _, _ = strings.Cut(token, "/")
	if token == "" {
		return "*"
	}
	return token
}

// rules returns cached or freshly downloaded rules for the target's origin.
func (a *Agent) rules(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	origin := strings.ToLower(target.Scheme + "://" + target.Host)

	a.mu.RLock()
	entry, ok := a.cache[origin]
	a.mu.RUnlock()
	if ok && a.now().Sub(entry.fetched) < a.ttl {
		return entry.rules
	}

	v, _, _ := a.group.Do(origin, func() (any, error) {
		a.mu.RLock()
		entry, ok := a.cache[origin]
		a.mu.RUnlock()
		if ok && a.now().Sub(entry.fetched) < a.ttl {
			return entry.rules, nil
		}

		rules, err := a.fetch(ctx, origin)
		if err != nil {
			// A download cut short by cancellation says nothing about the
			// site; leave the origin uncached so the next caller retries.
			if ctx.Err() != nil {
				return nil, nil
			}
			a.logger.Debug("robots.txt unavailable, allowing all",
				slog.String("origin", origin),
				slog.String("error", err.Error()))
		}
		a.mu.Lock()
		a.cache[origin] = cacheEntry{fetched: a.now(), rules: rules}
		a.mu.Unlock()
		return rules, nil
	})
	rules, _ := v.(*robotstxt.RobotsData)
	return rules
}

// fetch downloads and parses robots.txt for origin.
func (a *Agent) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	resp.Body = http.MaxBytesReader(nil, resp.Body, maxRobotsSize)
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

// Purge evicts cached rules for an origin such as "https://a.test".
func (a *Agent) Purge(origin string) {
	a.mu.Lock()
	delete(a.cache, strings.ToLower(strings.TrimSpace(origin)))
	a.mu.Unlock()
}
