package crawler

import (
	"context"
	"time"

	"github.com/nao1215/politecrawl/internal/fetcher"
	"github.com/nao1215/politecrawl/internal/robots"
)

// busyPoll is the wait used when a host is limited only by its in-flight
// requests, which give no wake time.
const busyPoll = 20 * time.Millisecond

// politeTransport fetches URLs outside the frontier, such as sitemaps, under
// the same robots.txt policy and per-host limits as the crawl itself.
type politeTransport struct {
	s *Session
}

// Fetch checks robots.txt, waits for the host's turn in the session's host
// table and fetches the canonical form of rawURL.
func (p politeTransport) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*fetcher.Response, error) {
	c, err := p.s.normalizer.Normalize(rawURL, "")
	if err != nil {
		return nil, err
	}
	if err := robots.Check(ctx, p.s.robots, c.URL); err != nil {
		return nil, err
	}
	if err := p.acquire(ctx, c.Host); err != nil {
		return nil, err
	}
	defer p.s.hosts.Release(c.Host)

	return p.s.transport.Fetch(ctx, c.URL, timeout)
}

// acquire blocks until the host table grants a slot for host.
func (p politeTransport) acquire(ctx context.Context, host string) error {
	for {
		now := time.Now()
		if p.s.hosts.TryAcquire(host, now) {
			return nil
		}
		wait := p.s.hosts.NextEligible(host, now).Sub(now)
		if wait <= 0 {
			wait = busyPoll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
