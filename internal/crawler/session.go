package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/extract"
	"github.com/nao1215/politecrawl/internal/fetcher"
	"github.com/nao1215/politecrawl/internal/frontier"
	"github.com/nao1215/politecrawl/internal/hoststate"
	"github.com/nao1215/politecrawl/internal/robots"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

var (
	// ErrEmptySeedSet is returned by Run when no seed URL is valid.
	ErrEmptySeedSet = errors.New("empty seed set: no valid seed URL")

	// ErrAlreadyStarted is returned when Run is called twice on a Session.
	ErrAlreadyStarted = errors.New("crawl session already started")
)

// State is the lifecycle phase of a Session.
type State int32

const (
	// StateIdle is a session that has not been started.
	StateIdle State = iota
	// StateRunning dispatches and accepts work.
	StateRunning
	// StateDraining accepts no work and waits for in-flight fetches.
	StateDraining
	// StateTerminated has emitted CrawlFinished.
	StateTerminated
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session holds the state of one crawl. A Session runs once.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	transport    fetcher.Transport
	robots       robots.Checker
	sleep        func(ctx context.Context, d time.Duration) error
	dispatchHook func(rec frontier.Record, at time.Time)
	resultBuffer int
	eventBuffer  int

	normalizer *urlnorm.Normalizer
	visited    *urlnorm.VisitedSet
	hosts      *hoststate.Table
	frontier   *frontier.Frontier
	extractor  *extract.Extractor

	state atomic.Int32

	// Owned by the session loop.
	started   time.Time
	fetched   int
	failed    int
	discarded int
	reason    FinishReason
}

// Option configures a Session.
type Option func(*Session)

// WithTransport replaces the HTTP transport.
func WithTransport(t fetcher.Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithRobots replaces the robots.txt policy. It takes precedence over
// Config.RespectRobots.
func WithRobots(c robots.Checker) Option {
	return func(s *Session) {
		s.robots = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResultBuffer sets the capacity of the channel between the fetch
// workers and link extraction. The default is twice the worker count.
func WithResultBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.resultBuffer = n
		}
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.eventBuffer = n
		}
	}
}

// WithSleep replaces the function used for backoff waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Session) {
		s.sleep = sleep
	}
}

// WithDispatchHook registers fn to be called right before each fetch.
func WithDispatchHook(fn func(rec frontier.Record, at time.Time)) Option {
	return func(s *Session) {
		s.dispatchHook = fn
	}
}

// NewSession validates cfg and builds the crawl components. A nil cfg uses
// the defaults.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Session{
		cfg:          cfg,
		logger:       slog.Default(),
		now:          time.Now,
		resultBuffer: 2 * cfg.Workers,
		eventBuffer:  cfg.Workers,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.transport == nil {
		hostHeaders := make(map[string]map[string]string, len(cfg.Hosts))
		for host, hc := range cfg.Hosts {
			if len(hc.Headers) > 0 {
				hostHeaders[host] = hc.Headers
			}
		}
		t, err := fetcher.NewHTTPTransport(fetcher.TransportOptions{
			UserAgent:   cfg.UserAgent,
			Headers:     cfg.Headers,
			HostHeaders: hostHeaders,
			MaxBodySize: cfg.MaxBodySize,
			ProxyURL:    cfg.ProxyURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		s.transport = t
	}

	if s.robots == nil {
		if cfg.RespectRobots {
			s.robots = robots.NewAgent(s.robotsClient(), cfg.UserAgent, robots.WithLogger(s.logger))
		} else {
			s.robots = robots.AllowAll{}
		}
	}

	s.normalizer = urlnorm.NewNormalizer(cfg.TrackedQueryParams)
	s.visited = urlnorm.NewVisitedSet()
	s.hosts = hoststate.NewTable(func(host string) hoststate.Policy {
		interval, concurrency := cfg.HostPolicy(host)
		return hoststate.Policy{MinInterval: interval, Concurrency: concurrency}
	})
	s.frontier = frontier.New(s.visited, s.hosts, cfg.MaxDepth, cfg.MaxPages)
	return s, nil
}

// robotsClient returns the client for robots.txt downloads. It shares the
// fetch transport, so proxies apply, but follows redirects.
func (s *Session) robotsClient() *http.Client {
	client := &http.Client{Timeout: s.cfg.RequestTimeout}
	if ht, ok := s.transport.(*fetcher.HTTPTransport); ok {
		client.Transport = ht.Client().Transport
	}
	return client
}

// Run starts a crawl with the default Session for cfg.
func Run(ctx context.Context, seeds []string, cfg *config.Config, opts ...Option) (<-chan Event, error) {
	s, err := NewSession(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, seeds)
}

// Run seeds the frontier and starts the crawl. Invalid seeds are reported
// as FetchFailed events; if none is valid Run returns ErrEmptySeedSet.
//
// The returned channel must be read until it is closed. CrawlFinished is
// always the last event, including after ctx is canceled.
func (s *Session) Run(ctx context.Context, seeds []string) (<-chan Event, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	s.started = s.now()

	var rejected []Event
	valid := make([]urlnorm.Canonical, 0, len(seeds))
	for _, raw := range seeds {
		c, err := s.normalizer.Normalize(raw, "")
		if err != nil {
			rejected = append(rejected, FetchFailed{
				URL:      raw,
				Reason:   err.Error(),
				Kind:     fetcher.KindFailure,
				Err:      err,
				FailedAt: s.started,
			})
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		s.state.Store(int32(StateTerminated))
		return nil, ErrEmptySeedSet
	}

	s.extractor = s.newExtractor(valid)
	for _, c := range valid {
		res := s.frontier.Push(frontier.Record{URL: c, DiscoveredAt: s.started})
		if res != frontier.PushAccepted {
			s.logger.Debug("seed not queued", slog.String("url", c.URL), slog.String("result", res.String()))
		}
	}

	retrierOpts := []fetcher.RetrierOption{fetcher.WithRetrierLogger(s.logger)}
	if s.sleep != nil {
		retrierOpts = append(retrierOpts, fetcher.WithSleep(s.sleep))
	}
	retrier := fetcher.NewRetrier(s.transport, fetcher.RetryPolicy{
		MaxRetries:  s.cfg.MaxRetries,
		BackoffBase: s.cfg.BackoffBase,
		BackoffMax:  s.cfg.BackoffMax,
		Cooldown429: s.cfg.Cooldown429,
		Timeout:     s.cfg.RequestTimeout,
	}, s.hosts, retrierOpts...)

	pool := fetcher.NewPool(s.frontier, retrier,
		fetcher.WithWorkers(s.cfg.Workers),
		fetcher.WithRobots(s.robots),
		fetcher.WithGlobalRPS(s.cfg.GlobalRPS),
		fetcher.WithPoolLogger(s.logger),
		fetcher.WithDispatchHook(s.dispatchHook),
	)

	s.logger.Info("crawl started",
		slog.Int("seeds", len(valid)),
		slog.Int("invalid_seeds", len(rejected)),
		slog.Int("workers", s.cfg.Workers),
		slog.Int("max_depth", s.cfg.MaxDepth),
		slog.Int("max_pages", s.cfg.MaxPages))

	events := make(chan Event, s.eventBuffer)
	go s.loop(ctx, pool, rejected, events)
	return events, nil
}

func (s *Session) newExtractor(seeds []urlnorm.Canonical) *extract.Extractor {
	opts := []extract.Option{
		extract.WithMaxLinks(s.cfg.MaxLinksPerPage),
		extract.WithNofollow(s.cfg.RespectNofollow),
	}
	if s.cfg.SameSiteOnly {
		opts = append(opts, extract.WithFilter(extract.SameSite(seeds)))
	}
	if len(s.cfg.Hosts) > 0 {
		opts = append(opts, extract.WithFilter(extract.HostPatterns(s.cfg.Hosts)))
	}
	return extract.New(s.normalizer, opts...)
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Transport returns a transport for fetches made outside the crawl, such as
// sitemaps loaded before Run. Its requests pass the robots.txt policy and
// take turns in the session's host table, so the per-host interval also
// separates them from the crawl's own requests.
func (s *Session) Transport() fetcher.Transport {
	return politeTransport{s: s}
}

// Stats returns the frontier counters.
func (s *Session) Stats() frontier.Stats {
	return s.frontier.Stats()
}

// loop consumes fetch results until every worker has stopped, then emits
// CrawlFinished and closes events.
func (s *Session) loop(ctx context.Context, pool *fetcher.Pool, rejected []Event, events chan<- Event) {
	defer close(events)

	for _, ev := range rejected {
		s.failed++
		events <- ev
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	results := make(chan fetcher.Result, s.resultBuffer)
	go func() {
		if err := pool.Run(runCtx, results); err != nil {
			s.logger.Error("fetch workers stopped", slog.String("error", err.Error()))
		}
		close(results)
	}()

	var deadline <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	done := ctx.Done()

	for {
		changed := s.frontier.Changed()
		if s.State() == StateRunning && s.frontier.IsExhausted() {
			reason := ReasonExhausted
			if s.frontier.BudgetReached() {
				reason = ReasonPageBudget
			}
			s.drain(reason, stop)
		}

		select {
		case res, ok := <-results:
			if !ok {
				// Workers only stop on their own when ctx is done.
				s.drain(ReasonCanceled, stop)
				s.finish(pool, events)
				return
			}
			s.process(res, events)
		case <-changed:
		case <-done:
			done = nil
			s.drain(ReasonCanceled, stop)
		case <-deadline:
			deadline = nil
			s.drain(ReasonTimeBudget, stop)
		}
	}
}

// drain closes the frontier and stops the workers once their current
// fetch is delivered.
func (s *Session) drain(reason FinishReason, stop context.CancelFunc) {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	s.reason = reason
	s.discarded = s.frontier.Close()
	stop()

	stats := s.frontier.Stats()
	s.logger.Info("crawl draining",
		slog.String("reason", string(reason)),
		slog.Int("discarded", s.discarded),
		slog.Int("in_flight", stats.InFlight))
}

// process turns one fetch result into an event and feeds discovered links
// back into the frontier. The lease is completed only after every push, so
// the frontier never looks exhausted while links are still being added.
func (s *Session) process(res fetcher.Result, events chan<- Event) {
	lease := res.Lease
	rec := lease.Record
	defer s.frontier.Complete(lease)

	if !res.OK() {
		s.failed++
		reason := res.Err.Error()
		var fe *fetcher.FetchError
		if errors.As(res.Err, &fe) {
			reason = fe.Reason()
		}
		s.logger.Debug("fetch failed",
			slog.String("url", rec.URL.URL),
			slog.String("reason", reason),
			slog.Int("attempts", res.Attempts))
		events <- FetchFailed{
			URL:        rec.URL.URL,
			Reason:     reason,
			Attempts:   res.Attempts,
			Depth:      rec.Depth,
			StatusCode: res.StatusCode,
			Kind:       res.Kind,
			Err:        res.Err,
			FailedAt:   res.FetchedAt,
		}
		return
	}

	s.fetched++
	links := s.enqueueLinks(res, rec)

	resp := res.Response
	events <- PageFetched{
		URL:         rec.URL.URL,
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ByteSize:    len(resp.Body),
		Elapsed:     res.Elapsed,
		Depth:       rec.Depth,
		Attempts:    res.Attempts,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Source:      rec.Source,
		FetchedAt:   res.FetchedAt,
		Links:       links,
	}
}

// enqueueLinks pushes the links of a fetched page and returns how many
// were accepted.
func (s *Session) enqueueLinks(res fetcher.Result, rec frontier.Record) int {
	if rec.Depth >= s.cfg.MaxDepth || s.frontier.Closed() {
		return 0
	}

	accepted := 0
	now := s.now()
	for link := range s.extractor.Extract(res.Response, rec) {
		switch s.frontier.Push(rec.Child(link, now)) {
		case frontier.PushAccepted:
			accepted++
		case frontier.PushClosed, frontier.PushBudget:
			return accepted
		}
	}
	return accepted
}

// finish emits the summary event.
func (s *Session) finish(pool *fetcher.Pool, events chan<- Event) {
	s.state.Store(int32(StateTerminated))

	summary := CrawlFinished{
		TotalFetched:    s.fetched,
		TotalFailed:     s.failed,
		TotalDisallowed: int(pool.Disallowed()),
		TotalDiscarded:  s.discarded,
		Duration:        s.now().Sub(s.started),
		Reason:          s.reason,
	}
	s.logger.Info("crawl finished",
		slog.Int("fetched", summary.TotalFetched),
		slog.Int("failed", summary.TotalFailed),
		slog.Int("disallowed", summary.TotalDisallowed),
		slog.Duration("duration", summary.Duration),
		slog.String("reason", string(summary.Reason)))
	events <- summary
}
