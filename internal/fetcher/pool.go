package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/politecrawl/internal/frontier"
	"github.com/nao1215/politecrawl/internal/robots"
)

// Result is the outcome of fetching one lease. Exactly one Result is
// produced per dispatched lease that was fetched; the consumer must call
// Frontier.Complete on Lease once it is done with the result.
type Result struct {
	// Lease is the dispatched record.
	Lease *frontier.Lease

	// Kind is the coarse outcome.
	Kind Kind

	// Response is the last response received, nil if none was.
	Response *Response

	// StatusCode is the last HTTP status, 0 if no response was received.
	StatusCode int

	// Attempts is the number of requests sent.
	Attempts int

	// Delays are the backoff waits between attempts.
	Delays []time.Duration

	// Elapsed is the total fetch time including retries.
	Elapsed time.Duration

	// FetchedAt is when the fetch finished.
	FetchedAt time.Time

	// Err is nil on success.
	Err error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Pool is a fixed set of fetch workers sharing one frontier.
type Pool struct {
	frontier *frontier.Frontier
	retrier  *Retrier
	robots   robots.Checker
	workers  int
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	// onDispatch is called right before the first request of a lease.
	onDispatch func(rec frontier.Record, at time.Time)

	dispatched atomic.Int64
	disallowed atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of workers.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRobots sets the robots policy consulted before each fetch.
func WithRobots(c robots.Checker) PoolOption {
	return func(p *Pool) {
		if c != nil {
			p.robots = c
		}
	}
}

// WithGlobalRPS caps the request rate across all hosts. Zero or a negative
// value disables the cap.
func WithGlobalRPS(rps float64) PoolOption {
	return func(p *Pool) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDispatchHook registers fn to be called before each fetch.
func WithDispatchHook(fn func(rec frontier.Record, at time.Time)) PoolOption {
	return func(p *Pool) {
		p.onDispatch = fn
	}
}

// NewPool creates a Pool. Without options it runs one worker and allows
// every URL.
func NewPool(f *frontier.Frontier, r *Retrier, opts ...PoolOption) *Pool {
	p := &Pool{
		frontier: f,
		retrier:  r,
		robots:   robots.AllowAll{},
		workers:  1,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the workers and blocks until all of them have stopped. Workers
// stop when the frontier is closed or ctx is done; a worker that is fetching
// finishes the fetch and delivers its result first. Run never closes
// results.
func (p *Pool) Run(ctx context.Context, results chan<- Result) error {
	p.logger.Debug("starting fetch workers", slog.Int("workers", p.workers))

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for id := range p.workers {
		g.Go(func() error {
			p.work(ctx, id, results)
			return nil
		})
	}
	return g.Wait()
}

// Dispatched returns the number of leases that were fetched.
func (p *Pool) Dispatched() int64 {
	return p.dispatched.Load()
}

// Disallowed returns the number of leases dropped by the robots policy.
func (p *Pool) Disallowed() int64 {
	return p.disallowed.Load()
}

// work is the loop of one worker.
func (p *Pool) work(ctx context.Context, id int, results chan<- Result) {
	logger := p.logger.With(slog.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		changed := p.frontier.Changed()
		lease, wake, err := p.frontier.Pop(p.now())
		if err != nil {
			if errors.Is(err, frontier.ErrClosed) {
				return
			}
			if err := p.frontier.Wait(ctx, changed, wake); err != nil {
				return
			}
			continue
		}

		p.handle(ctx, logger, lease, results)
	}
}

// handle fetches one lease and delivers the result.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, lease *frontier.Lease, results chan<- Result) {
	rec := lease.Record

	if err := robots.Check(ctx, p.robots, rec.URL.URL); err != nil {
		p.disallowed.Add(1)
		logger.Debug("skipping disallowed URL", slog.String("url", rec.URL.URL))
		p.frontier.Refund(lease)
		return
	}
	// The robots lookup may have blocked; do not start a fetch after stop.
	if ctx.Err() != nil {
		p.frontier.Complete(lease)
		return
	}

	p.dispatched.Add(1)
	if p.onDispatch != nil {
		p.onDispatch(rec, p.now())
	}

	attempt := p.retrier.Do(ctx, rec.URL.URL, rec.Host())
	p.frontier.Release(lease)

	res := Result{
		Lease:     lease,
		Response:  attempt.Response,
		Attempts:  attempt.Attempts,
		Delays:    attempt.Delays,
		Elapsed:   attempt.Elapsed,
		FetchedAt: p.now(),
		Err:       attempt.Err,
	}
	if attempt.Response != nil {
		res.StatusCode = attempt.Response.StatusCode
	}

	var fe *FetchError
	switch {
	case attempt.Err == nil:
		res.Kind = KindSuccess
	case errors.As(attempt.Err, &fe):
		res.Kind = fe.Kind
		if fe.StatusCode != 0 {
			res.StatusCode = fe.StatusCode
		}
	default:
		res.Kind = KindFailure
	}

	logger.Debug("fetched",
		slog.String("url", rec.URL.URL),
		slog.Int("status", res.StatusCode),
		slog.Int("attempts", res.Attempts),
		slog.String("kind", res.Kind.String()))

	results <- res
}
