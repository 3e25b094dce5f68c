package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Cooldowner is the host state a Retrier consults between attempts: it
// receives cooldowns after a 429 response, records every request sent and
// tells when the host may be contacted again.
// *hoststate.Table implements it.
type Cooldowner interface {
	Cooldown(host string, now time.Time, d time.Duration)
	Touch(host string, now time.Time)
	NextEligible(host string, now time.Time) time.Time
}

// RetryPolicy configures a Retrier.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMax caps the delay.
	BackoffMax time.Duration

	// Cooldown429 is the host cooldown after a 429 without Retry-After.
	Cooldown429 time.Duration

	// Timeout bounds each attempt.
	Timeout time.Duration
}

// Backoff returns the delay before retry n (1-based): BackoffBase doubled
// n-1 times, capped at BackoffMax.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		if (p.BackoffMax > 0 && d >= p.BackoffMax) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		d = p.BackoffMax
	}
	return d
}

// Attempt is the outcome of a whole retry sequence for one URL.
type Attempt struct {
	// Response is the last response received, nil if none was.
	Response *Response

	// Attempts is the number of requests sent.
	Attempts int

	// Delays are the waits between attempts, in order.
	Delays []time.Duration

	// Elapsed is the total time including waits.
	Elapsed time.Duration

	// Err is nil on success, a *FetchError on failure, or the context
	// error when the sequence stopped because of cancellation.
	Err error
}

// Retrier runs a URL through the retry policy.
type Retrier struct {
	transport Transport
	policy    RetryPolicy
	hosts     Cooldowner
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetrierLogger sets the logger.
func WithRetrierLogger(logger *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSleep replaces the wait between attempts. Tests use it to record
// delays without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRetrier creates a Retrier. hosts may be nil when no host state is
// tracked.
func NewRetrier(transport Transport, policy RetryPolicy, hosts Cooldowner, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		transport: transport,
		policy:    policy,
		hosts:     hosts,
		logger:    slog.Default(),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do fetches rawURL, retrying transient failures. Each request runs on a
// context detached from ctx's cancellation; ctx is checked between
// attempts only.
func (r *Retrier) Do(ctx context.Context, rawURL, host string) Attempt {
	start := r.now()
	requestCtx := context.WithoutCancel(ctx)
	var result Attempt
	var lastDelay time.Duration

	for {
		if r.hosts != nil {
			r.hosts.Touch(host, r.now())
		}
		result.Attempts++
		resp, err := r.transport.Fetch(requestCtx, rawURL, r.policy.Timeout)

		var fe *FetchError
		if err != nil {
			fe = classifyError(rawURL, err)
		} else {
			result.Response = resp
			fe = classifyStatus(resp, r.now())
		}
		if fe == nil {
			result.Err = nil
			result.Elapsed = r.now().Sub(start)
			return result
		}
		result.Err = fe

		if !fe.Transient() || result.Attempts > r.policy.MaxRetries {
			result.Elapsed = r.now().Sub(start)
			return result
		}

		delay := r.policy.Backoff(result.Attempts)
		if fe.StatusCode == 429 {
			cooldown := fe.RetryAfter
			if cooldown <= 0 {
				cooldown = r.policy.Cooldown429
			}
			if r.hosts != nil {
				r.hosts.Cooldown(host, r.now(), cooldown)
			}
			delay = max(delay, cooldown)
		} else if fe.RetryAfter > delay && fe.RetryAfter <= r.policy.BackoffMax {
			delay = fe.RetryAfter
		}

		delay = max(delay, lastDelay)
		lastDelay = delay

		r.logger.Debug("retrying fetch",
			slog.String("url", rawURL),
			slog.Int("attempt", result.Attempts),
			slog.Duration("delay", delay),
			slog.String("reason", fe.Reason()))

		waited, err := r.waitTurn(ctx, host, delay)
		result.Delays = append(result.Delays, waited)
		if err != nil {
			result.Elapsed = r.now().Sub(start)
			result.Err = fmt.Errorf("stopped after %d attempts: %w", result.Attempts, errors.Join(err, fe))
			return result
		}
	}
}

// waitTurn sleeps for at least d and until the host's minimum interval
// since its last request has passed. A request sent to the host by another
// worker meanwhile extends the wait. It returns the total time slept.
func (r *Retrier) waitTurn(ctx context.Context, host string, d time.Duration) (time.Duration, error) {
	now := r.now()
	until := now.Add(d)
	var total time.Duration
	for {
		if r.hosts != nil {
			if next := r.hosts.NextEligible(host, now); next.After(until) {
				until = next
			}
		}
		wait := until.Sub(now)
		if wait <= 0 {
			return total, nil
		}
		total += wait
		if err := r.sleep(ctx, wait); err != nil {
			return total, err
		}
		now = until
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
