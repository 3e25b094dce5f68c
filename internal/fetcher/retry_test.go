package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"
)

// scriptedTransport returns the scripted statuses in order, then 200.
type scriptedTransport struct {
	mu       sync.Mutex
	statuses []int
	errs     []error
	headers  http.Header
	calls    int
}

func (s *scriptedTransport) Fetch(_ context.Context, rawURL string, _ time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	status := http.StatusOK
	if i < len(s.statuses) {
		status = s.statuses[i]
	}
	header := http.Header{}
	if s.headers != nil {
		header = s.headers.Clone()
	}
	return &Response{URL: rawURL, FinalURL: rawURL, StatusCode: status, Header: header, Body: []byte("ok")}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeHosts records cooldowns and requests. A host becomes eligible again
// interval after its last request.
type fakeHosts struct {
	mu        sync.Mutex
	cooldowns []time.Duration
	touches   int
	lastTouch time.Time
	interval  time.Duration
}

func (f *fakeHosts) Cooldown(_ string, _ time.Time, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns = append(f.cooldowns, d)
}

func (f *fakeHosts) Touch(_ string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	f.lastTouch = now
}

func (f *fakeHosts) NextEligible(_ string, now time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if next := f.lastTouch.Add(f.interval); next.After(now) {
		return next
	}
	return now
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  time.Second,
		Cooldown429: 5 * time.Second,
		Timeout:     time.Second,
	}
}

// TestBackoff tests the exponential schedule and its cap.
func TestBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}
	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for n, w := range want {
		if got := p.Backoff(n); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, w)
		}
	}
	if got := p.Backoff(200); got != time.Second {
		t.Errorf("expected capped delay for large n, got %v", got)
	}
}

// TestRetrierDo tests the retry policy.
func TestRetrierDo(t *testing.T) {
	t.Parallel()

	t.Run("503 three times then 200", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{503, 503, 503, 200}}
		hosts := &fakeHosts{}
		r := NewRetrier(tr, testPolicy(), hosts, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/", "a.test")
		if got.Err != nil {
			t.Fatalf("expected success, got %v", got.Err)
		}
		if got.Attempts != 4 {
			t.Errorf("expected 4 attempts (3 retries), got %d", got.Attempts)
		}
		if len(got.Delays) != 3 {
			t.Fatalf("expected 3 delays, got %v", got.Delays)
		}
		for i := 1; i < len(got.Delays); i++ {
			if got.Delays[i] < got.Delays[i-1] {
				t.Errorf("expected non-decreasing delays, got %v", got.Delays)
			}
		}
		if got.Delays[0] != 100*time.Millisecond || got.Delays[2] != 400*time.Millisecond {
			t.Errorf("unexpected delays %v", got.Delays)
		}
		if hosts.touches != 4 {
			t.Errorf("expected host touched before each attempt, got %d", hosts.touches)
		}
	})

	t.Run("retry waits for the host interval", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{503, 200}}
		hosts := &fakeHosts{interval: 2 * time.Second}
		r := NewRetrier(tr, testPolicy(), hosts, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/", "a.test")
		if got.Err != nil {
			t.Fatalf("expected success, got %v", got.Err)
		}
		if len(got.Delays) != 1 {
			t.Fatalf("expected one wait, got %v", got.Delays)
		}
		// The backoff is 100ms; the host interval dominates.
		if got.Delays[0] < 1900*time.Millisecond || got.Delays[0] > 2*time.Second {
			t.Errorf("expected the retry to wait about 2s, got %v", got.Delays[0])
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{500, 500, 500, 500, 500}}
		r := NewRetrier(tr, testPolicy(), nil, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/", "a.test")
		if !errors.Is(got.Err, ErrTransient) {
			t.Fatalf("expected transient error, got %v", got.Err)
		}
		if got.Attempts != 4 {
			t.Errorf("expected 4 attempts, got %d", got.Attempts)
		}
		var fe *FetchError
		if !errors.As(got.Err, &fe) || fe.StatusCode != 500 {
			t.Errorf("expected FetchError with status 500, got %v", got.Err)
		}
	})

	t.Run("404 is not retried", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{404}}
		r := NewRetrier(tr, testPolicy(), nil, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/missing", "a.test")
		if !errors.Is(got.Err, ErrPermanent) {
			t.Fatalf("expected permanent error, got %v", got.Err)
		}
		if got.Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", got.Attempts)
		}
	})

	t.Run("429 cools the host down", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{429, 200}, headers: http.Header{"Retry-After": []string{"7"}}}
		hosts := &fakeHosts{}
		r := NewRetrier(tr, testPolicy(), hosts, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/", "a.test")
		if got.Err != nil {
			t.Fatalf("expected success after 429, got %v", got.Err)
		}
		if len(hosts.cooldowns) != 1 || hosts.cooldowns[0] != 7*time.Second {
			t.Errorf("expected one 7s cooldown, got %v", hosts.cooldowns)
		}
		if got.Delays[0] != 7*time.Second {
			t.Errorf("expected retry to wait for the cooldown, got %v", got.Delays)
		}
	})

	t.Run("429 without Retry-After uses default cooldown", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{429}}
		hosts := &fakeHosts{}
		r := NewRetrier(tr, testPolicy(), hosts, WithSleep(noSleep))

		r.Do(context.Background(), "http://a.test/", "a.test")
		if len(hosts.cooldowns) != 1 || hosts.cooldowns[0] != 5*time.Second {
			t.Errorf("expected default cooldown, got %v", hosts.cooldowns)
		}
	})

	t.Run("connection reset is retried", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{errs: []error{syscall.ECONNRESET}}
		r := NewRetrier(tr, testPolicy(), nil, WithSleep(noSleep))

		got := r.Do(context.Background(), "http://a.test/", "a.test")
		if got.Err != nil {
			t.Fatalf("expected success after reset, got %v", got.Err)
		}
		if got.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", got.Attempts)
		}
	})

	t.Run("cancellation stops between attempts", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{statuses: []int{503, 503, 503, 503}}
		ctx, cancel := context.WithCancel(context.Background())
		sleep := func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
		r := NewRetrier(tr, testPolicy(), nil, WithSleep(sleep))

		got := r.Do(ctx, "http://a.test/", "a.test")
		if !errors.Is(got.Err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", got.Err)
		}
		if !errors.Is(got.Err, ErrTransient) {
			t.Errorf("expected the last fetch error to be kept, got %v", got.Err)
		}
		if tr.Calls() != 1 {
			t.Errorf("expected no attempt after cancellation, got %d calls", tr.Calls())
		}
	})
}

// TestClassifyError tests transport error classification.
func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
		kind      Kind
	}{
		{"deadline", context.DeadlineExceeded, true, KindTimeout},
		{"reset", syscall.ECONNRESET, true, KindFailure},
		{"refused", syscall.ECONNREFUSED, true, KindFailure},
		{"body too large", ErrBodyTooLarge, false, KindFailure},
		{"unknown", errors.New("malformed HTTP response"), false, KindFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fe := classifyError("http://a.test/", tt.err)
			if fe.Transient() != tt.transient {
				t.Errorf("expected transient=%v, got %v", tt.transient, fe.Transient())
			}
			if fe.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, fe.Kind)
			}
			if !errors.Is(fe, tt.err) {
				t.Errorf("expected cause to be preserved")
			}
		})
	}
}
