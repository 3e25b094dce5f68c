package frontier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/hoststate"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

func newTestFrontier(t *testing.T, interval time.Duration, concurrency, maxDepth, maxPages int) *Frontier {
	t.Helper()
	table := hoststate.NewTable(func(string) hoststate.Policy {
		return hoststate.Policy{MinInterval: interval, Concurrency: concurrency}
	})
	return New(urlnorm.NewVisitedSet(), table, maxDepth, maxPages)
}

func rec(t *testing.T, raw string, depth int) Record {
	t.Helper()
	c, err := urlnorm.NewNormalizer(nil).Normalize(raw, "")
	if err != nil {
		t.Fatalf("failed to normalize %q: %v", raw, err)
	}
	return Record{URL: c, Depth: depth}
}

// TestPush tests the rejection rules of Push.
func TestPush(t *testing.T) {
	t.Parallel()

	t.Run("duplicate is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		if got := f.Push(rec(t, "http://a.test/b", 1)); got != PushAccepted {
			t.Fatalf("expected accepted, got %v", got)
		}
		if got := f.Push(rec(t, "HTTP://a.test:80/b#x", 1)); got != PushDuplicate {
			t.Errorf("expected duplicate, got %v", got)
		}
		if s := f.Stats(); s.Queued != 1 || s.Accepted != 1 {
			t.Errorf("expected one queued record, got %+v", s)
		}
	})

	t.Run("rejects records beyond max depth", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 1, 10)
		if got := f.Push(rec(t, "http://a.test/deep", 2)); got != PushTooDeep {
			t.Errorf("expected too deep, got %v", got)
		}
		if !errors.Is(PushTooDeep.Err(), ErrTooDeep) {
			t.Error("expected PushTooDeep to map to ErrTooDeep")
		}
		// A rejected record is not marked seen.
		if got := f.Push(rec(t, "http://a.test/deep", 1)); got != PushAccepted {
			t.Errorf("expected accepted at lower depth, got %v", got)
		}
	})

	t.Run("rejects once the budget is reached", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 2)
		f.Push(rec(t, "http://a.test/1", 0))
		f.Push(rec(t, "http://a.test/2", 0))
		if got := f.Push(rec(t, "http://a.test/3", 0)); got != PushBudget {
			t.Errorf("expected budget, got %v", got)
		}
		if !errors.Is(PushBudget.Err(), ErrBudgetExceeded) {
			t.Error("expected PushBudget to map to ErrBudgetExceeded")
		}
		if !f.BudgetReached() {
			t.Error("expected budget to be reached")
		}
	})

	t.Run("rejects after close", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		if n := f.Close(); n != 1 {
			t.Errorf("expected 1 discarded record, got %d", n)
		}
		if got := f.Push(rec(t, "http://a.test/2", 0)); got != PushClosed {
			t.Errorf("expected closed, got %v", got)
		}
		if _, _, err := f.Pop(time.Now()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

// TestPop tests dispatch order and politeness gating.
func TestPop(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty frontier", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		if _, _, err := f.Pop(base); !errors.Is(err, ErrEmpty) {
			t.Errorf("expected ErrEmpty, got %v", err)
		}
		if !f.IsExhausted() {
			t.Error("expected new frontier to be exhausted")
		}
	})

	t.Run("orders by depth then insertion", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 10, 3, 10)
		f.Push(rec(t, "http://a.test/d1-first", 1))
		f.Push(rec(t, "http://a.test/d0", 0))
		f.Push(rec(t, "http://a.test/d1-second", 1))

		want := []string{"http://a.test/d0", "http://a.test/d1-first", "http://a.test/d1-second"}
		for i, w := range want {
			l, _, err := f.Pop(base)
			if err != nil {
				t.Fatalf("pop %d: unexpected error: %v", i, err)
			}
			if l.Record.URL.URL != w {
				t.Errorf("pop %d: expected %q, got %q", i, w, l.Record.URL.URL)
			}
		}
	})

	t.Run("reports wake time when host is rate limited", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, time.Second, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		f.Push(rec(t, "http://a.test/2", 0))

		l, _, err := f.Pop(base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f.Complete(l)

		_, wake, err := f.Pop(base.Add(100 * time.Millisecond))
		if !errors.Is(err, ErrNoneAvailable) {
			t.Fatalf("expected ErrNoneAvailable, got %v", err)
		}
		if !wake.Equal(base.Add(time.Second)) {
			t.Errorf("expected wake at %v, got %v", base.Add(time.Second), wake)
		}
		if f.IsExhausted() {
			t.Error("expected frontier with queued work not to be exhausted")
		}

		if _, _, err := f.Pop(base.Add(time.Second)); err != nil {
			t.Errorf("expected pop at wake time to succeed, got %v", err)
		}
	})

	t.Run("concurrency cap waits on release", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		f.Push(rec(t, "http://a.test/2", 0))

		l, _, err := f.Pop(base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, wake, err := f.Pop(base)
		if !errors.Is(err, ErrNoneAvailable) {
			t.Fatalf("expected ErrNoneAvailable, got %v", err)
		}
		if !wake.IsZero() {
			t.Errorf("expected zero wake time, got %v", wake)
		}

		f.Release(l)
		if _, _, err := f.Pop(base); err != nil {
			t.Errorf("expected pop after release to succeed, got %v", err)
		}
	})

	t.Run("skips ineligible host for another", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, time.Second, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		f.Push(rec(t, "http://a.test/2", 0))
		f.Push(rec(t, "http://b.test/1", 1))

		first, _, _ := f.Pop(base)
		second, _, err := f.Pop(base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.Record.Host() != "a.test" || second.Record.Host() != "b.test" {
			t.Errorf("expected a.test then b.test, got %s then %s", first.Record.Host(), second.Record.Host())
		}
	})
}

// TestLeaseLifecycle tests Release, Complete and Refund accounting.
func TestLeaseLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("complete ends the lease once", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		l, _, _ := f.Pop(time.Now())

		if f.IsExhausted() {
			t.Error("expected outstanding lease to block exhaustion")
		}
		f.Release(l)
		if f.IsExhausted() {
			t.Error("expected released but incomplete lease to block exhaustion")
		}
		f.Complete(l)
		f.Complete(l)
		if s := f.Stats(); s.InFlight != 0 {
			t.Errorf("expected 0 in flight, got %d", s.InFlight)
		}
		if !f.IsExhausted() {
			t.Error("expected frontier to be exhausted")
		}
	})

	t.Run("refund returns the budget slot", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 1)
		f.Push(rec(t, "http://a.test/private", 0))
		if got := f.Push(rec(t, "http://a.test/public", 0)); got != PushBudget {
			t.Fatalf("expected budget, got %v", got)
		}

		l, _, _ := f.Pop(time.Now())
		f.Refund(l)
		f.Refund(l)

		if s := f.Stats(); s.Accepted != 0 {
			t.Errorf("expected accepted 0 after refund, got %d", s.Accepted)
		}
		if got := f.Push(rec(t, "http://a.test/public", 0)); got != PushAccepted {
			t.Errorf("expected accepted after refund, got %v", got)
		}
	})

	t.Run("lease completes after close", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		f.Push(rec(t, "http://a.test/1", 0))
		l, _, _ := f.Pop(time.Now())
		f.Close()
		if f.IsExhausted() {
			t.Error("expected in-flight lease to block exhaustion after close")
		}
		f.Complete(l)
		if !f.IsExhausted() {
			t.Error("expected exhaustion after completing the last lease")
		}
	})
}

// TestWait tests the blocking behavior of Wait.
func TestWait(t *testing.T) {
	t.Parallel()

	t.Run("wakes on push", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		changed := f.Changed()
		go func() {
			time.Sleep(10 * time.Millisecond)
			f.Push(rec(t, "http://a.test/", 0))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.Wait(ctx, changed, time.Time{}); err != nil {
			t.Errorf("expected wake-up, got %v", err)
		}
	})

	t.Run("wakes at until", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		start := time.Now()
		if err := f.Wait(context.Background(), f.Changed(), start.Add(20*time.Millisecond)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("expected to wait at least 20ms, waited %v", elapsed)
		}
	})

	t.Run("returns on cancellation", func(t *testing.T) {
		t.Parallel()

		f := newTestFrontier(t, 0, 1, 3, 10)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := f.Wait(ctx, f.Changed(), time.Time{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// TestDedupUnderRepeatedPush verifies a URL pushed twice is dispatched once.
func TestDedupUnderRepeatedPush(t *testing.T) {
	t.Parallel()

	f := newTestFrontier(t, 0, 4, 3, 100)
	for range 2 {
		f.Push(rec(t, "http://a.test/b", 1))
		f.Push(rec(t, "http://a.test/c", 1))
	}

	dispatched := map[string]int{}
	for {
		l, _, err := f.Pop(time.Now())
		if err != nil {
			break
		}
		dispatched[l.Record.URL.URL]++
		f.Complete(l)
	}

	for u, n := range dispatched {
		if n != 1 {
			t.Errorf("expected %s dispatched once, got %d", u, n)
		}
	}
	if len(dispatched) != 2 {
		t.Errorf("expected 2 distinct dispatches, got %d", len(dispatched))
	}
}
