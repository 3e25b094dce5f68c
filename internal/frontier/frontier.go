package frontier

import (
	"container/heap"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nao1215/politecrawl/internal/hoststate"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

// Lease is a dispatched record owned by one worker.
type Lease struct {
	// Record is the dispatched record.
	Record Record

	// DispatchedAt is when the host slot was granted.
	DispatchedAt time.Time

	released  bool
	completed bool
}

// Stats is a point-in-time view of the frontier.
type Stats struct {
	// Queued is the number of records waiting for dispatch.
	Queued int
	// InFlight is the number of outstanding leases.
	InFlight int
	// Accepted is the number of records counted against the page budget.
	Accepted int
	// Hosts is the number of hosts with queued records.
	Hosts int
}

// Frontier is the per-host partitioned priority queue of a crawl session.
// It is safe for concurrent use.
type Frontier struct {
	mu sync.Mutex

	queues   map[string]*entryHeap
	visited  *urlnorm.VisitedSet
	hosts    *hoststate.Table
	maxDepth int
	maxPages int

	seq      uint64
	queued   int
	inFlight int
	accepted int
	closed   bool

	// changed is closed and replaced on every state change that can make
	// Pop succeed or the frontier exhausted.
	changed chan struct{}
}

// New creates a Frontier. visited is shared with the rest of the session so
// that every component sees the same dedup state.
func New(visited *urlnorm.VisitedSet, hosts *hoststate.Table, maxDepth, maxPages int) *Frontier {
	return &Frontier{
		queues:   make(map[string]*entryHeap),
		visited:  visited,
		hosts:    hosts,
		maxDepth: maxDepth,
		maxPages: maxPages,
		changed:  make(chan struct{}),
	}
}

// notify wakes every waiter. The caller must hold f.mu.
func (f *Frontier) notify() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Push offers a record to the frontier. Rejections are checked in order:
// closed, too deep, budget used up, already seen.
func (f *Frontier) Push(rec Record) PushResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return PushClosed
	}
	if rec.Depth > f.maxDepth {
		return PushTooDeep
	}
	if f.accepted >= f.maxPages {
		return PushBudget
	}
	if !f.visited.MarkSeen(rec.URL) {
		return PushDuplicate
	}

	q, ok := f.queues[rec.Host()]
	if !ok {
		q = &entryHeap{}
		f.queues[rec.Host()] = q
	}
	f.seq++
	heap.Push(q, entry{rec: rec, seq: f.seq})
	f.queued++
	f.accepted++
	f.notify()
	return PushAccepted
}

// Pop returns the highest-priority record among hosts that grant a slot at
// time now. When records are queued but no host is eligible it returns
// ErrNoneAvailable together with the earliest time a host becomes eligible;
// a zero time means the wait is on a Release rather than a clock.
func (f *Frontier) Pop(now time.Time) (*Lease, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, time.Time{}, ErrClosed
	}
	if f.queued == 0 {
		return nil, time.Time{}, ErrEmpty
	}

	candidates := make([]string, 0, len(f.queues))
	for host, q := range f.queues {
		if q.Len() > 0 {
			candidates = append(candidates, host)
		}
	}
	slices.SortFunc(candidates, func(a, b string) int {
		ea, eb := (*f.queues[a])[0], (*f.queues[b])[0]
		switch {
		case ea.less(eb):
			return -1
		case eb.less(ea):
			return 1
		default:
			return 0
		}
	})

	var wake time.Time
	for _, host := range candidates {
		if f.hosts.TryAcquire(host, now) {
			q := f.queues[host]
			e := heap.Pop(q).(entry)
			if q.Len() == 0 {
				delete(f.queues, host)
			}
			f.queued--
			f.inFlight++
			return &Lease{Record: e.rec, DispatchedAt: now}, time.Time{}, nil
		}
		if next := f.hosts.NextEligible(host, now); next.After(now) {
			if wake.IsZero() || next.Before(wake) {
				wake = next
			}
		}
	}
	return nil, wake, ErrNoneAvailable
}

// Changed returns a channel that is closed at the next push, release or
// completion. Take it before calling Pop so that no wake-up is lost.
func (f *Frontier) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

// Wait blocks until changed is closed, until is reached or ctx is done.
// A zero until waits on changed and ctx only.
func (f *Frontier) Wait(ctx context.Context, changed <-chan struct{}, until time.Time) error {
	var timer <-chan time.Time
	if !until.IsZero() {
		d := time.Until(until)
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	case <-timer:
		return nil
	}
}

// Release frees the host slot of a lease. It is safe to call more than once.
func (f *Frontier) Release(l *Lease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release(l)
}

func (f *Frontier) release(l *Lease) {
	if l.released {
		return
	}
	l.released = true
	f.hosts.Release(l.Record.Host())
	f.notify()
}

// Complete ends a lease: the host slot is released if that has not happened
// yet and the lease no longer counts as in flight.
func (f *Frontier) Complete(l *Lease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete(l)
}

func (f *Frontier) complete(l *Lease) bool {
	f.release(l)
	if l.completed {
		return false
	}
	l.completed = true
	f.inFlight--
	f.notify()
	return true
}

// Refund completes a lease and gives its slot back to the page budget.
// It is used for URLs that were dispatched but must not be fetched.
func (f *Frontier) Refund(l *Lease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.complete(l) && f.accepted > 0 {
		f.accepted--
	}
}

// IsExhausted reports whether nothing is queued and no lease is outstanding.
func (f *Frontier) IsExhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued == 0 && f.inFlight == 0
}

// BudgetReached reports whether no further record can be accepted.
func (f *Frontier) BudgetReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted >= f.maxPages
}

// Close starts draining: further pushes are rejected, queued records are
// discarded and Pop returns ErrClosed. Outstanding leases still complete.
// It returns the number of discarded records.
func (f *Frontier) Close() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0
	}
	f.closed = true
	discarded := f.queued
	f.queues = make(map[string]*entryHeap)
	f.queued = 0
	f.notify()
	return discarded
}

// Closed reports whether Close has been called.
func (f *Frontier) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Stats returns the current counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Queued:   f.queued,
		InFlight: f.inFlight,
		Accepted: f.accepted,
		Hosts:    len(f.queues),
	}
}
