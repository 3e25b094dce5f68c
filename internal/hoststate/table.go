package hoststate

import (
	"sync"
	"time"
)

// Policy is the politeness policy of one host.
type Policy struct {
	// MinInterval is the minimum gap between two dispatches.
	MinInterval time.Duration

	// Concurrency is the maximum number of requests in flight.
	Concurrency int
}

// PolicyFunc resolves the policy of a host. It is called once, when the host
// is first seen.
type PolicyFunc func(host string) Policy

// state is the mutable record of one host.
type state struct {
	policy        Policy
	lastDispatch  time.Time
	inFlight      int
	cooldownUntil time.Time
}

// nextEligible returns the earliest time a dispatch may happen, ignoring
// the in-flight count.
func (s *state) nextEligible() time.Time {
	next := s.cooldownUntil
	if !s.lastDispatch.IsZero() {
		if t := s.lastDispatch.Add(s.policy.MinInterval); t.After(next) {
			next = t
		}
	}
	return next
}

// Snapshot is a read-only copy of a host's state.
type Snapshot struct {
	Host          string
	LastDispatch  time.Time
	InFlight      int
	CooldownUntil time.Time
	Policy        Policy
}

// Table holds the state of every host contacted in a crawl session.
type Table struct {
	mu     sync.Mutex
	hosts  map[string]*state
	policy PolicyFunc
}

// NewTable creates a Table. policy resolves per-host settings, which allows
// overrides from the configuration file.
func NewTable(policy PolicyFunc) *Table {
	if policy == nil {
		policy = func(string) Policy { return Policy{Concurrency: 1} }
	}
	return &Table{
		hosts:  make(map[string]*state),
		policy: policy,
	}
}

// lookup returns the state of host, creating it on first use.
// The caller must hold t.mu.
func (t *Table) lookup(host string) *state {
	s, ok := t.hosts[host]
	if !ok {
		p := t.policy(host)
		if p.Concurrency <= 0 {
			p.Concurrency = 1
		}
		s = &state{policy: p}
		t.hosts[host] = s
	}
	return s
}

// TryAcquire grants a dispatch slot for host at time now. It succeeds when
// the host is out of cooldown, at least MinInterval has passed since the
// last dispatch and the in-flight count is below the cap. On success the
// dispatch time is recorded and the in-flight count incremented; on failure
// nothing changes.
func (t *Table) TryAcquire(host string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	if s.inFlight >= s.policy.Concurrency {
		return false
	}
	if now.Before(s.nextEligible()) {
		return false
	}
	s.lastDispatch = now
	s.inFlight++
	return true
}

// Touch moves the last dispatch time of host forward to now. The retrier
// calls it right before each request and waits for NextEligible before a
// retry, so the minimum interval holds between requests actually sent.
func (t *Table) Touch(host string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	if now.After(s.lastDispatch) {
		s.lastDispatch = now
	}
}

// Release returns a slot obtained with TryAcquire.
func (t *Table) Release(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.hosts[host]; ok && s.inFlight > 0 {
		s.inFlight--
	}
}

// Cooldown blocks dispatches to host until now+d. A shorter cooldown never
// shortens one already in place.
func (t *Table) Cooldown(host string, now time.Time, d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	if until := now.Add(d); until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

// NextEligible returns the earliest time at which host may be contacted.
// It returns now when the host is eligible or only limited by in-flight
// requests, in which case a Release is what unblocks it.
func (t *Table) NextEligible(host string, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	if next := s.nextEligible(); next.After(now) {
		return next
	}
	return now
}

// HasCapacity reports whether host is below its in-flight cap.
func (t *Table) HasCapacity(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	return s.inFlight < s.policy.Concurrency
}

// Snapshot returns a copy of the state of host.
func (t *Table) Snapshot(host string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(host)
	return Snapshot{
		Host:          host,
		LastDispatch:  s.lastDispatch,
		InFlight:      s.inFlight,
		CooldownUntil: s.cooldownUntil,
		Policy:        s.policy,
	}
}

// Len returns the number of known hosts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}
