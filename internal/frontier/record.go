package frontier

import (
	"time"

	"github.com/nao1215/politecrawl/internal/urlnorm"
)

// Record is a URL scheduled for fetching. Records are values and are never
// modified after creation.
type Record struct {
	// URL is the canonical URL.
	URL urlnorm.Canonical

	// Depth is the number of links followed from a seed. Seeds have depth 0.
	Depth int

	// DiscoveredAt is when the URL was found.
	DiscoveredAt time.Time

	// Source is the URL of the page the link was found on. Empty for seeds.
	Source string
}

// Host returns the host partition key of the record.
func (r Record) Host() string {
	return r.URL.Host
}

// Child returns the record for a link found on r's page.
func (r Record) Child(u urlnorm.Canonical, at time.Time) Record {
	return Record{
		URL:          u,
		Depth:        r.Depth + 1,
		DiscoveredAt: at,
		Source:       r.URL.URL,
	}
}

// PushResult is the outcome of Push.
type PushResult int

const (
	// PushAccepted means the record was queued.
	PushAccepted PushResult = iota
	// PushClosed means the frontier is draining.
	PushClosed
	// PushTooDeep means the record exceeds the maximum depth.
	PushTooDeep
	// PushBudget means the page budget is used up.
	PushBudget
	// PushDuplicate means the URL was seen before.
	PushDuplicate
)

// String returns a human-readable name of the result.
func (r PushResult) String() string {
	switch r {
	case PushAccepted:
		return "accepted"
	case PushClosed:
		return "closed"
	case PushTooDeep:
		return "too deep"
	case PushBudget:
		return "budget exceeded"
	case PushDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Err maps a rejection to its sentinel error. Accepted and duplicate pushes
// return nil since neither is a failure.
func (r PushResult) Err() error {
	switch r {
	case PushClosed:
		return ErrClosed
	case PushTooDeep:
		return ErrTooDeep
	case PushBudget:
		return ErrBudgetExceeded
	default:
		return nil
	}
}

// entry is a queued record with its priority key.
type entry struct {
	rec Record
	seq uint64
}

// less orders entries by depth, then by insertion sequence.
func (e entry) less(o entry) bool {
	if e.rec.Depth != o.rec.Depth {
		return e.rec.Depth < o.rec.Depth
	}
	return e.seq < o.seq
}

// entryHeap implements heap.Interface.
type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
