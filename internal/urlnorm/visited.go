package urlnorm

import (
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the 128-bit BLAKE2b digest of a canonical URL.
type Fingerprint [16]byte

// FingerprintOf returns the fingerprint of c.
func FingerprintOf(c Canonical) Fingerprint {
	sum := blake2b.Sum256([]byte(c.URL))
	var fp Fingerprint
	copy(fp[:], sum[:len(fp)])
	return fp
}

// VisitedSet records which canonical URLs a crawl session has seen.
// It is append-only and safe for concurrent use.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[Fingerprint]struct{}
}

// NewVisitedSet creates an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[Fingerprint]struct{})}
}

// MarkSeen records c and reports whether it was newly added.
// The check and the insert happen under one lock, so concurrent callers
// racing on the same URL see exactly one true.
func (v *VisitedSet) MarkSeen(c Canonical) bool {
	fp := FingerprintOf(c)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[fp]; ok {
		return false
	}
	v.seen[fp] = struct{}{}
	return true
}

// Seen reports whether c has been recorded.
func (v *VisitedSet) Seen(c Canonical) bool {
	fp := FingerprintOf(c)

	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[fp]
	return ok
}

// Len returns the number of recorded URLs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
