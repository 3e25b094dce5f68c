// Package frontier implements the crawl frontier: the queue of URLs that
// have been accepted but not yet fetched.
//
// Records are partitioned by host. Each host keeps a min-heap ordered by
// depth and then by insertion sequence, and Pop picks the best head among
// the hosts whose politeness gate (hoststate.Table) grants a slot. A URL is
// accepted at most once per session, never beyond the maximum depth and
// never beyond the page budget.
//
// A dispatched record is handed out as a *Lease. The worker that fetched it
// calls Release once the request is over so that the host slot frees up,
// and the consumer of the fetch result calls Complete after the discovered
// links have been pushed. The frontier is exhausted only when nothing is
// queued and no lease is outstanding.
package frontier
