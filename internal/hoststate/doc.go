// Package hoststate implements the per-host politeness gate of the crawler.
//
// A Table keeps one state record per host: the time of the last dispatch,
// the minimum interval between dispatches, the number of requests in flight
// and an optional cooldown set after the server answered 429. TryAcquire is
// the only way to obtain permission to contact a host and every mutation of
// a host's record happens under the table's mutex.
package hoststate
