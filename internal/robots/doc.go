// Package robots decides whether a URL may be fetched under the robots
// exclusion protocol.
//
// Agent downloads /robots.txt once per scheme and host, parses it with
// github.com/temoto/robotstxt and caches the rules for a configurable TTL.
// Concurrent lookups for the same host share a single download. Network and
// server errors fail open: a host whose robots.txt cannot be read is treated
// as allowing everything, which is the common crawler convention.
package robots
