// Package fetcher retrieves pages for the crawler.
//
// It is split into three layers:
//
//   - Transport performs a single HTTP GET. HTTPTransport is the production
//     implementation and handles the user agent, extra headers, the response
//     size cap, gzip/deflate/brotli decoding and HTTP or SOCKS5 proxies.
//   - Retrier runs one URL through the retry policy. Transient failures
//     (timeouts, connection errors, 5xx and 429) are retried with exponential
//     backoff; permanent failures are returned immediately. A 429 also puts
//     the host into cooldown.
//   - Pool is the fixed set of workers that pull leases from the frontier,
//     consult the robots policy, fetch with retry and hand results to the
//     consumer over a bounded channel.
//
// A request that has been sent is never aborted by cancellation of the crawl.
// Requests run on a context that keeps the caller's values but not its
// cancellation, bounded by the per-attempt timeout; cancellation is observed
// between attempts.
package fetcher
