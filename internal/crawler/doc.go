// Package crawler drives a polite crawl from a seed list to a final summary.
//
// # Architecture
//
// A Session wires the crawl components together and owns all mutable crawl
// state, so several sessions can run in one process:
//
//   - urlnorm: canonical URLs and the visited set
//   - hoststate: per-host interval, concurrency cap and 429 cooldowns
//   - frontier: per-host priority queues keyed by (depth, insertion order)
//   - fetcher: worker pool, HTTP transport and retry with backoff
//   - extract: content-kind aware link extraction
//
// Workers pull ready records from the frontier and send fetch results over
// a bounded channel to the session loop, which emits events, extracts links
// and pushes them back into the frontier.
//
// # Lifecycle
//
// A session moves through Idle, Running, Draining and Terminated. It
// drains when the frontier is exhausted, when the time budget runs out or
// when the context is canceled. While draining no record is accepted or
// dispatched; fetches already in flight finish and their results are
// reported. CrawlFinished is always the last event.
//
// # Usage
//
//	events, err := crawler.Run(ctx, []string{"https://example.com/"}, cfg)
//	if err != nil {
//		return err
//	}
//	for ev := range events {
//		switch e := ev.(type) {
//		case crawler.PageFetched:
//			fmt.Println(e.URL, e.StatusCode)
//		case crawler.CrawlFinished:
//			fmt.Println(e.TotalFetched, e.Reason)
//		}
//	}
package crawler
