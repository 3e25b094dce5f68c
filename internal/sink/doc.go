// Package sink delivers crawl events to their consumers.
//
// The crawler engine keeps no persistent state; everything that outlives a
// run is written here. A Sink consumes events one at a time and Fanout
// forwards each event to several sinks:
//
//   - Database stores pages, failures and the run summary in SQLite
//   - JSONL writes page bodies as files plus chunked JSON Lines meta files
//   - Kafka publishes every event as a JSON message
//   - Redis keeps a progress record of the run with a TTL
//
// Sink errors never stop a crawl. Pump logs them and reports them once
// the stream has ended.
package sink
