// Package report turns a crawl event stream into a summary and writes it.
//
// A Collector observes events as they arrive and builds a Summary. Writers
// render the summary in different formats:
//   - SimpleWriter: human-readable text for the terminal
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: Markdown for sharing and documentation
//
// The summary is kept separate from the writers so new output formats can
// be added without touching how the data is gathered.
package report
