package report

import (
	"io"
	"slices"
)

// Writer renders a crawl summary.
// Implementations differ only in format; each writes one complete document
// per call to the destination it was created with.
//
// Design decision: Writer takes the finished *Summary rather than the event
// stream. Summaries are built once by a Collector, either live during a
// crawl or replayed from the database by the history command, and every
// format renders the same data.
type Writer interface {
	// Write outputs the summary to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(summary *Summary) (int, error)
}

// MultiWriter writes to multiple Writers, for example the terminal and a
// file.
//
// Design decision: MultiWriter is its own type rather than io.MultiWriter
// because the members may render different formats; io.MultiWriter would
// copy the bytes of a single format.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the summary to every Writer. It stops on the first error
// and returns the total bytes written.
func (m *MultiWriter) Write(summary *Summary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
// It is embedded by every format so they share the output destination.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// sortedKeys returns the keys of m, ordered.
// Map iteration order is random; writers use it so that the same summary
// always renders the same bytes.
func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
