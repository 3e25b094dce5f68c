package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SimpleWriter outputs human-readable text for terminal display. It uses
// plain ASCII formatting so output can be piped to files.
//
// Sections without data are skipped unless WithShowEmpty is set. Hosts
// come busiest first, ties broken by name, and only the first few are
// listed unless the writer is verbose.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no data are shown.
	showEmpty bool

	// verbose lists every host and failure instead of the first few.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// shortListLen is how many hosts and failures are listed when not verbose.
const shortListLen = 10

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeTotals(&sb, summary)
	w.writeStatusCodes(&sb, summary)
	w.writeHosts(&sb, summary)
	w.writeFailures(&sb, summary)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        POLITECRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	if s.RunID != "" {
		fmt.Fprintf(sb, "Run:        %s\n", s.RunID)
	}
	fmt.Fprintf(sb, "Seeds:      %s\n", strings.Join(s.Seeds, ", "))
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(sb, "Started:    %s\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(sb, "Duration:   %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(sb, "Status:     %s\n", statusText(s))
	sb.WriteString("\n")
}

// statusText describes how the crawl ended.
func statusText(s *Summary) string {
	if !s.Completed {
		return "INCOMPLETE (no summary received)"
	}
	return "Finished - " + s.Reason
}

// writeTotals writes the counters.
func (w *SimpleWriter) writeTotals(sb *strings.Builder, s *Summary) {
	section(sb, "TOTALS")

	fmt.Fprintf(sb, "  FETCHED:     %d\n", s.TotalFetched)
	fmt.Fprintf(sb, "  FAILED:      %d\n", s.TotalFailed)
	fmt.Fprintf(sb, "  DISALLOWED:  %d\n", s.TotalDisallowed)
	fmt.Fprintf(sb, "  DISCARDED:   %d\n", s.TotalDiscarded)
	fmt.Fprintf(sb, "  RETRIED:     %d\n", s.Retried)
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  Success rate:  %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(sb, "  Bytes:         %d\n", s.TotalBytes)
	fmt.Fprintf(sb, "  Max depth:     %d\n", s.MaxDepth)
	fmt.Fprintf(sb, "  Avg fetch:     %s\n", s.AvgElapsed.Round(time.Millisecond))
	sb.WriteString("\n")
}

// writeStatusCodes writes the status code distribution.
func (w *SimpleWriter) writeStatusCodes(sb *strings.Builder, s *Summary) {
	if len(s.StatusCodes) == 0 && !w.showEmpty {
		return
	}
	section(sb, "STATUS CODES")

	if len(s.StatusCodes) == 0 {
		sb.WriteString("  No responses\n\n")
		return
	}
	for _, code := range sortedKeys(s.StatusCodes) {
		fmt.Fprintf(sb, "  %3d: %d\n", code, s.StatusCodes[code])
	}
	sb.WriteString("\n")
}

// writeHosts writes per-host counters.
func (w *SimpleWriter) writeHosts(sb *strings.Builder, s *Summary) {
	if len(s.Hosts) == 0 && !w.showEmpty {
		return
	}
	section(sb, "HOSTS")

	if len(s.Hosts) == 0 {
		sb.WriteString("  No hosts contacted\n\n")
		return
	}
	hosts := s.Hosts
	if !w.verbose && len(hosts) > shortListLen {
		hosts = hosts[:shortListLen]
	}
	for _, h := range hosts {
		fmt.Fprintf(sb, "  [+] %s  fetched=%d failed=%d bytes=%d\n", h.Host, h.Fetched, h.Failed, h.Bytes)
	}
	if rest := len(s.Hosts) - len(hosts); rest > 0 {
		fmt.Fprintf(sb, "  ... and %d more\n", rest)
	}
	sb.WriteString("\n")
}

// writeFailures lists failed URLs.
func (w *SimpleWriter) writeFailures(sb *strings.Builder, s *Summary) {
	if len(s.Failures) == 0 && !w.showEmpty {
		return
	}
	section(sb, "FAILURES")

	if len(s.Failures) == 0 {
		sb.WriteString("  No failures\n\n")
		return
	}
	failures := s.Failures
	if !w.verbose && len(failures) > shortListLen {
		failures = failures[:shortListLen]
	}
	for _, f := range failures {
		fmt.Fprintf(sb, "  * %s\n", f.URL)
		fmt.Fprintf(sb, "    Reason: %s\n", f.Reason)
		if w.verbose {
			fmt.Fprintf(sb, "    Attempts: %d\n", f.Attempts)
		}
	}
	if rest := s.TotalFailed - len(failures); rest > 0 {
		fmt.Fprintf(sb, "  ... and %d more\n", rest)
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by politecrawl\n")
	sb.WriteString("https://github.com/nao1215/politecrawl\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
