package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs summaries in Markdown, built with the
// nao1215/markdown library.
//
// The document has a title, a status line, a totals table, an optional
// mermaid pie chart of status classes and a per-host table. GitHub
// renders both the tables and the chart, so the file can be attached to
// an issue or pull request as is.
//
// Design decision: the pie chart is only emitted when at least one
// response was recorded, because mermaid rejects a pie without slices.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeTotals(md, summary)
	w.writeHosts(md, summary)
	w.writeFailures(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the run information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("politecrawl Summary")
	md.PlainText("")

	rows := [][]string{}
	if s.RunID != "" {
		rows = append(rows, []string{"Run", "`" + s.RunID + "`"})
	}
	for _, seed := range s.Seeds {
		rows = append(rows, []string{"Seed", "`" + seed + "`"})
	}
	if !s.StartedAt.IsZero() {
		rows = append(rows, []string{"Started", s.StartedAt.Format("2006-01-02 15:04:05 MST")})
	}
	rows = append(rows,
		[]string{"Duration", s.Duration.Round(time.Millisecond).String()},
		[]string{"Status", markdownStatus(s)},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func markdownStatus(s *Summary) string {
	if !s.Completed {
		return "⚠️ Incomplete"
	}
	if s.Reason == "canceled" || s.Reason == "time budget reached" {
		return "⚠️ Stopped - " + s.Reason
	}
	return "✅ Finished - " + s.Reason
}

// writeTotals writes the counters, the status chart and an alert.
func (w *MarkdownWriter) writeTotals(md *markdown.Markdown, s *Summary) {
	md.H2("Totals")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Fetched", strconv.Itoa(s.TotalFetched)},
			{"Failed", strconv.Itoa(s.TotalFailed)},
			{"Disallowed by robots.txt", strconv.Itoa(s.TotalDisallowed)},
			{"Discarded", strconv.Itoa(s.TotalDiscarded)},
			{"Retried", strconv.Itoa(s.Retried)},
			{"Bytes", strconv.FormatInt(s.TotalBytes, 10)},
			{"Max depth", strconv.Itoa(s.MaxDepth)},
			{"Avg fetch", s.AvgElapsed.Round(time.Millisecond).String()},
			{"**Success rate**", fmt.Sprintf("**%.1f%%**", s.SuccessRate())},
		},
	})
	md.PlainText("")

	if len(s.StatusCodes) > 0 {
		w.writePieChart(md, s)
	}
	w.writeAlert(md, s)
}

// writePieChart writes a mermaid pie chart of status classes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Responses by Status Class"),
		piechart.WithShowData(true),
	)
	classes := s.StatusClasses()
	for _, class := range sortedKeys(classes) {
		chart.LabelAndIntValue(class, uint64(classes[class])) //nolint:gosec // counts are never negative
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching the outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *Summary) {
	switch {
	case !s.Completed:
		md.Cautionf("The event stream ended without a summary. Only %d processed URL(s) are counted.", s.TotalFetched+s.TotalFailed)
	case s.TotalFetched == 0 && s.TotalFailed > 0:
		md.Warningf("No page could be fetched. %d URL(s) failed.", s.TotalFailed)
	case s.TotalFailed > 0:
		md.Importantf("%d URL(s) failed. See the failures below.", s.TotalFailed)
	case s.TotalDisallowed > 0:
		md.Note(fmt.Sprintf("%d URL(s) were skipped because robots.txt disallows them.", s.TotalDisallowed))
	default:
		md.Tip("Every accepted URL was fetched.")
	}
	md.PlainText("")
}

// writeHosts writes per-host counters.
func (w *MarkdownWriter) writeHosts(md *markdown.Markdown, s *Summary) {
	md.H2("Hosts")
	md.PlainText("")

	if len(s.Hosts) == 0 {
		md.PlainText("No hosts contacted.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(s.Hosts))
	for i, h := range s.Hosts {
		rows[i] = []string{
			h.Host,
			strconv.Itoa(h.Fetched),
			strconv.Itoa(h.Failed),
			strconv.FormatInt(h.Bytes, 10),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Host", "Fetched", "Failed", "Bytes"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFailures writes the failure table.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, s *Summary) {
	md.H2("Failures")
	md.PlainText("")

	if len(s.Failures) == 0 {
		md.PlainText("No failures.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(s.Failures))
	for i, f := range s.Failures {
		rows[i] = []string{
			truncateString(f.URL, 80),
			truncateString(f.Reason, 60),
			strconv.Itoa(f.Attempts),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Reason", "Attempts"},
		Rows:   rows,
	})
	md.PlainText("")

	if rest := s.TotalFailed - len(s.Failures); rest > 0 {
		md.PlainTextf("*%d more failure(s) not listed.*", rest)
		md.PlainText("")
	}
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by [politecrawl](https://github.com/nao1215/politecrawl)*")
}

// truncateString truncates a string to maxLen bytes with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
