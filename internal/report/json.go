package report

import (
	"encoding/json"
	"io"
)

// JSONWriter outputs summaries as JSON for tool integration.
// The document is the Summary itself, or a JSONReport when a version is set.
// Durations are encoded as integer nanoseconds (duration_ns,
// avg_elapsed_ns) and times as RFC 3339.
//
// Design decision: the output is a single JSON document followed by a
// newline, so reports written to the same stream can be read back as
// JSON Lines.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string

	// version, when set, wraps the summary in a JSONReport.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// It is shorthand for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion wraps the output in a JSONReport carrying version.
// The CLI sets it so a stored report names the build that produced it;
// an empty version leaves the summary unwrapped.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSONReport wraps a summary with the version of the tool that produced it.
// It is the top-level document when WithVersion is used.
type JSONReport struct {
	Version string   `json:"version"`
	Summary *Summary `json:"summary"`
}

// Write outputs the summary in JSON format.
// A nil summary is encoded as null.
func (w *JSONWriter) Write(summary *Summary) (int, error) {
	if w.version != "" {
		return w.writeJSON(JSONReport{Version: w.version, Summary: summary})
	}
	return w.writeJSON(summary)
}

// writeJSON marshals v and writes it with a trailing newline.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
