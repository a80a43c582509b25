package report

import (
	"encoding/json"
	"io"
)

// JSONWriter outputs summaries in JSON format.
type JSONWriter struct {
	baseWriter
	indent bool
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables two-space indentation.
func WithIndent(indent bool) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = indent
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

// jsonSummary adds derived fields to a Summary.
type jsonSummary struct {
	*Summary
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Write outputs s followed by a newline.
func (w *JSONWriter) Write(s *Summary) (int, error) {
	v := jsonSummary{Summary: s, Status: s.status(), DurationSeconds: s.Duration().Seconds()}

	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
