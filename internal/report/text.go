package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// TextWriter outputs a short human-readable summary for the terminal.
type TextWriter struct {
	baseWriter

	// verbose adds the page list.
	verbose bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithVerbose lists every written page.
func WithVerbose(verbose bool) TextWriterOption {
	return func(w *TextWriter) {
		w.verbose = verbose
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs s as plain text.
func (w *TextWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Site:       %s\n", s.Site)
	fmt.Fprintf(&sb, "Directory:  %s\n", s.Dir)
	fmt.Fprintf(&sb, "Duration:   %s\n", s.Duration().Round(time.Second))
	if s.Failed() {
		fmt.Fprintf(&sb, "Status:     FAILED - %s\n", s.Error)
	} else {
		sb.WriteString("Status:     Completed\n")
	}
	sb.WriteString(strings.Repeat("-", 60))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  fetched %d, written %d, filtered %d, dropped %d\n",
		s.Fetched, s.Persisted, s.Filtered, s.Dropped)
	fmt.Fprintf(&sb, "  retries %d, redirects %d, logins %d (%d failed)\n",
		s.Retries, s.Redirects, s.Logins, s.LoginFailures)

	if w.verbose && len(s.Pages) > 0 {
		sb.WriteString(strings.Repeat("-", 60))
		sb.WriteString("\n")
		for _, p := range s.Pages {
			fmt.Fprintf(&sb, "  [%d] %s -> %s\n", p.StatusCode, p.TagURL, p.File)
		}
	}
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}
