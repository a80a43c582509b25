package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File names written into a run directory.
const (
	MarkdownFileName = "summary.md"
	JSONFileName     = "summary.json"
)

// Writer outputs a Summary in one format.
// Returns the number of bytes written and any error encountered.
type Writer interface {
	Write(s *Summary) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// WriteFiles writes summary.md and summary.json into dir.
// Both files are attempted; their errors are joined.
func WriteFiles(dir string, s *Summary) error {
	return errors.Join(
		writeFile(filepath.Join(dir, MarkdownFileName), s, func(w io.Writer) Writer { return NewMarkdownWriter(w) }),
		writeFile(filepath.Join(dir, JSONFileName), s, func(w io.Writer) Writer { return NewJSONWriter(w, WithIndent(true)) }),
	)
}

func writeFile(path string, s *Summary, newWriter func(io.Writer) Writer) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path is inside the run directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := newWriter(f).Write(s); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
