package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/narchiver/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fetchedPage(tagURL, body string) *model.Page {
	p := model.NewSeedPage(tagURL, 0)
	p.SetBody(body, 200, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return p
}

// memRecorder collects records.
type memRecorder struct {
	records []Record
	err     error
}

func (r *memRecorder) RecordPage(_ context.Context, rec Record) error {
	r.records = append(r.records, rec)
	return r.err
}

func TestBuffer(t *testing.T) {
	t.Parallel()

	t.Run("flushes at threshold and on demand", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		rec := &memRecorder{}
		b, err := NewBuffer(dir, WithThreshold(2), WithRecorder(rec), WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		ctx := context.Background()

		x, y, z := fetchedPage("/x", "X"), fetchedPage("/y", "Y"), fetchedPage("/z", "Z")

		if n, err := b.Add(ctx, x); n != 0 || err != nil {
			t.Fatalf("first Add: (%d, %v)", n, err)
		}
		if n, err := b.Add(ctx, y); n != 2 || err != nil {
			t.Fatalf("second Add should flush two pages, got (%d, %v)", n, err)
		}
		if x.HTML != "" || y.HTML != "" {
			t.Error("flushed pages must have their bodies cleared")
		}
		if n, _ := b.Add(ctx, z); n != 0 || b.Len() != 1 {
			t.Fatalf("third Add must only buffer, got n=%d len=%d", n, b.Len())
		}
		if n, err := b.Flush(ctx); n != 1 || err != nil {
			t.Fatalf("Flush: (%d, %v)", n, err)
		}

		for tag, body := range map[string]string{"/x": "X", "/y": "Y", "/z": "Z"} {
			got, err := os.ReadFile(filepath.Join(dir, url.QueryEscape(tag)))
			if err != nil {
				t.Fatalf("reading %s: %v", tag, err)
			}
			if string(got) != body {
				t.Errorf("%s: got %q want %q", tag, got, body)
			}
		}
		if b.Written() != 3 || len(rec.records) != 3 {
			t.Errorf("expected 3 written and recorded, got %d and %d", b.Written(), len(rec.records))
		}
		if rec.records[0].File != "%2Fx" || rec.records[0].Size != 1 || rec.records[0].Hash == "" {
			t.Errorf("unexpected record %+v", rec.records[0])
		}
	})

	t.Run("empty flush is a no-op", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		b, err := NewBuffer(dir, WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		n, err := b.Flush(context.Background())
		if n != 0 || err != nil {
			t.Errorf("expected (0, nil), got (%d, %v)", n, err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no files, got %d", len(entries))
		}
	})

	t.Run("pass filter", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		b, err := NewBuffer(dir,
			WithThreshold(10),
			WithPassFilter(regexp.MustCompile(`^/viewtopic`)),
			WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		ctx := context.Background()
		index := fetchedPage("/index.php", "index")
		_, _ = b.Add(ctx, index)
		_, _ = b.Add(ctx, fetchedPage("/viewtopic.php?t=1", "topic"))

		n, err := b.Flush(ctx)
		if n != 1 || err != nil {
			t.Fatalf("expected one page written, got (%d, %v)", n, err)
		}
		if b.Filtered() != 1 || index.HTML != "" {
			t.Errorf("filtered page must be counted and cleared")
		}
		if _, err := os.Stat(filepath.Join(dir, url.QueryEscape("/index.php"))); !os.IsNotExist(err) {
			t.Error("filtered page must not be written")
		}
	})

	t.Run("recorder errors do not stop the flush", func(t *testing.T) {
		t.Parallel()

		rec := &memRecorder{err: errors.New("disk full")}
		b, err := NewBuffer(t.TempDir(), WithThreshold(10), WithRecorder(rec), WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		ctx := context.Background()
		_, _ = b.Add(ctx, fetchedPage("/a", "a"))
		_, _ = b.Add(ctx, fetchedPage("/b", "b"))

		n, err := b.Flush(ctx)
		if n != 2 || err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Errorf("expected 2 written and a joined error, got (%d, %v)", n, err)
		}
		if b.Len() != 0 {
			t.Errorf("buffer must be empty after flush, got %d", b.Len())
		}
	})

	t.Run("write errors are reported", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		b, err := NewBuffer(dir, WithThreshold(10), WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		// A directory with the page's file name makes the write fail.
		if err := os.Mkdir(filepath.Join(dir, FileName("/a")), 0o750); err != nil {
			t.Fatal(err)
		}
		_, _ = b.Add(context.Background(), fetchedPage("/a", "a"))
		_, _ = b.Add(context.Background(), fetchedPage("/b", "b"))

		n, err := b.Flush(context.Background())
		if n != 1 || err == nil {
			t.Errorf("expected (1, error), got (%d, %v)", n, err)
		}
	})

	t.Run("pages that fail to write stay buffered", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		rec := &memRecorder{}
		b, err := NewBuffer(dir, WithThreshold(10), WithRecorder(rec), WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		blocker := filepath.Join(dir, FileName("/a"))
		if err := os.Mkdir(blocker, 0o750); err != nil {
			t.Fatal(err)
		}
		a := fetchedPage("/a", "a")
		_, _ = b.Add(context.Background(), a)
		_, _ = b.Add(context.Background(), fetchedPage("/b", "b"))

		if n, err := b.Flush(context.Background()); n != 1 || err == nil {
			t.Fatalf("expected (1, error), got (%d, %v)", n, err)
		}
		if b.Len() != 1 || a.HTML != "a" {
			t.Fatalf("expected /a to stay buffered with its body, len=%d body=%q", b.Len(), a.HTML)
		}

		if err := os.Remove(blocker); err != nil {
			t.Fatal(err)
		}
		if n, err := b.Flush(context.Background()); n != 1 || err != nil {
			t.Fatalf("retry flush: (%d, %v)", n, err)
		}
		if b.Len() != 0 || b.Written() != 2 || len(rec.records) != 2 {
			t.Errorf("expected both pages written once, len=%d written=%d records=%d", b.Len(), b.Written(), len(rec.records))
		}
		if data, err := os.ReadFile(filepath.Join(dir, FileName("/a"))); err != nil || string(data) != "a" {
			t.Errorf("unexpected /a file: %q, %v", data, err)
		}
	})

	t.Run("creates the directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "forum", "20240301-120000")
		b, err := NewBuffer(dir)
		if err != nil {
			t.Fatalf("NewBuffer: %v", err)
		}
		if info, err := os.Stat(b.Dir()); err != nil || !info.IsDir() {
			t.Errorf("expected %s to exist", dir)
		}
	})
}

func TestFileName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		tagURL string
		want   string
	}{
		{"path", "/viewtopic.php", "%2Fviewtopic.php"},
		{"query", "/viewtopic.php?t=1&p=2", "%2Fviewtopic.php%3Ft%3D1%26p%3D2"},
		{"empty", "", "_"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := FileName(tc.tagURL); got != tc.want {
				t.Errorf("FileName(%q) = %q, want %q", tc.tagURL, got, tc.want)
			}
		})
	}

	t.Run("long names are truncated uniquely", func(t *testing.T) {
		t.Parallel()

		a := FileName("/search.php?q=" + strings.Repeat("a", 300))
		b := FileName("/search.php?q=" + strings.Repeat("a", 299) + "b")
		if len(a) != maxNameLength || len(b) != maxNameLength {
			t.Errorf("expected length %d, got %d and %d", maxNameLength, len(a), len(b))
		}
		if a == b {
			t.Error("different tag URLs must map to different names")
		}
	})
}
