package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nao1215/narchiver/internal/model"
)

const (
	// DefaultThreshold is the number of buffered pages that triggers a flush.
	DefaultThreshold = 50

	// maxNameLength is the longest file name written for a page.
	maxNameLength = 200

	// hashSuffixLength is the number of hex digits appended to truncated names.
	hashSuffixLength = 16
)

// Record describes one persisted page.
type Record struct {
	TagURL     string    `json:"tag_url"`
	File       string    `json:"file"`
	Depth      int       `json:"depth"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	Size       int       `json:"size"`
	Hash       string    `json:"hash"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Recorder is notified of every file a Buffer writes.
// *database.RunRecorder implements it.
type Recorder interface {
	RecordPage(ctx context.Context, rec Record) error
}

// Buffer holds fetched pages until enough have accumulated, then writes
// them to its directory. It is used from one crawl goroutine only.
//
// Design decision: Bodies are cleared as soon as a page is written because:
//  1. Long crawls would otherwise keep every page in memory
//  2. The page itself stays valid for logging and the ledger
type Buffer struct {
	dir       string
	threshold int
	filter    *regexp.Regexp
	recorder  Recorder
	logger    *slog.Logger

	pages    []*model.Page
	written  int
	filtered int
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithThreshold sets the flush threshold. Values below 1 keep the default.
func WithThreshold(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithPassFilter keeps only pages whose tag URL matches re.
func WithPassFilter(re *regexp.Regexp) BufferOption {
	return func(b *Buffer) {
		b.filter = re
	}
}

// WithRecorder sets the ledger notified of written files.
func WithRecorder(r Recorder) BufferOption {
	return func(b *Buffer) {
		b.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BufferOption {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuffer creates a Buffer writing into dir, creating it if needed.
func NewBuffer(dir string, opts ...BufferOption) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	b := &Buffer{
		dir:       dir,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pages = make([]*model.Page, 0, b.threshold)
	return b, nil
}

// Dir returns the output directory.
func (b *Buffer) Dir() string {
	return b.dir
}

// Len returns the number of pages waiting to be written.
func (b *Buffer) Len() int {
	return len(b.pages)
}

// Written returns the number of files written so far.
func (b *Buffer) Written() int {
	return b.written
}

// Filtered returns the number of pages discarded by the pass filter.
func (b *Buffer) Filtered() int {
	return b.filtered
}

// Add buffers page and flushes once the threshold is reached.
// It returns the number of pages written by that flush.
func (b *Buffer) Add(ctx context.Context, page *model.Page) (int, error) {
	b.pages = append(b.pages, page)
	if len(b.pages) < b.threshold {
		return 0, nil
	}
	return b.Flush(ctx)
}

// Flush writes every buffered page that passes the filter. Written and
// filtered pages leave the buffer. A page whose write fails keeps its body
// and stays buffered for the next flush. Every page is attempted even if
// some fail; the errors are joined.
func (b *Buffer) Flush(ctx context.Context) (int, error) {
	if len(b.pages) == 0 {
		return 0, nil
	}

	var (
		written int
		errs    []error
	)
	kept := b.pages[:0]
	for _, page := range b.pages {
		if b.filter != nil && !b.filter.MatchString(page.TagURL) {
			b.filtered++
			b.logger.Debug("page filtered out", "url", page.TagURL)
			page.ClearBody()
			continue
		}

		rec, err := b.write(page)
		if err != nil {
			errs = append(errs, err)
			kept = append(kept, page)
			continue
		}
		written++
		if b.recorder != nil {
			if err := b.recorder.RecordPage(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("failed to record %s: %w", page.TagURL, err))
			}
		}
		page.ClearBody()
	}

	clear(b.pages[len(kept):])
	b.pages = kept
	b.written += written
	b.logger.Debug("buffer flushed", "written", written, "total", b.written)
	return written, errors.Join(errs...)
}

// write stores one page body and returns its record.
func (b *Buffer) write(page *model.Page) (Record, error) {
	name := FileName(page.TagURL)
	if err := os.WriteFile(filepath.Join(b.dir, name), []byte(page.HTML), 0o600); err != nil {
		return Record{}, fmt.Errorf("failed to write %s: %w", page.TagURL, err)
	}
	return Record{
		TagURL:     page.TagURL,
		File:       name,
		Depth:      page.Depth,
		Path:       page.Path,
		StatusCode: page.StatusCode,
		Size:       len(page.HTML),
		Hash:       page.Hash(),
		FetchedAt:  page.FetchedAt,
	}, nil
}

// FileName returns the file name a tag URL is stored under: the query-escaped
// tag URL, truncated and suffixed with a hash prefix when too long.
func FileName(tagURL string) string {
	name := url.QueryEscape(tagURL)
	switch name {
	case "", ".", "..":
		name = "_" + name
	}
	if len(name) <= maxNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(tagURL))
	return name[:maxNameLength-hashSuffixLength-1] + "-" + hex.EncodeToString(sum[:])[:hashSuffixLength]
}
