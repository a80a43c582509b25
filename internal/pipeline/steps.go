package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/narchiver/internal/crawler"
	"github.com/nao1215/narchiver/internal/database"
	"github.com/nao1215/narchiver/internal/report"
	"github.com/nao1215/narchiver/internal/storage"
)

// Crawler runs one site crawl. *crawler.Spider implements it.
type Crawler interface {
	Run(ctx context.Context) (*crawler.Result, error)
}

// CrawlStep runs the crawl and stores its result in the job.
type CrawlStep struct {
	crawler Crawler
}

// NewCrawlStep creates a CrawlStep.
func NewCrawlStep(c Crawler) *CrawlStep {
	return &CrawlStep{crawler: c}
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do runs the crawl. The job keeps the result of a failed crawl.
func (s *CrawlStep) Do(ctx context.Context, job *Job) error {
	res, err := s.crawler.Run(ctx)
	job.Result = res
	if err != nil {
		return fmt.Errorf("crawl %s: %w", job.Site, err)
	}
	return nil
}

// PageSource reports what a storage buffer wrote.
type PageSource interface {
	Records() []storage.Record
}

// FilterCounter reports how many pages the pass filter discarded.
// *storage.Buffer implements it.
type FilterCounter interface {
	Filtered() int
}

// SummaryStep writes summary.md and summary.json into the run directory.
type SummaryStep struct {
	pages    PageSource
	filtered FilterCounter
}

// NewSummaryStep creates a SummaryStep. Either argument may be nil.
func NewSummaryStep(pages PageSource, filtered FilterCounter) *SummaryStep {
	return &SummaryStep{pages: pages, filtered: filtered}
}

// Name returns the step name.
func (s *SummaryStep) Name() string {
	return "summary"
}

// Do builds the job summary and writes it next to the pages.
func (s *SummaryStep) Do(_ context.Context, job *Job) error {
	var pages []storage.Record
	if s.pages != nil {
		pages = s.pages.Records()
	}

	sum := report.NewSummary(job.Result, pages)
	sum.Site = job.Site
	sum.Location = job.Location
	sum.BaseURL = job.BaseURL
	sum.RunID = job.RunID
	sum.Dir = job.Dir
	if sum.StartedAt.IsZero() {
		sum.StartedAt = job.StartedAt
	}
	if s.filtered != nil {
		sum.Filtered = s.filtered.Filtered()
	}
	if job.Err != nil {
		sum.Error = job.Err.Error()
	}
	job.Summary = sum

	if err := report.WriteFiles(job.Dir, sum); err != nil {
		return fmt.Errorf("summary %s: %w", job.Site, err)
	}
	return nil
}

// ArchiveStep packs the run directory.
type ArchiveStep struct {
	archiver storage.Archiver
	logger   *slog.Logger
}

// NewArchiveStep creates an ArchiveStep.
func NewArchiveStep(archiver storage.Archiver, logger *slog.Logger) *ArchiveStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveStep{archiver: archiver, logger: logger}
}

// Name returns the step name.
func (s *ArchiveStep) Name() string {
	return "archive"
}

// Do archives job.Dir and records the archive path.
func (s *ArchiveStep) Do(_ context.Context, job *Job) error {
	path, err := s.archiver.Archive(job.Dir)
	if err != nil {
		return fmt.Errorf("archive %s: %w", job.Site, err)
	}
	job.Archive = path
	s.logger.Info("run archived", "site", job.Site, "archive", path)
	return nil
}

// RunFinisher closes a ledger row. *database.Ledger implements it.
type RunFinisher interface {
	FinishRun(ctx context.Context, run *database.Run) error
}

// LedgerStep stores the final state of the run.
type LedgerStep struct {
	ledger RunFinisher
	now    func() time.Time
}

// NewLedgerStep creates a LedgerStep.
func NewLedgerStep(ledger RunFinisher) *LedgerStep {
	return &LedgerStep{ledger: ledger, now: time.Now}
}

// Name returns the step name.
func (s *LedgerStep) Name() string {
	return "ledger"
}

// Do writes counters, status and error of job into its ledger row.
func (s *LedgerStep) Do(ctx context.Context, job *Job) error {
	if job.RunID == 0 {
		return errors.New("ledger: job has no run id")
	}

	run := &database.Run{
		ID:         job.RunID,
		Archive:    job.Archive,
		Status:     database.StatusCompleted,
		FinishedAt: s.now(),
	}
	if res := job.Result; res != nil {
		run.Fetched = res.Fetched
		run.Persisted = res.Persisted
		run.Dropped = res.Dropped
		run.Retries = res.Retries
		run.Redirects = res.Redirects
		run.Logins = res.Logins
		run.LoginFailures = res.LoginFailures
		run.Discovered = res.Discovered
	}
	if job.Err != nil {
		run.Status = database.StatusFailed
		run.Error = job.Err.Error()
	}

	if err := s.ledger.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("ledger %s: %w", job.Site, err)
	}
	return nil
}
