package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency crawls one site at a time.
const DefaultConcurrency = 1

// ErrSetup wraps every error a JobFactory returns.
var ErrSetup = errors.New("site setup failed")

// JobFactory prepares the job and pipeline of one site: output directory,
// ledger row, buffer, session and spider. A returned error means the site
// could not be initialised and is never crawled.
type JobFactory func(ctx context.Context, site string) (*Job, *Pipeline, error)

// BatchRunner crawls several independent sites concurrently.
//
// Design decision: We use errgroup.SetLimit rather than a worker pool
// because it's simpler and errgroup handles the concurrency correctly.
// Sites share nothing but the transport, so one goroutine per site is safe.
type BatchRunner struct {
	factory     JobFactory
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a BatchRunner.
type BatchOption func(*BatchRunner)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchRunner) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of sites crawled at once.
// Non-positive values keep the default.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchRunner) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchRunner creates a new BatchRunner.
func NewBatchRunner(factory JobFactory, opts ...BatchOption) *BatchRunner {
	b := &BatchRunner{
		factory:     factory,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Run crawls every site and returns the jobs in the order of sites.
// Sites that failed setup, or never started because ctx was cancelled,
// have a nil job. Crawl-fatal errors stay in Job.Err and never stop the
// other sites; the returned error joins setup failures only.
func (b *BatchRunner) Run(ctx context.Context, sites []string) ([]*Job, error) {
	b.logger.Info("starting batch", "sites", len(sites), "concurrency", b.concurrency)
	start := time.Now()

	jobs := make([]*Job, len(sites))
	var (
		mu        sync.Mutex
		setupErrs []error
	)

	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for i, site := range sites {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			job, p, err := b.factory(ctx, site)
			if err != nil {
				b.logger.Error("site setup failed", "site", site, "error", err)
				mu.Lock()
				setupErrs = append(setupErrs, fmt.Errorf("%w: %s: %w", ErrSetup, site, err))
				mu.Unlock()
				return nil
			}

			if err := p.Execute(ctx, job); err != nil {
				b.logger.Warn("site crawl failed", "site", site, "error", err)
			} else {
				b.logger.Info("site crawl completed", "site", site)
			}

			mu.Lock()
			jobs[i] = job
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	b.logger.Info("batch complete", "sites", len(sites), "elapsed", time.Since(start).Round(time.Second))
	return jobs, errors.Join(setupErrs...)
}

// Failures joins the errors of every job that failed.
func Failures(jobs []*Job) error {
	var errs []error
	for _, job := range jobs {
		if job != nil && job.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Site, job.Err))
		}
	}
	return errors.Join(errs...)
}
