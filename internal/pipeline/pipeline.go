package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/narchiver/internal/crawler"
	"github.com/nao1215/narchiver/internal/report"
)

// Job carries one site crawl through the pipeline.
// Steps read what earlier steps stored and add their own results.
type Job struct {
	Site      string
	Location  string
	BaseURL   string
	Dir       string
	RunID     int64
	StartedAt time.Time

	// Result is set by the crawl step, even when the crawl failed.
	Result *crawler.Result

	// Summary is set by the summary step.
	Summary *report.Summary

	// Archive is the archive path, empty when the run was not compressed.
	Archive string

	// Err joins every step error seen so far.
	Err error

	// Performed lists the names of steps that ran.
	Performed []string
}

// Step defines the interface that all pipeline steps must implement.
//
// Design decision: We use an interface rather than function types because:
// 1. It allows steps to carry configuration state
// 2. It provides a Name() method for logging and debugging
type Step interface {
	// Do executes the step against job.
	Do(ctx context.Context, job *Job) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline runs steps in order, then finalizers.
//
// Design decision: Finalizers run after every outcome, including a failed
// step and a cancelled context, so a crawl that was cut short still gets
// its summary, its archive and a closed ledger row. They receive a context
// without cancellation.
type Pipeline struct {
	steps      []Step
	finalizers []Step
	logger     *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends steps. They stop at the first error.
func (p *Pipeline) AddStep(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// AddFinalizer appends steps that always run after the regular steps.
func (p *Pipeline) AddFinalizer(steps ...Step) {
	p.finalizers = append(p.finalizers, steps...)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, 0, len(p.steps)+len(p.finalizers))
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	for _, s := range p.finalizers {
		names = append(names, s.Name())
	}
	return names
}

// Execute runs the pipeline against job and returns job.Err.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled", "site", job.Site, "step", step.Name(), "reason", err)
			job.Err = errors.Join(job.Err, err)
			break
		}
		if err := p.run(ctx, step, job); err != nil {
			break
		}
	}

	final := context.WithoutCancel(ctx)
	for _, step := range p.finalizers {
		_ = p.run(final, step, job) //nolint:errcheck // recorded in job.Err
	}
	return job.Err
}

// run executes one step and records its outcome in job.
func (p *Pipeline) run(ctx context.Context, step Step, job *Job) error {
	p.logger.Debug("executing step", "site", job.Site, "step", step.Name())

	err := step.Do(ctx, job)
	job.Performed = append(job.Performed, step.Name())
	if err != nil {
		p.logger.Error("step failed", "site", job.Site, "step", step.Name(), "error", err)
		job.Err = errors.Join(job.Err, err)
	}
	return err
}
