package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/nao1215/narchiver/internal/auth"
	"github.com/nao1215/narchiver/internal/captcha"
	"github.com/nao1215/narchiver/internal/config"
	"github.com/nao1215/narchiver/internal/cookie"
	"github.com/nao1215/narchiver/internal/crawler"
	"github.com/nao1215/narchiver/internal/database"
	"github.com/nao1215/narchiver/internal/exchange"
	"github.com/nao1215/narchiver/internal/pipeline"
	"github.com/nao1215/narchiver/internal/storage"
	"github.com/nao1215/narchiver/internal/tor"
)

// siteRunner builds the job and pipeline of each configured site.
type siteRunner struct {
	cfg      *config.Config
	sites    map[string]config.SiteConfig
	proxyURL string
	ledger   *database.Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// newSiteRunner creates a siteRunner. ledger may be nil.
func newSiteRunner(cfg *config.Config, sites []config.SiteConfig, proxyURL string, ledger *database.Ledger, logger *slog.Logger) *siteRunner {
	byName := make(map[string]config.SiteConfig, len(sites))
	for _, s := range sites {
		byName[s.Name] = s
	}
	return &siteRunner{
		cfg:      cfg,
		sites:    byName,
		proxyURL: proxyURL,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// newJob implements pipeline.JobFactory.
func (r *siteRunner) newJob(ctx context.Context, name string) (*pipeline.Job, *pipeline.Pipeline, error) {
	site, ok := r.sites[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", config.ErrUnknownSite, name)
	}

	startedAt := r.now()
	dir := filepath.Join(r.cfg.OutputDir, site.Location, runDirName(startedAt))
	logger := r.logger.With("site", site.Name)

	job := &pipeline.Job{
		Site:      site.Name,
		Location:  site.Location,
		BaseURL:   site.BaseURL,
		Dir:       dir,
		StartedAt: startedAt,
	}

	manifest := &storage.Manifest{}
	recorders := storage.Recorders{manifest}
	if r.ledger != nil {
		id, err := r.ledger.StartRun(ctx, site.Name, site.Location, dir, startedAt)
		if err != nil {
			return nil, nil, err
		}
		job.RunID = id
		recorders = append(recorders, r.ledger.Recorder(id))
	}

	p, err := r.buildPipeline(site, dir, manifest, recorders, logger)
	if err != nil {
		r.abandon(ctx, job, err)
		return nil, nil, err
	}
	return job, p, nil
}

// buildPipeline wires buffer, exchange, session and spider of one site.
func (r *siteRunner) buildPipeline(site config.SiteConfig, dir string, manifest *storage.Manifest, recorders storage.Recorders, logger *slog.Logger) (*pipeline.Pipeline, error) {
	passFilter, err := site.PassFilterRegexp()
	if err != nil {
		return nil, err
	}
	buf, err := storage.NewBuffer(dir,
		storage.WithThreshold(site.WriteBuffer),
		storage.WithPassFilter(passFilter),
		storage.WithRecorder(recorders),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	client, err := exchange.NewClient(
		exchange.WithProxy(r.proxyURL),
		exchange.WithTimeout(r.cfg.Timeout),
		exchange.WithConnectTimeout(r.cfg.ConnectTimeout),
		exchange.WithMaxBodySize(site.MaxBodySize),
		exchange.WithCharset(site.Charset),
		exchange.WithInsecureTLS(isOnion(site.BaseURL)),
		exchange.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	crawlSite, err := site.CrawlSite()
	if err != nil {
		return nil, err
	}

	jar := cookie.NewJar()
	if site.Cookie != "" {
		jar.Seed(site.Cookie)
	}
	opts := []crawler.SpiderOption{
		crawler.WithJar(jar),
		crawler.WithPacer(site.Pacer()),
		crawler.WithBackoff(site.Politeness.Backoff),
		crawler.WithLoginBackoff(site.Politeness.LoginBackoff),
		crawler.WithLogger(logger),
	}

	if site.Login.URL != "" {
		authenticator, err := newAuthenticator(site, client, jar, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, crawler.WithAuthenticator(authenticator))
	}

	spider, err := crawler.NewSpider(crawlSite, client, buf, opts...)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(pipeline.WithLogger(logger))
	p.AddStep(pipeline.NewCrawlStep(spider))
	p.AddFinalizer(pipeline.NewSummaryStep(manifest, buf))
	if site.Compress && !r.cfg.NoArchive {
		p.AddFinalizer(pipeline.NewArchiveStep(storage.TarGzArchiver{}, logger))
	}
	if r.ledger != nil {
		p.AddFinalizer(pipeline.NewLedgerStep(r.ledger))
	}
	return p, nil
}

// newAuthenticator creates the site's authenticator and, when the login
// form carries a CAPTCHA, its solver.
func newAuthenticator(site config.SiteConfig, client *exchange.Client, jar *cookie.Jar, logger *slog.Logger) (*auth.Authenticator, error) {
	authCfg, err := site.AuthConfig()
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{auth.WithLogger(logger)}
	if site.Captcha.Enabled {
		solver, err := captcha.New(site.SolverConfig(), client)
		if err != nil {
			return nil, fmt.Errorf("captcha solver: %w", err)
		}
		opts = append(opts, auth.WithSolver(solver))
	}
	return auth.NewAuthenticator(authCfg, client, jar, opts...)
}

// abandon closes the ledger row of a job that could not be set up.
func (r *siteRunner) abandon(ctx context.Context, job *pipeline.Job, cause error) {
	if r.ledger == nil || job.RunID == 0 {
		return
	}
	err := r.ledger.FinishRun(context.WithoutCancel(ctx), &database.Run{
		ID:         job.RunID,
		Status:     database.StatusFailed,
		FinishedAt: r.now(),
		Error:      cause.Error(),
	})
	if err != nil {
		r.logger.Error("failed to close run", "site", job.Site, "run", job.RunID, "error", err)
	}
}

// isOnion reports whether baseURL points at a hidden service.
func isOnion(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return tor.IsOnionHost(u.Hostname())
}
