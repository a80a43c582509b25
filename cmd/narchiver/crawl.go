package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/narchiver/internal/config"
	"github.com/nao1215/narchiver/internal/database"
	nlog "github.com/nao1215/narchiver/internal/log"
	"github.com/nao1215/narchiver/internal/notify"
	"github.com/nao1215/narchiver/internal/pipeline"
	"github.com/nao1215/narchiver/internal/report"
	"github.com/nao1215/narchiver/internal/tor"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [site-name...]",
		Short: "Archive the configured sites",
		Long: `Crawl archives every site in the configuration file, or only the named ones.

Each site is crawled with its own session, link rules and politeness delays.
A site whose crawl fails is logged and skipped; the remaining sites still
run. The exit status is non-zero only when the configuration cannot be
loaded or a site cannot be initialised.

Examples:
  # Crawl every configured site
  narchiver crawl

  # Crawl two sites through privoxy
  narchiver crawl --proxy http://127.0.0.1:8118 forum wiki

  # Crawl through an embedded Tor daemon, three sites at a time
  narchiver crawl --tor --parallel 3

  # Use a custom configuration file and output directory
  narchiver crawl -c sites.yaml -o /srv/archives`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .narchiver, $XDG_CONFIG_HOME/narchiver/config.yaml or ~/.narchiver)")
	cmd.Flags().StringP("output", "o", config.DefaultOutputDir(),
		"Root directory of the archive tree")

	// Transport flags
	cmd.Flags().StringP("proxy", "p", "",
		"Proxy URL, e.g. http://127.0.0.1:8118 or "+config.DefaultTorProxyURL)
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and crawl through it")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for establishing a connection")

	// Batch flags
	cmd.Flags().IntP("parallel", "P", config.DefaultParallel,
		"Number of sites crawled concurrently")

	// Output flags
	cmd.Flags().String("log-file", config.NewConfig().LogFile,
		"Append the log to this file (empty disables it)")
	cmd.Flags().Bool("json-log", false,
		"Write the log as JSON")
	cmd.Flags().Bool("no-archive", false,
		"Keep run directories instead of packing them")
	cmd.Flags().String("db", config.XDGDataDir(),
		"Directory of the run ledger (empty disables it)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	file, sites, err := loadSites(cfg)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, flushing and stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, file, sites, logger, cmd.OutOrStdout())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.ProxyURL, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseEmbeddedTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = flags.GetDuration("connect-timeout"); err != nil {
		return nil, err
	}
	if cfg.Parallel, err = flags.GetInt("parallel"); err != nil {
		return nil, err
	}
	if cfg.LogFile, err = flags.GetString("log-file"); err != nil {
		return nil, err
	}
	if cfg.JSONLog, err = flags.GetBool("json-log"); err != nil {
		return nil, err
	}
	if cfg.NoArchive, err = flags.GetBool("no-archive"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.SiteNames = args
	return cfg, nil
}

// loadSites reads the configuration file and selects the sites to crawl.
func loadSites(cfg *config.Config) (*config.File, []config.SiteConfig, error) {
	path := config.FindConfigFile(cfg.ConfigFilePath)
	if path == "" {
		if cfg.ConfigFilePath != "" {
			return nil, nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
		}
		return nil, nil, fmt.Errorf("%w (run 'narchiver init' to create one)", config.ErrConfigNotFound)
	}

	file, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	sites, err := file.Select(cfg.SiteNames)
	if err != nil {
		return nil, nil, err
	}
	return file, sites, nil
}

// setupLogger creates the secure logger. When a log file is configured the
// log goes to both stderr and the file, so the notifier can mail its tail.
func setupLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	w := stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := nlog.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(stderr, f)
		closeFn = func() { _ = f.Close() } //nolint:errcheck // log file close on exit
	}

	if cfg.JSONLog {
		return nlog.NewSecureJSONLogger(w, cfg.Verbose), closeFn, nil
	}
	return nlog.NewSecureLogger(w, cfg.Verbose), closeFn, nil
}

// runCrawl crawls sites and prints a summary per site to out.
// Crawl-fatal errors are reported through the notifier, not returned.
func runCrawl(ctx context.Context, cfg *config.Config, file *config.File, sites []config.SiteConfig, logger *slog.Logger, out io.Writer) error {
	hook := notify.NewHook(logger)
	if err := registerNotifier(hook, file.Notify, cfg.LogFile); err != nil {
		return err
	}

	proxyURL, stopProxy, err := setupProxy(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer stopProxy()

	var ledger *database.Ledger
	if cfg.DBDir != "" {
		ledger, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open run ledger: %w", err)
		}
		defer ledger.Close()
		logger.Debug("run ledger opened", "path", ledger.Path())
	}

	runner := newSiteRunner(cfg, sites, proxyURL, ledger, logger)
	batch := pipeline.NewBatchRunner(runner.newJob,
		pipeline.WithConcurrency(cfg.Parallel),
		pipeline.WithBatchLogger(logger),
	)

	names := make([]string, len(sites))
	for i, s := range sites {
		names[i] = s.Name
	}

	logger.Info("starting crawl", "sites", names, "proxy", proxyURL != "", "parallel", cfg.Parallel)
	jobs, setupErr := batch.Run(ctx, names)

	for _, job := range jobs {
		if job == nil || job.Summary == nil {
			continue
		}
		if _, err := report.NewTextWriter(out, report.WithVerbose(cfg.Verbose)).Write(job.Summary); err != nil {
			logger.Error("failed to print summary", "site", job.Site, "error", err)
		}
	}

	if ctx.Err() == nil {
		if cause := errors.Join(setupErr, pipeline.Failures(jobs)); cause != nil {
			hook.Fire(ctx, cause)
		}
	}
	return setupErr
}

// registerNotifier attaches the SMTP notifier to hook when it is enabled.
func registerNotifier(hook *notify.Hook, nc config.NotifyConfig, logFile string) error {
	if !nc.Enabled {
		return nil
	}
	var password string
	if nc.PasswordEnv != "" {
		password = os.Getenv(nc.PasswordEnv)
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:      nc.Host,
		Port:      nc.Port,
		From:      nc.From,
		To:        nc.To,
		Username:  nc.Username,
		Password:  password,
		TailLines: nc.TailLines,
	}, logFile)
	if err != nil {
		return fmt.Errorf("failed to configure notifier: %w", err)
	}
	hook.OnFatal(n.Notify)
	return nil
}

// setupProxy returns the proxy URL every site uses and a cleanup function.
// SOCKS proxies are checked before the first crawl starts.
func setupProxy(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (string, func(), error) {
	if cfg.UseEmbeddedTor {
		return startEmbeddedTor(ctx, cfg, logger, out)
	}
	if cfg.ProxyURL == "" {
		return "", func() {}, nil
	}

	u, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", config.ErrInvalidProxy, err)
	}
	if strings.HasPrefix(u.Scheme, "socks5") {
		client, err := tor.NewClient(u.Host, cfg.ConnectTimeout)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create SOCKS client: %w", err)
		}
		if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
			return "", nil, fmt.Errorf("proxy check failed: %w (make sure Tor is running at %s)", status.Err(), u.Host)
		}
		logger.Info("SOCKS proxy connection verified", "address", u.Host)
	}
	return cfg.ProxyURL, func() {}, nil
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (string, func(), error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return "", nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	stop := func() {
		logger.Info("stopping embedded Tor daemon...")
		if err := embedded.Stop(); err != nil {
			logger.Error("failed to stop embedded Tor", "error", err)
		}
	}

	client, err := embedded.NewClient(cfg.ConnectTimeout)
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		stop()
		return "", nil, fmt.Errorf("embedded Tor proxy check failed: %w", status.Err())
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embedded.SocksAddr(),
		"controlAddr", embedded.ControlAddr(),
	)
	fmt.Fprintf(out, "SOCKS proxy: %s\n\n", embedded.SocksAddr())
	return embedded.ProxyURL(), stop, nil
}

// runDirLayout names the directory of one run.
const runDirLayout = "20060102-150405"

// runDirName returns the run directory name for t.
func runDirName(t time.Time) string {
	return t.Format(runDirLayout)
}
