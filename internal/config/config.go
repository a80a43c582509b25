package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "narchiver"

	// DefaultTorProxyURL is the standard Tor SOCKS5 proxy. The socks5h scheme
	// makes the proxy resolve host names, which .onion hosts require.
	DefaultTorProxyURL = "socks5h://127.0.0.1:9050"

	// DefaultTimeout bounds one HTTP exchange. Hidden services and slow
	// forums routinely take tens of seconds to answer.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds connection setup.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultParallel crawls one site at a time.
	DefaultParallel = 1

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultLogFileName is the log file inside XDGStateDir.
	DefaultLogFileName = "narchiver.log"
)

// Config holds the global options of one narchiver invocation.
// It is populated from CLI flags and passed through the application via
// dependency injection rather than global state.
//
// Design decision: We use a single flat struct for global options and keep
// per-site settings in SiteConfig because:
// 1. Global options come from flags, site options from the YAML file
// 2. Sites are crawled with different settings in one invocation
type Config struct {
	// ProxyURL routes every request through a proxy, e.g.
	// "socks5h://127.0.0.1:9050" or "http://127.0.0.1:8118". Empty means direct.
	ProxyURL string

	// UseEmbeddedTor starts a Tor daemon and routes requests through it.
	// It cannot be combined with ProxyURL.
	UseEmbeddedTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor daemon.
	TorStartupTimeout time.Duration

	// Timeout bounds one HTTP exchange.
	Timeout time.Duration

	// ConnectTimeout bounds connection setup.
	ConnectTimeout time.Duration

	// Parallel is the number of sites crawled concurrently.
	Parallel int

	// OutputDir is the root of the archive tree.
	OutputDir string

	// DBDir is the directory of the run ledger. Empty disables the ledger.
	DBDir string

	// LogFile receives a copy of the log. Empty disables the file.
	LogFile string

	// JSONLog switches log output to JSON.
	JSONLog bool

	// Verbose enables debug logging.
	Verbose bool

	// NoArchive keeps run directories instead of packing them.
	NoArchive bool

	// ConfigFilePath is the explicit configuration file path, if any.
	ConfigFilePath string

	// SiteNames restricts the crawl to the named sites. Empty means all.
	SiteNames []string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		TorStartupTimeout: DefaultTorStartupTimeout,
		Timeout:           DefaultTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		Parallel:          DefaultParallel,
		OutputDir:         DefaultOutputDir(),
		DBDir:             XDGDataDir(),
		LogFile:           filepath.Join(XDGStateDir(), DefaultLogFileName),
	}
}

// XDGDataDir returns the XDG data directory for narchiver.
// On Linux: ~/.local/share/narchiver
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for narchiver.
// On Linux: ~/.config/narchiver
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGStateDir returns the XDG state directory for narchiver.
// On Linux: ~/.local/state/narchiver
func XDGStateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// DefaultOutputDir returns the default archive root.
func DefaultOutputDir() string {
	return filepath.Join(XDGDataDir(), "archives")
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.ConnectTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Parallel <= 0 {
		return ErrInvalidParallel
	}
	if c.OutputDir == "" {
		return ErrNoOutputDir
	}
	if c.ProxyURL != "" {
		if c.UseEmbeddedTor {
			return ErrConflictingProxy
		}
		if err := validateProxyURL(c.ProxyURL); err != nil {
			return err
		}
	}
	return nil
}

func validateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidProxy)
	}
	return nil
}
