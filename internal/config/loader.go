package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name looked up in the
// current and home directories.
const DefaultConfigFile = ".narchiver"

// File represents the structure of the configuration file.
type File struct {
	// Defaults contains settings applied to every site unless the site
	// overrides them. Keys present in a site entry replace the default;
	// nested sections are merged key by key.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites are crawled in file order.
	Sites []SiteConfig `yaml:"sites"`

	// Notify configures the e-mail sent when a crawl ends abnormally.
	Notify NotifyConfig `yaml:"notify,omitempty"`
}

// NotifyConfig configures the SMTP notifier.
type NotifyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Host    string   `yaml:"host,omitempty"`
	Port    int      `yaml:"port,omitempty"`
	From    string   `yaml:"from,omitempty"`
	To      []string `yaml:"to,omitempty"`

	Username string `yaml:"username,omitempty"`

	// PasswordEnv names the environment variable holding the SMTP password.
	PasswordEnv string `yaml:"passwordEnv,omitempty"`

	// TailLines is the number of log lines attached.
	TailLines int `yaml:"tailLines,omitempty"`
}

// Validate checks the notifier settings.
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.Host == "" || len(n.To) == 0 || n.From == "" {
		return fmt.Errorf("%w: host, from and to are required", ErrIncompleteNotify)
	}
	if n.Port < 0 || n.TailLines < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// rawFile keeps the YAML nodes so defaults can be merged per site.
type rawFile struct {
	Defaults yaml.Node    `yaml:"defaults"`
	Sites    []yaml.Node  `yaml:"sites"`
	Notify   NotifyConfig `yaml:"notify"`
}

// LoadConfigFile loads site configurations from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration file contents, merges the defaults
// into every site and validates the result.
//
// Design decision: Each site is decoded on top of a freshly decoded copy of
// the defaults because:
// 1. Fields the site leaves out keep the default, fields it sets win
// 2. Nested sections merge key by key without hand-written merge code
// 3. No slice or map is shared between two sites
func ParseConfig(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoSites
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cf := &File{Notify: raw.Notify}
	if !raw.Defaults.IsZero() {
		if err := raw.Defaults.Decode(&cf.Defaults); err != nil {
			return nil, fmt.Errorf("failed to parse defaults: %w", err)
		}
	}

	seen := make(map[string]bool, len(raw.Sites))
	for i := range raw.Sites {
		var site SiteConfig
		if !raw.Defaults.IsZero() {
			if err := raw.Defaults.Decode(&site); err != nil {
				return nil, fmt.Errorf("failed to parse defaults: %w", err)
			}
		}
		if err := raw.Sites[i].Decode(&site); err != nil {
			return nil, fmt.Errorf("failed to parse site %d: %w", i+1, err)
		}
		site.applyDefaults()
		if err := site.Validate(); err != nil {
			return nil, err
		}
		if seen[site.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSite, site.Name)
		}
		seen[site.Name] = true
		cf.Sites = append(cf.Sites, site)
	}
	if len(cf.Sites) == 0 {
		return nil, ErrNoSites
	}
	if err := cf.Notify.Validate(); err != nil {
		return nil, err
	}
	return cf, nil
}

// Site returns the named site.
func (cf *File) Site(name string) (SiteConfig, bool) {
	i := slices.IndexFunc(cf.Sites, func(s SiteConfig) bool { return s.Name == name })
	if i < 0 {
		return SiteConfig{}, false
	}
	return cf.Sites[i], true
}

// Select returns the named sites in file order, or every site when names is empty.
func (cf *File) Select(names []string) ([]SiteConfig, error) {
	if len(names) == 0 {
		return slices.Clone(cf.Sites), nil
	}
	var unknown []error
	for _, name := range names {
		if _, ok := cf.Site(name); !ok {
			unknown = append(unknown, fmt.Errorf("%w: %q", ErrUnknownSite, name))
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Join(unknown...)
	}

	selected := make([]SiteConfig, 0, len(names))
	for _, s := range cf.Sites {
		if slices.Contains(names, s.Name) {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .narchiver in the current directory
// 3. Look for config.yaml in the XDG config directory
// 4. Look for .narchiver in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
