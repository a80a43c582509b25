package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for narchiver.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "narchiver",
		Short: "Polite archiver for websites behind a login",
		Long: `narchiver crawls the sites listed in its configuration file and stores
every page it reaches. It keeps a session cookie jar, logs in again when
the session expires (solving image CAPTCHAs through a vision model or an
OCR endpoint), honours per-site link rules and waits between requests.

Each run is written to <output>/<location>/<timestamp>/ and packed into
<timestamp>.tar.gz when the site enables compression. Requests can be
routed through an HTTP proxy, a Tor SOCKS proxy or an embedded Tor daemon.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
