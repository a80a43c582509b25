package main

import (
	"fmt"

	"github.com/nao1215/narchiver/internal/config"
	"github.com/nao1215/narchiver/internal/database"
	"github.com/nao1215/narchiver/internal/report"
	"github.com/spf13/cobra"
)

// defaultRunsLimit is the number of runs listed by default.
const defaultRunsLimit = 20

// NewRunsCmd creates the runs command.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [site-name]",
		Short: "List past crawl runs",
		Long: `Runs prints the crawl history stored in the run ledger, newest first.

Examples:
  # Show the last 20 runs of every site
  narchiver runs

  # Show the last 5 runs of one site
  narchiver runs forum -n 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRunsCmd,
	}

	cmd.Flags().IntP("limit", "n", defaultRunsLimit, "Maximum number of runs to list")
	cmd.Flags().String("db", config.XDGDataDir(), "Directory of the run ledger")

	return cmd
}

// runRunsCmd executes the runs command.
func runRunsCmd(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit <= 0 {
		return fmt.Errorf("%w: --limit must be at least 1, got %d", config.ErrInvalidLimit, limit)
	}
	dbDir, err := cmd.Flags().GetString("db")
	if err != nil {
		return err
	}

	var site string
	if len(args) == 1 {
		site = args[0]
	}

	ledger, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("no run ledger in %s: %w", dbDir, err)
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(cmd.Context(), site, limit)
	if err != nil {
		return err
	}
	return report.WriteRuns(cmd.OutOrStdout(), runs)
}
