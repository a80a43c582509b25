package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/narchiver/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/narchiver.yaml
var configTemplate embed.FS

// templatePath is the template location inside configTemplate.
const templatePath = "templates/narchiver.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new narchiver configuration file",
		Long: `Initialize creates a new .narchiver configuration file in the current directory.

The generated file includes:
- Defaults shared by every site (depth, politeness, headers)
- A commented example site with a login form and CAPTCHA settings
- The e-mail notifier section

Examples:
  # Create .narchiver in current directory
  narchiver init

  # Create config file at a specific path
  narchiver init -o ~/.config/narchiver/config.yaml

  # Force overwrite existing file
  narchiver init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// The file may hold credentials.
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to describe the sites to archive:")
	fmt.Fprintln(out, "  - Base URL, seed pages and link rules")
	fmt.Fprintln(out, "  - Login form fields and CAPTCHA solver")
	fmt.Fprintln(out, "  - Politeness delays and output location")

	return nil
}
