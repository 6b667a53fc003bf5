package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/revittco/agentrun/internal/config"
)

// defaultCatalogYAML is what `agentrund init` scaffolds: one tool override
// left at its compiled-in default as an example, and one default rule
// template showing the shape default_rules entries take.
const defaultCatalogYAML = `# agentrun catalog: tool approval overrides and default approval rules.
# Every entry here is optional; a missing file (or a missing key within it)
# falls back to the compiled-in tool defaults.

tools:
  - path: calendar.update
    approval: required

default_rules:
  - tool_path: calendar.update
    field: title
    operator: equals
    value: "[auto-approved] "
    decision: approved
`

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a starter agentrun.yaml catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing catalog file")
	return cmd
}

func runInit(force bool) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !force {
		if _, err := os.Stat(cfg.ConfigFile); err == nil {
			return fmt.Errorf("init: %s already exists (use --force to overwrite)", cfg.ConfigFile)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("init: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ConfigFile), 0o700); err != nil {
		return fmt.Errorf("init: create config dir: %w", err)
	}
	if err := os.WriteFile(cfg.ConfigFile, []byte(defaultCatalogYAML), 0o600); err != nil {
		return fmt.Errorf("init: write %s: %w", cfg.ConfigFile, err)
	}

	fmt.Printf("wrote %s\n", cfg.ConfigFile)
	return nil
}
