// Package cli implements the testmap command-line interface.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/buildinfo"
	"github.com/matzehuels/testmap/pkg/config"
)

// =============================================================================
// Constants
// =============================================================================

const appName = "testmap"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	verbose    bool
	configPath string
	storeKind  string
	dbPath     string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "testmap lays out feature trees and their tests as a diagram",
		Long: `testmap turns a project's feature tree and test suite into a hierarchical
diagram, keeps the positions of nodes you move, and serves both over HTTP.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.verbose {
				c.SetLogLevel(LogDebug)
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultPath(), "config file (.toml or .yaml)")
	root.PersistentFlags().StringVar(&c.storeKind, "store", "", "store kind: memory, sqlite, redis, mongo, remote")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "sqlite database path")

	root.AddCommand(c.layoutCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.importCommand())
	root.AddCommand(c.positionsCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.exploreCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the config file and applies the persistent flags on top.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.storeKind != "" {
		cfg.Store.Kind = c.storeKind
	}
	if c.dbPath != "" {
		cfg.Store.Path = c.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.Logger.Debug("loaded config", "path", c.configPath, "store", cfg.Store.Kind, "cache", cfg.Cache.Kind)
	return cfg, nil
}
