package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/config"
	"github.com/matzehuels/testmap/pkg/source/fixture"
	"github.com/matzehuels/testmap/pkg/storage/sqlite"
)

// importCommand loads a fixture into the SQLite database.
func (c *CLI) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <fixture>",
		Short: "Import a project fixture into the local database",
		Long: `Import a project fixture (.toml, .yaml or .json) into the SQLite database.

The fixture's project, features and tests replace any previous copy of that
project. Stored node positions are kept; run 'positions sweep' afterwards to
drop positions of nodes that no longer exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runImport(ctx context.Context, path string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	f, err := fixture.Load(path)
	if err != nil {
		return err
	}

	// Redis and mongo keep positions only, so projects always land in sqlite.
	if cfg.Store.Kind == config.StoreMemory || cfg.Store.Kind == config.StoreRemote {
		return fmt.Errorf("import needs a local database; the %s store has none", cfg.Store.Kind)
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	p := newProgress(loggerFromContext(ctx))
	stats, err := db.Import(ctx, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	p.done("Imported fixture", "project", f.Project.ID, "features", stats.Features, "tests", stats.Tests)

	printSuccess("Imported project %s (%s)", StyleHighlight.Render(f.Project.ID.String()), f.Project.Name)
	printKeyValue("features", fmt.Sprint(stats.Features))
	printKeyValue("tests", fmt.Sprint(stats.Tests))
	if stats.Skipped > 0 {
		printWarning("skipped %d orphaned entries", stats.Skipped)
	}
	printKeyValue("database", cfg.Store.Path)
	printNewline()
	printNextStep("Lay out", fmt.Sprintf("%s layout %s", appName, f.Project.ID))
	return nil
}
