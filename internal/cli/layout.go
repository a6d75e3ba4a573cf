package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/config"
	"github.com/matzehuels/testmap/pkg/controller"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/persist"
)

// layoutCommand creates the layout command, which writes a project's
// diagram as JSON.
func (c *CLI) layoutCommand() *cobra.Command {
	var (
		output      string
		fixturePath string
	)

	cmd := &cobra.Command{
		Use:   "layout <project-id>",
		Short: "Compute a project's diagram and write it as JSON",
		Long: `Compute a project's diagram and write it as JSON.

Nodes you have moved keep their stored positions; every other node is placed
by the layout. Projects come from the configured store, or from a fixture
file (.toml, .yaml or .json) given with --fixture.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLayout(cmd.Context(), args[0], fixturePath, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default: <project-id>.diagram.json)")
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "read the project from a fixture file")

	return cmd
}

func (c *CLI) runLayout(ctx context.Context, projectArg, fixturePath, output string) error {
	d, err := c.computeDiagram(ctx, projectArg, fixturePath)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode diagram: %w", err)
	}
	if output == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if output == "" {
		output = projectArg + ".diagram.json"
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	printSuccess("Layout complete")
	printFile(output)
	printStats(len(d.Nodes), len(d.Edges), countOverridden(d))
	printNewline()
	printNextStep("Render", fmt.Sprintf("%s render %s", appName, projectArg))
	return nil
}

// computeDiagram opens the project through a controller, waits for stored
// positions and returns the final diagram.
func (c *CLI) computeDiagram(ctx context.Context, projectArg, fixturePath string) (diagram.Diagram, error) {
	pid, err := domain.ParseID(projectArg)
	if err != nil || pid.IsZero() {
		return diagram.Diagram{}, fmt.Errorf("invalid project id %q", projectArg)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return diagram.Diagram{}, err
	}
	b, err := c.openBackend(ctx, cfg, fixturePath)
	if err != nil {
		return diagram.Diagram{}, err
	}
	defer b.Close()

	if _, err := b.src.Projects.GetProject(ctx, pid); err != nil {
		return diagram.Diagram{}, fmt.Errorf("project %s: %w", pid, err)
	}

	ctrl, err := controller.New(controllerOptions(cfg, b, loggerFromContext(ctx), notify.LogSink{Logger: loggerFromContext(ctx)}))
	if err != nil {
		return diagram.Diagram{}, err
	}
	defer ctrl.Close(context.WithoutCancel(ctx))

	p := newProgress(loggerFromContext(ctx))
	spinner := newSpinner(ctx, fmt.Sprintf("Laying out project %s...", pid))
	spinner.Start()
	err = ctrl.Open(ctx, pid)
	if err == nil {
		err = ctrl.WaitOverrides(ctx)
	}
	spinner.Stop()
	if err != nil {
		return diagram.Diagram{}, fmt.Errorf("open project %s: %w", pid, err)
	}

	d := ctrl.Diagram()
	p.done("Laid out", "project", pid, "nodes", len(d.Nodes), "edges", len(d.Edges))
	return d, nil
}

func controllerOptions(cfg *config.Config, b *backend, logger *log.Logger, sink notify.Sink) controller.Options {
	return controller.Options{
		Source:    b.src,
		Positions: b.repo,
		Layout:    cfg.Layout,
		Persist: persist.Options{
			Quiet:       cfg.QuietPeriod(),
			SavedWindow: cfg.SavedWindow(),
		},
		Cache:    b.cache,
		Keyer:    b.keyer,
		CacheTTL: cfg.CacheTTL(),
		Logger:   logger,
		Notifier: sink,
	}
}

func countOverridden(d diagram.Diagram) int {
	n := 0
	for _, node := range d.Nodes {
		if node.Overridden {
			n++
		}
	}
	return n
}
