package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/positions"
)

// positionsCommand groups the stored node position subcommands.
func (c *CLI) positionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Inspect and clean up stored node positions",
	}
	cmd.AddCommand(c.positionsListCommand())
	cmd.AddCommand(c.positionsClearCommand())
	cmd.AddCommand(c.positionsSweepCommand())
	return cmd
}

func (c *CLI) positionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List stored node positions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPositions(cmd.Context(), args[0], "", func(ctx context.Context, b *backend, pid domain.ID) error {
				rows, err := b.repo.ListByProject(ctx, pid)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					printInfo("No stored positions for project %s", pid)
					return nil
				}
				fmt.Println(positionsTable(rows))
				printDetail("%d positions", len(rows))
				return nil
			})
		},
	}
}

func (c *CLI) positionsClearCommand() *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "clear <project-id>",
		Short: "Delete stored positions of a project, or of one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPositions(cmd.Context(), args[0], "", func(ctx context.Context, b *backend, pid domain.ID) error {
				if nodeID != "" {
					if err := b.repo.Delete(ctx, pid, nodeID); err != nil {
						return fmt.Errorf("clear %s: %w", nodeID, err)
					}
					printSuccess("Cleared position of %s", nodeID)
					return nil
				}
				if err := b.repo.DeleteProject(ctx, pid); err != nil {
					return err
				}
				printSuccess("Cleared all positions of project %s", pid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "clear only this node")
	return cmd
}

func (c *CLI) positionsSweepCommand() *cobra.Command {
	var (
		fixturePath string
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "sweep <project-id>",
		Short: "Delete stored positions of nodes that no longer exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPositions(cmd.Context(), args[0], fixturePath, func(ctx context.Context, b *backend, pid domain.ID) error {
				live, err := liveNodeIDs(ctx, b, pid)
				if err != nil {
					return err
				}
				if dryRun {
					rows, err := b.repo.ListByProject(ctx, pid)
					if err != nil {
						return err
					}
					orphans := orphanedNodes(rows, live)
					printInfo("%d of %d positions are orphaned", len(orphans), len(rows))
					for _, id := range orphans {
						printDetail("%s", id)
					}
					return nil
				}
				n, err := b.repo.Prune(ctx, pid, live)
				if err != nil {
					return err
				}
				printSuccess("Removed %d orphaned positions", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "read the project from a fixture file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list what would be removed")
	return cmd
}

// withPositions opens the backend and runs fn for a parsed project id.
func (c *CLI) withPositions(ctx context.Context, projectArg, fixturePath string, fn func(context.Context, *backend, domain.ID) error) error {
	pid, err := domain.ParseID(projectArg)
	if err != nil || pid.IsZero() {
		return fmt.Errorf("invalid project id %q", projectArg)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	b, err := c.openBackend(ctx, cfg, fixturePath)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b, pid)
}

// liveNodeIDs lays the project out without overrides and returns its node
// ids. Node ids do not depend on positions.
func liveNodeIDs(ctx context.Context, b *backend, pid domain.ID) ([]string, error) {
	project, err := b.src.Projects.GetProject(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", pid, err)
	}
	forest, err := b.src.Features.TreeByProject(ctx, pid)
	if err != nil {
		return nil, err
	}
	tests, err := b.src.Tests.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	d := diagram.Layout(diagram.Input{Project: project, Forest: forest, Tests: tests}, nil, diagram.DefaultOptions())
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

func orphanedNodes(rows []positions.Override, live []string) []string {
	keep := positions.KeepSet(live)
	var out []string
	for _, r := range rows {
		if !keep[r.NodeID] {
			out = append(out, r.NodeID)
		}
	}
	return out
}

func positionsTable(rows []positions.Override) string {
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		data = append(data, []string{
			r.NodeID,
			r.NodeType,
			fmt.Sprintf("%.0f, %.0f", r.X, r.Y),
			truncate(r.Data.Label, 32),
			updated,
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Node", "Type", "Position", "Label", "Updated").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Inherit(styleHeader)
			}
			if col == 0 {
				return s.Foreground(colorCyan)
			}
			return s.Foreground(colorWhite)
		})
	return t.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
