package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/diagram"
)

const (
	formatSVG = "svg"
	formatPNG = "png"
	formatDOT = "dot"
)

var validFormats = []string{formatSVG, formatPNG, formatDOT}

type renderOpts struct {
	output      string
	formats     []string
	fixturePath string
	detailed    bool
	scale       float64
}

// renderCommand creates the render command, which draws a project's diagram
// with Graphviz at the computed positions.
func (c *CLI) renderCommand() *cobra.Command {
	var formatsStr string
	opts := renderOpts{scale: 1}

	cmd := &cobra.Command{
		Use:   "render <project-id>",
		Short: "Render a project's diagram to SVG, PNG or DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.formats = parseFormats(formatsStr)
			if err := validateFormats(opts.formats); err != nil {
				return err
			}
			return c.runRender(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output base path (default: <project-id>)")
	cmd.Flags().StringVarP(&formatsStr, "format", "f", "", "output format(s): svg (default), png, dot (comma-separated)")
	cmd.Flags().StringVar(&opts.fixturePath, "fixture", "", "read the project from a fixture file")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "add test coverage to node labels")
	cmd.Flags().Float64Var(&opts.scale, "scale", opts.scale, "canvas units per Graphviz point")

	return cmd
}

func parseFormats(s string) []string {
	if s == "" {
		return []string{formatSVG}
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func validateFormats(formats []string) error {
	for _, f := range formats {
		if !slices.Contains(validFormats, f) {
			return fmt.Errorf("unknown format %q (want %s)", f, strings.Join(validFormats, ", "))
		}
	}
	return nil
}

func (c *CLI) runRender(ctx context.Context, projectArg string, opts renderOpts) error {
	d, err := c.computeDiagram(ctx, projectArg, opts.fixturePath)
	if err != nil {
		return err
	}
	dot := diagram.ToDOT(d, diagram.DOTOptions{Detailed: opts.detailed, Scale: opts.scale})

	base := opts.output
	if base == "" {
		base = projectArg
	}
	base = strings.TrimSuffix(base, "."+formatSVG)

	var written []string
	for _, format := range opts.formats {
		data, err := renderFormat(ctx, dot, format)
		if err != nil {
			return fmt.Errorf("render %s: %w", format, err)
		}
		path := base + "." + format
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}

	printSuccess("Rendered project %s", projectArg)
	for _, p := range written {
		printFile(p)
	}
	printStats(len(d.Nodes), len(d.Edges), countOverridden(d))
	return nil
}

func renderFormat(ctx context.Context, dot, format string) ([]byte, error) {
	switch format {
	case formatDOT:
		return []byte(dot), nil
	case formatPNG:
		return diagram.RenderPNG(ctx, dot)
	default:
		return diagram.RenderSVG(ctx, dot)
	}
}
