package diagram

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"
)

// DOTOptions configures DOT export.
type DOTOptions struct {
	// Detailed adds coverage counts to node labels.
	Detailed bool
	// Scale converts canvas units to Graphviz points. Zero means 1.
	Scale float64
}

var kindStyle = map[Kind]string{
	KindRoot:              `shape=box, style="rounded,filled,bold", fillcolor="#1e293b", fontcolor=white`,
	KindFeature:           `shape=box, style="rounded,filled", fillcolor="#dbeafe"`,
	KindSubfeature:        `shape=box, style="rounded,filled", fillcolor="#e0e7ff"`,
	KindTestGroup:         `shape=note, style=filled, fillcolor="#f1f5f9"`,
	KindHighPriorityGroup: `shape=note, style=filled, fillcolor="#fee2e2"`,
	KindLowPriorityGroup:  `shape=note, style=filled, fillcolor="#dcfce7"`,
}

var classColor = map[string]string{
	ClassHierarchy:      "#475569",
	ClassPriorityHigh:   "#dc2626",
	ClassPriorityNormal: "#2563eb",
	ClassPriorityLow:    "#16a34a",
	ClassStack:          "#94a3b8",
}

// ToDOT converts a diagram to Graphviz DOT. Node positions are pinned, so
// the output must be laid out with neato (or rendered via [RenderSVG], which
// selects it).
func ToDOT(d Diagram, opts DOTOptions) string {
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  layout=neato;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  splines=true;\n")
	buf.WriteString("  node [fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("\n")

	for _, n := range d.Nodes {
		attrs := []string{
			fmt.Sprintf("label=%q", fmtLabel(n, opts.Detailed)),
			// Graphviz y grows upward.
			fmt.Sprintf("pos=\"%s,%s!\"", fmtFloat(n.Position.X*scale), fmtFloat(-n.Position.Y*scale)),
		}
		if s, ok := kindStyle[n.Kind]; ok {
			attrs = append(attrs, s)
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, e := range d.Edges {
		attrs := []string{fmt.Sprintf("id=%q", e.ID)}
		if c, ok := classColor[e.Style.Class]; ok {
			attrs = append(attrs, fmt.Sprintf("color=%q", c))
		}
		if e.Style.Dashed {
			attrs = append(attrs, "style=dashed", "arrowhead=none")
		}
		fmt.Fprintf(&buf, "  %q -> %q [%s];\n", e.Source, e.Target, strings.Join(attrs, ", "))
	}

	buf.WriteString("}\n")
	return buf.String()
}

func fmtLabel(n Node, detailed bool) string {
	label := n.Data.Label
	if label == "" {
		label = n.ID
	}
	if n.Kind.IsGroup() {
		label = fmt.Sprintf("%s (%d)", label, len(n.Data.Tests))
	}
	if !detailed {
		return label
	}
	c := n.Data.Coverage
	return fmt.Sprintf("%s\ntested: %d/%d", label, c.Tested, c.Total)
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RenderSVG renders DOT source to SVG using Graphviz's neato engine.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	out, err := render(ctx, dot, graphviz.SVG)
	if err != nil {
		return nil, err
	}
	return normalizeViewBox(out), nil
}

// RenderPNG renders DOT source to PNG.
func RenderPNG(ctx context.Context, dot string) ([]byte, error) {
	return render(ctx, dot, graphviz.PNG)
}

func render(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.NEATO)

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="(-?[0-9.]+)\s+(-?[0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
