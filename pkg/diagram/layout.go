package diagram

import (
	"math"

	"github.com/matzehuels/testmap/pkg/domain"
)

// Layout computes a full diagram for one project.
//
// The forest is validated with [domain.Flatten]; a cyclic or overly deep
// forest lays out as a root-only diagram. Tests whose feature is absent
// from the forest are ignored. A nil overrides lookup means no node has
// been placed by hand.
func Layout(in Input, overrides OverrideLookup, opts Options) Diagram {
	if overrides == nil {
		overrides = Overrides(nil)
	}

	forest := in.Forest
	flat := domain.Flatten(forest)
	if len(flat) == 0 {
		forest = nil
	}
	known := make(map[domain.ID]bool, len(flat))
	for _, f := range flat {
		known[f.ID] = true
	}

	l := &layouter{
		opts:      opts,
		overrides: overrides,
		tests:     make(map[domain.ID][]domain.Test),
		widths:    make(map[domain.ID]float64, len(flat)),
	}
	var attached []domain.Test
	for _, t := range in.Tests {
		if !known[t.FeatureID] {
			continue
		}
		t = t.Normalize()
		l.tests[t.FeatureID] = append(l.tests[t.FeatureID], t)
		attached = append(attached, t)
	}

	root := Node{
		ID:       RootID(in.Project.ID),
		Kind:     KindRoot,
		Position: opts.Root,
		Data: NodeData{
			Label:       in.Project.Name,
			Description: in.Project.Description,
			ProjectID:   in.Project.ID,
			Coverage:    domain.CoverageOf(attached),
		},
	}
	l.place(&root)
	l.nodes = append(l.nodes, root)

	l.level(forest, opts.SpanStart, opts.SpanEnd, 0, root.ID)

	chains := restack(l.nodes, opts)
	return Diagram{
		Nodes: l.nodes,
		Edges: Synthesize(l.nodes, chains),
	}
}

type layouter struct {
	opts      Options
	overrides OverrideLookup
	tests     map[domain.ID][]domain.Test
	widths    map[domain.ID]float64
	nodes     []Node
}

// place swaps in the override for n, if any.
func (l *layouter) place(n *Node) {
	if p, ok := l.overrides.Get(n.ID); ok {
		n.Position = p
		n.Overridden = true
	}
}

// width returns the subtree width of f.
func (l *layouter) width(f domain.Feature, depth int) float64 {
	if w, ok := l.widths[f.ID]; ok {
		return w
	}
	var sum float64
	if depth < domain.MaxTreeDepth {
		for _, c := range f.Children {
			sum += l.width(c, depth+1)
		}
	}
	w := math.Max(l.opts.MinFeatureWidth, sum)
	l.widths[f.ID] = w
	return w
}

// level places siblings inside [start, end] and recurses into their
// children.
func (l *layouter) level(children []domain.Feature, start, end float64, depth int, parentID string) {
	if len(children) == 0 || depth >= domain.MaxTreeDepth {
		return
	}

	ws := make([]float64, len(children))
	var total float64
	for i, c := range children {
		ws[i] = l.width(c, depth)
		total += ws[i]
	}

	span := end - start
	if span < total {
		center := (start + end) / 2
		start = center - total/2
		span = total
	}

	kind := KindFeature
	if depth > 0 {
		kind = KindSubfeature
	}
	y := l.opts.FirstLevelY + float64(depth)*l.opts.LevelStep

	cursor := start
	for i, c := range children {
		slot := span * ws[i] / total
		x := cursor + slot/2
		cursor += slot

		tests := l.tests[c.ID]
		n := Node{
			ID:       FeatureNodeID(c.ID),
			Kind:     kind,
			Position: Position{X: x, Y: y},
			ParentID: parentID,
			Data: NodeData{
				Label:       c.Name,
				Description: c.Description,
				ProjectID:   c.ProjectID,
				FeatureID:   c.ID,
				Level:       depth,
				Coverage:    domain.CoverageOf(tests),
			},
		}
		l.place(&n)
		l.nodes = append(l.nodes, n)
		l.groups(c, n, tests)

		childSpan := math.Min(slot, l.opts.SpanCap*ws[i])
		l.level(c.Children, x-childSpan/2, x+childSpan/2, depth+1, n.ID)
	}
}

// groups emits one node per non-empty priority bucket of a feature's tests,
// positioned relative to the feature's effective position.
func (l *layouter) groups(f domain.Feature, owner Node, tests []domain.Test) {
	if len(tests) == 0 {
		return
	}
	buckets := make(map[domain.Priority][]domain.Test, 3)
	for _, t := range tests {
		buckets[t.Priority] = append(buckets[t.Priority], t)
	}

	main := Position{
		X: owner.Position.X + l.opts.GroupOffset.X,
		Y: owner.Position.Y + l.opts.GroupOffset.Y,
	}
	for _, g := range []struct {
		kind  Kind
		label string
		dy    float64
	}{
		{KindHighPriorityGroup, "High Priority Tests", -l.opts.PriorityOffset},
		{KindTestGroup, "Tests", 0},
		{KindLowPriorityGroup, "Low Priority Tests", l.opts.PriorityOffset},
	} {
		bucket := buckets[g.kind.Priority()]
		if len(bucket) == 0 {
			continue
		}
		n := Node{
			ID:       GroupID(g.kind, f.ID),
			Kind:     g.kind,
			Position: Position{X: main.X, Y: main.Y + g.dy},
			ParentID: owner.ID,
			Data: NodeData{
				Label:     g.label,
				ProjectID: f.ProjectID,
				FeatureID: f.ID,
				Level:     owner.Data.Level,
				Priority:  g.kind.Priority(),
				Tests:     bucket,
				Coverage:  domain.CoverageOf(bucket),
			},
		}
		l.place(&n)
		l.nodes = append(l.nodes, n)
	}
}
