package diagram

// Synthesize derives the edges of a diagram from its nodes and stack chains.
//
// Features connect to their parent (the root for top-level features) with a
// default curve, groups connect to their feature with a smoothstep curve
// classed by priority, and consecutive stacked groups get a dashed straight
// connector. Edge ids are "edge-<source>-<target>"; the first edge with a
// given id wins. Output order follows node order, then chain order.
func Synthesize(nodes []Node, chains []Chain) []Edge {
	var (
		edges []Edge
		seen  = make(map[string]bool)
	)
	add := func(source, target string, style EdgeStyle) {
		id := EdgeID(source, target)
		if seen[id] {
			return
		}
		seen[id] = true
		edges = append(edges, Edge{ID: id, Source: source, Target: target, Style: style})
	}

	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}
		switch {
		case n.Kind.IsFeature():
			add(n.ParentID, n.ID, EdgeStyle{Curve: CurveDefault, Class: ClassHierarchy})
		case n.Kind.IsGroup():
			add(n.ParentID, n.ID, EdgeStyle{Curve: CurveSmoothStep, Class: groupClass(n.Kind)})
		}
	}

	for _, c := range chains {
		for i := 1; i < len(c); i++ {
			add(c[i-1], c[i], EdgeStyle{Curve: CurveStraight, Class: ClassStack, Dashed: true})
		}
	}
	return edges
}

func groupClass(k Kind) string {
	switch k {
	case KindHighPriorityGroup:
		return ClassPriorityHigh
	case KindLowPriorityGroup:
		return ClassPriorityLow
	default:
		return ClassPriorityNormal
	}
}
