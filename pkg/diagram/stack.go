package diagram

import (
	"cmp"
	"math"
	"slices"
)

// Chain lists the ids of re-stacked group nodes from top to bottom.
type Chain []string

// restack resolves collisions between group nodes of the same kind that
// share a grid column. Colliding nodes keep their relative vertical order
// (ties broken by id) and are spread downward from the topmost one at
// StackSpacing. Overridden nodes are never moved and never collide. When a
// main test group moves, the priority groups of the same feature that were
// not stacked themselves move by the same amount.
//
// nodes is modified in place. The returned chains are in first-seen order.
func restack(nodes []Node, opts Options) []Chain {
	type column struct {
		kind Kind
		col  int64
	}
	buckets := make(map[column][]int)
	var order []column
	for i, n := range nodes {
		if !n.Kind.IsGroup() || n.Overridden {
			continue
		}
		k := column{n.Kind, int64(math.Round(n.Position.X / opts.StackGrid))}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], i)
	}

	var chains []Chain
	stacked := make(map[int]bool)
	shift := make(map[string]float64)
	for _, k := range order {
		idx := buckets[k]
		if len(idx) < 2 {
			continue
		}
		slices.SortStableFunc(idx, func(a, b int) int {
			if c := cmp.Compare(nodes[a].Position.Y, nodes[b].Position.Y); c != 0 {
				return c
			}
			return cmp.Compare(nodes[a].ID, nodes[b].ID)
		})
		y0 := nodes[idx[0]].Position.Y
		chain := make(Chain, len(idx))
		for i, j := range idx {
			y := y0 + float64(i)*opts.StackSpacing
			if dy := y - nodes[j].Position.Y; dy != 0 && nodes[j].Kind == KindTestGroup {
				shift[nodes[j].ParentID] = dy
			}
			nodes[j].Position.Y = y
			stacked[j] = true
			chain[i] = nodes[j].ID
		}
		chains = append(chains, chain)
	}

	for i := range nodes {
		n := &nodes[i]
		if stacked[i] || n.Overridden || !n.Kind.IsGroup() || n.Kind == KindTestGroup {
			continue
		}
		if dy, ok := shift[n.ParentID]; ok {
			n.Position.Y += dy
		}
	}
	return chains
}
