package domain

// MaxTreeDepth bounds feature nesting. Deeper forests are treated as
// malformed.
const MaxTreeDepth = 64

// Flatten walks the forest in pre-order and returns every feature with its
// Children cleared. Ids are canonical by construction.
//
// A forest that repeats an id (a cycle or a duplicate) or nests deeper than
// MaxTreeDepth yields an empty result rather than a partial one.
func Flatten(forest []Feature) []Feature {
	var (
		out  []Feature
		seen = make(map[ID]bool)
		ok   = true
	)
	var walk func(fs []Feature, parent ID, depth int)
	walk = func(fs []Feature, parent ID, depth int) {
		if !ok {
			return
		}
		if depth > MaxTreeDepth {
			ok = false
			return
		}
		for _, f := range fs {
			if seen[f.ID] {
				ok = false
				return
			}
			seen[f.ID] = true
			flat := f
			flat.Children = nil
			if flat.ParentID.IsZero() && !parent.IsZero() {
				flat.ParentID = parent
			}
			out = append(out, flat)
			walk(f.Children, f.ID, depth+1)
		}
	}
	walk(forest, "", 1)
	if !ok {
		return nil
	}
	return out
}

// BuildForest rebuilds a nested forest from flat features using ParentID
// links. Siblings keep their input order. Features whose parent is missing
// are dropped together with their subtree, which also drops any cycle since
// a cycle can never be reached from a root.
func BuildForest(flat []Feature) []Feature {
	byParent := make(map[ID][]Feature)
	known := make(map[ID]bool, len(flat))
	for _, f := range flat {
		known[f.ID] = true
	}
	var roots []Feature
	for _, f := range flat {
		f.Children = nil
		switch {
		case f.ParentID.IsZero():
			roots = append(roots, f)
		case known[f.ParentID]:
			byParent[f.ParentID] = append(byParent[f.ParentID], f)
		}
	}

	visited := make(map[ID]bool, len(flat))
	var attach func(f Feature, depth int) Feature
	attach = func(f Feature, depth int) Feature {
		visited[f.ID] = true
		if depth >= MaxTreeDepth {
			return f
		}
		for _, c := range byParent[f.ID] {
			if visited[c.ID] {
				continue
			}
			f.Children = append(f.Children, attach(c, depth+1))
		}
		return f
	}

	out := make([]Feature, 0, len(roots))
	for _, r := range roots {
		if visited[r.ID] {
			continue
		}
		out = append(out, attach(r, 1))
	}
	return out
}

// Index maps each feature id to its feature.
func Index(flat []Feature) map[ID]Feature {
	m := make(map[ID]Feature, len(flat))
	for _, f := range flat {
		m[f.ID] = f
	}
	return m
}

// Descendants returns the ids of the feature with the given id and of its
// whole subtree. The result is empty when the id is not in the forest.
func Descendants(forest []Feature, id ID) map[ID]bool {
	out := make(map[ID]bool)
	var collect func(f Feature, depth int)
	collect = func(f Feature, depth int) {
		if out[f.ID] || depth > MaxTreeDepth {
			return
		}
		out[f.ID] = true
		for _, c := range f.Children {
			collect(c, depth+1)
		}
	}
	var find func(fs []Feature, depth int) bool
	find = func(fs []Feature, depth int) bool {
		if depth > MaxTreeDepth {
			return false
		}
		for _, f := range fs {
			if f.ID == id {
				collect(f, depth)
				return true
			}
			if find(f.Children, depth+1) {
				return true
			}
		}
		return false
	}
	find(forest, 1)
	return out
}

// Without returns a copy of forest with the features in drop and their
// subtrees removed.
func Without(forest []Feature, drop map[ID]bool) []Feature {
	var prune func(fs []Feature, depth int) []Feature
	prune = func(fs []Feature, depth int) []Feature {
		if depth > MaxTreeDepth {
			return nil
		}
		var out []Feature
		for _, f := range fs {
			if drop[f.ID] {
				continue
			}
			f.Children = prune(f.Children, depth+1)
			out = append(out, f)
		}
		return out
	}
	return prune(forest, 1)
}

// TestsByFeature groups tests by their owning feature, preserving order.
func TestsByFeature(tests []Test) map[ID][]Test {
	m := make(map[ID][]Test)
	for _, t := range tests {
		m[t.FeatureID] = append(m[t.FeatureID], t)
	}
	return m
}
