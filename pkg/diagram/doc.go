// Package diagram turns a project's feature forest and test list into a
// positioned node/edge graph.
//
// # Overview
//
// [Layout] is a pure function: given the same [Input], override lookup and
// [Options] it returns the same [Diagram], node for node and edge for edge.
// Callers own all state; the package keeps none.
//
// # Nodes
//
// Every pass emits:
//
//   - One root node, "project-<id>", at [Options].Root.
//   - One node per feature, keyed by the feature id. Top-level features have
//     kind [KindFeature], nested ones [KindSubfeature].
//   - Up to three test-group nodes per feature, one per non-empty priority
//     bucket: "tests-<id>" (normal), "high-priority-tests-<id>" and
//     "low-priority-tests-<id>".
//
// # Placement
//
// Feature x coordinates come from recursive span partitioning. Each feature
// has a subtree width of max(MinFeatureWidth, sum of child widths). Siblings
// split their parent's span in proportion to those widths, and a span that
// is too narrow is widened around its center rather than compressed. Depth
// maps to y in fixed steps so hierarchy edges always point down.
//
// Test groups sit to the right of their feature, with the high-priority
// group above and the low-priority group below the main group.
//
// # Overrides
//
// An [OverrideLookup] supplies user-placed coordinates. A hit replaces the
// computed position of that node outright. Child spans and group offsets are
// still derived from the layout, so moving one node never reshuffles the
// rest of the tree.
//
// # Stacking
//
// Group nodes of the same kind that land in the same grid column are
// re-stacked vertically at [Options].StackSpacing and linked by dashed
// connector edges. Groups with an override never move.
//
// # Rendering
//
// [ToDOT] exports a diagram as Graphviz DOT with pinned coordinates and
// [RenderSVG] renders it in-process via [github.com/goccy/go-graphviz].
package diagram
