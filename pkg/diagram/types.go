package diagram

import (
	"github.com/matzehuels/testmap/pkg/domain"
)

// Position is a 2D canvas coordinate. Y grows downward.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Kind identifies what a node represents.
type Kind string

const (
	KindRoot              Kind = "root"
	KindFeature           Kind = "feature"
	KindSubfeature        Kind = "subfeature"
	KindTestGroup         Kind = "testGroup"
	KindHighPriorityGroup Kind = "highPriorityGroup"
	KindLowPriorityGroup  Kind = "lowPriorityGroup"
)

// IsGroup reports whether k is one of the test-group kinds.
func (k Kind) IsGroup() bool {
	return k == KindTestGroup || k == KindHighPriorityGroup || k == KindLowPriorityGroup
}

// IsFeature reports whether k is a feature or subfeature.
func (k Kind) IsFeature() bool {
	return k == KindFeature || k == KindSubfeature
}

// NodeType returns the renderer type name persisted with position overrides.
func (k Kind) NodeType() string {
	switch k {
	case KindRoot:
		return "rootNode"
	case KindFeature:
		return "featureNode"
	case KindSubfeature:
		return "subFeatureNode"
	case KindTestGroup:
		return "testNode"
	case KindHighPriorityGroup:
		return "highPriorityTestNode"
	case KindLowPriorityGroup:
		return "lowPriorityTestNode"
	default:
		return ""
	}
}

// Priority returns the test priority a group kind holds.
func (k Kind) Priority() domain.Priority {
	switch k {
	case KindHighPriorityGroup:
		return domain.PriorityHigh
	case KindLowPriorityGroup:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

// NodeData is the payload a renderer or side panel needs for a node.
type NodeData struct {
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	ProjectID   domain.ID       `json:"projectId,omitempty"`
	FeatureID   domain.ID       `json:"featureId,omitempty"`
	Level       int             `json:"level"`
	Priority    domain.Priority `json:"priority,omitempty"`
	Tests       []domain.Test   `json:"tests,omitempty"`
	Coverage    domain.Coverage `json:"coverage"`
}

// Node is one positioned diagram node.
type Node struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Position Position `json:"position"`
	// ParentID is the id of the owning node: the root for top-level
	// features, the parent feature for subfeatures, the feature for groups.
	ParentID   string   `json:"parentId,omitempty"`
	Data       NodeData `json:"data"`
	Overridden bool     `json:"overridden,omitempty"`
}

// Curve names an edge routing style.
type Curve string

const (
	CurveDefault    Curve = "default"
	CurveSmoothStep Curve = "smoothstep"
	CurveStraight   Curve = "straight"
)

// Edge classes.
const (
	ClassHierarchy      = "hierarchy"
	ClassPriorityHigh   = "priority-high"
	ClassPriorityNormal = "priority-normal"
	ClassPriorityLow    = "priority-low"
	ClassStack          = "stack"
)

// EdgeStyle carries the visual metadata of an edge.
type EdgeStyle struct {
	Curve  Curve  `json:"curve"`
	Class  string `json:"class"`
	Dashed bool   `json:"dashed,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Style  EdgeStyle `json:"style"`
}

// Diagram is the result of a layout pass.
type Diagram struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node with the given id.
func (d Diagram) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeIDs returns the set of node ids in d.
func (d Diagram) NodeIDs() map[string]bool {
	out := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		out[n.ID] = true
	}
	return out
}

// WithPosition returns a copy of d with node id moved to p. The second
// result is false when no such node exists.
func (d Diagram) WithPosition(id string, p Position) (Diagram, bool) {
	out := Diagram{Nodes: make([]Node, len(d.Nodes)), Edges: d.Edges}
	copy(out.Nodes, d.Nodes)
	for i := range out.Nodes {
		if out.Nodes[i].ID == id {
			out.Nodes[i].Position = p
			out.Nodes[i].Overridden = true
			return out, true
		}
	}
	return d, false
}

// Input is the domain data a layout pass consumes.
type Input struct {
	Project domain.Project
	Forest  []domain.Feature
	Tests   []domain.Test
}

// OverrideLookup returns a user-placed position for a node id.
type OverrideLookup interface {
	Get(nodeID string) (Position, bool)
}

// Overrides is a plain map implementation of [OverrideLookup].
type Overrides map[string]Position

// Get implements [OverrideLookup].
func (o Overrides) Get(nodeID string) (Position, bool) {
	p, ok := o[nodeID]
	return p, ok
}

// Node id helpers.

func RootID(projectID domain.ID) string { return "project-" + projectID.String() }

func FeatureNodeID(featureID domain.ID) string { return featureID.String() }

// OwnedNodeIDs returns the ids of every node a feature can produce: its
// feature node and its three test groups.
func OwnedNodeIDs(featureID domain.ID) []string {
	return []string{
		FeatureNodeID(featureID),
		GroupID(KindTestGroup, featureID),
		GroupID(KindHighPriorityGroup, featureID),
		GroupID(KindLowPriorityGroup, featureID),
	}
}

// GroupID returns the id of the group node of kind k owned by a feature.
func GroupID(k Kind, featureID domain.ID) string {
	switch k {
	case KindHighPriorityGroup:
		return "high-priority-tests-" + featureID.String()
	case KindLowPriorityGroup:
		return "low-priority-tests-" + featureID.String()
	default:
		return "tests-" + featureID.String()
	}
}

func EdgeID(source, target string) string { return "edge-" + source + "-" + target }
