// Package positions stores user-placed node coordinates.
//
// A [Store] is the in-memory view the layout consults on every pass. A
// [Repository] is the durable side, keyed by (project, node). The two are
// kept apart so that a slow or failing backend never blocks layout.
package positions

import (
	"time"

	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

// ErrNotFound is returned when an override does not exist.
var ErrNotFound = errs.New(errs.ErrCodeNodeNotFound, "position override not found")

// Data is the minimal context saved with an override so a stored row can be
// understood without refetching the project.
type Data struct {
	Label     string    `json:"label" bson:"label"`
	FeatureID domain.ID `json:"featureId,omitempty" bson:"feature_id,omitempty"`
	TestCount int       `json:"testCount" bson:"test_count"`
}

// Override is one user-chosen node position.
type Override struct {
	ProjectID domain.ID `json:"project_id" bson:"project_id"`
	NodeID    string    `json:"node_id" bson:"node_id"`
	NodeType  string    `json:"node_type,omitempty" bson:"node_type,omitempty"`
	X         float64   `json:"position_x" bson:"position_x"`
	Y         float64   `json:"position_y" bson:"position_y"`
	Data      Data      `json:"data" bson:"data"`
	CreatedAt time.Time `json:"created_at,omitzero" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero" bson:"updated_at"`
}

// Position returns the override's coordinate.
func (o Override) Position() diagram.Position {
	return diagram.Position{X: o.X, Y: o.Y}
}

// Validate checks that o can be stored.
func (o Override) Validate() error {
	if o.NodeID == "" {
		return errs.New(errs.ErrCodeInvalidID, "node id is required")
	}
	return errs.ValidatePosition(o.X, o.Y)
}

// FromNodes snapshots every node of a diagram as an override for projectID.
func FromNodes(projectID domain.ID, nodes []diagram.Node) []Override {
	out := make([]Override, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, FromNode(projectID, n))
	}
	return out
}

// FromNode converts a single node.
func FromNode(projectID domain.ID, n diagram.Node) Override {
	return Override{
		ProjectID: projectID,
		NodeID:    n.ID,
		NodeType:  n.Kind.NodeType(),
		X:         n.Position.X,
		Y:         n.Position.Y,
		Data: Data{
			Label:     n.Data.Label,
			FeatureID: n.Data.FeatureID,
			TestCount: n.Data.Coverage.Total,
		},
	}
}
