package controller

import (
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
)

// Panel names the side panel a click opens.
type Panel string

const (
	PanelProject Panel = "project"
	PanelFeature Panel = "feature"
	PanelTests   Panel = "tests"
)

// Selection describes what a clicked node shows.
type Selection struct {
	Panel   Panel
	NodeID  string
	Project domain.Project
	// Feature is set for feature and group nodes.
	Feature *domain.Feature
	// Tests are the feature's tests for a feature panel and the group's
	// tests for a tests panel.
	Tests    []domain.Test
	Priority domain.Priority
	Coverage domain.Coverage
}

// Click routes a node click by node kind. Unknown ids are logged and
// reported as ErrNodeNotFound.
func (c *Controller) Click(nodeID string) (Selection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.current.Node(nodeID)
	if !ok {
		c.logger.Warn("click on unknown node ignored", "node", nodeID)
		return Selection{}, ErrNodeNotFound
	}

	sel := Selection{NodeID: nodeID, Project: c.project, Coverage: node.Data.Coverage}
	switch {
	case node.Kind == diagram.KindRoot:
		sel.Panel = PanelProject
		return sel, nil
	case node.Kind.IsFeature():
		sel.Panel = PanelFeature
	case node.Kind.IsGroup():
		sel.Panel = PanelTests
		sel.Priority = node.Kind.Priority()
		sel.Tests = node.Data.Tests
	default:
		c.logger.Warn("click on node of unknown kind", "node", nodeID, "kind", node.Kind)
		return Selection{}, ErrNodeNotFound
	}

	f, ok := domain.Index(domain.Flatten(c.forest))[node.Data.FeatureID]
	if !ok {
		c.logger.Warn("clicked node references a missing feature", "node", nodeID, "feature", node.Data.FeatureID)
		return Selection{}, ErrNodeNotFound
	}
	f.Children = nil
	sel.Feature = &f
	if sel.Panel == PanelFeature {
		sel.Tests = domain.TestsByFeature(c.tests)[f.ID]
	}
	return sel, nil
}
