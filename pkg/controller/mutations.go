package controller

import (
	"context"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/notify"
)

// Every mutation writes through the source, drops the cache keys it
// touched, refetches the affected collection and lays the diagram out
// again. The in-memory overrides keep hand-placed nodes where they are.

// CreateFeature adds a feature to the open project.
func (c *Controller) CreateFeature(ctx context.Context, in domain.FeatureInput) (domain.Feature, error) {
	pid, gen, err := c.open()
	if err != nil {
		return domain.Feature{}, err
	}
	f, err := c.src.Features.Create(ctx, pid, in)
	if err != nil {
		c.fail("Failed to create feature", err, "name", in.Name)
		return domain.Feature{}, err
	}
	c.reloadFeatures(ctx, pid, gen)
	c.notifier.Notify("Feature created", notify.SeveritySuccess)
	return f, nil
}

// UpdateFeature renames or moves a feature.
func (c *Controller) UpdateFeature(ctx context.Context, id domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	pid, gen, err := c.open()
	if err != nil {
		return domain.Feature{}, err
	}
	f, err := c.src.Features.Update(ctx, id, in)
	if err != nil {
		c.fail("Failed to update feature", err, "feature", id)
		return domain.Feature{}, err
	}
	c.reloadFeatures(ctx, pid, gen)
	c.notifier.Notify("Feature updated", notify.SeveritySuccess)
	return f, nil
}

// DeleteFeature removes a feature with its subtree and tests, then drops
// the overrides, in memory and stored, of the nodes that subtree produced.
func (c *Controller) DeleteFeature(ctx context.Context, id domain.ID) error {
	pid, gen, err := c.open()
	if err != nil {
		return err
	}
	gone := c.subtree(id)
	gone[id] = true
	if err := c.src.Features.Delete(ctx, id); err != nil {
		c.fail("Failed to delete feature", err, "feature", id)
		return err
	}

	keys := []string{c.keyer.FeatureTreeKey(pid.String()), c.keyer.TestsKey()}
	for fid := range gone {
		keys = append(keys, c.keyer.FeatureTestsKey(fid.String()))
	}
	cache.Invalidate(ctx, c.cache, keys...)

	forest, treeOK := c.fetchTree(ctx, pid)
	tests, testsOK := c.fetchTests(ctx)
	if !c.apply(ctx, gen, func() {
		if !treeOK {
			forest = domain.Without(c.forest, gone)
		}
		if !testsOK {
			tests = withoutFeatures(c.tests, gone)
		}
		c.forest, c.tests = forest, tests
	}) {
		return nil
	}

	var removed []string
	for fid := range gone {
		removed = append(removed, diagram.OwnedNodeIDs(fid)...)
	}
	if n := c.store.Remove(removed...); n > 0 {
		c.logger.Debug("dropped overrides of deleted nodes", "count", n)
	}
	c.resubmitPending(pid, removed...)
	c.deleteStored(ctx, pid, removed)
	c.notifier.Notify("Feature deleted", notify.SeveritySuccess)
	return nil
}

// deleteStored removes the stored rows of nodeIDs. Rows that were never
// saved are skipped.
func (c *Controller) deleteStored(ctx context.Context, pid domain.ID, nodeIDs []string) {
	if c.repo == nil {
		return
	}
	n := 0
	for _, nid := range nodeIDs {
		err := c.repo.Delete(ctx, pid, nid)
		switch {
		case err == nil:
			n++
		case !errs.IsNotFound(err):
			c.logger.Warn("failed to delete stored position", "project", pid, "node", nid, "err", err)
		}
	}
	if n > 0 {
		c.logger.Debug("deleted stored positions", "project", pid, "count", n)
	}
}

// CreateTest adds a test.
func (c *Controller) CreateTest(ctx context.Context, in domain.TestInput) (domain.Test, error) {
	_, gen, err := c.open()
	if err != nil {
		return domain.Test{}, err
	}
	t, err := c.src.Tests.Create(ctx, in)
	if err != nil {
		c.fail("Failed to create test", err, "feature", in.FeatureID)
		return domain.Test{}, err
	}
	c.reloadTests(ctx, gen, t.FeatureID)
	c.notifier.Notify("Test created", notify.SeveritySuccess)
	return t, nil
}

// UpdateTest changes a test's name, flag, priority or feature.
func (c *Controller) UpdateTest(ctx context.Context, id domain.ID, in domain.TestInput) (domain.Test, error) {
	_, gen, err := c.open()
	if err != nil {
		return domain.Test{}, err
	}
	before, _ := c.test(id)
	t, err := c.src.Tests.Update(ctx, id, in)
	if err != nil {
		c.fail("Failed to update test", err, "test", id)
		return domain.Test{}, err
	}
	c.reloadTests(ctx, gen, before.FeatureID, t.FeatureID)
	c.notifier.Notify("Test updated", notify.SeveritySuccess)
	return t, nil
}

// DeleteTest removes a test.
func (c *Controller) DeleteTest(ctx context.Context, id domain.ID) error {
	_, gen, err := c.open()
	if err != nil {
		return err
	}
	before, _ := c.test(id)
	if err := c.src.Tests.Delete(ctx, id); err != nil {
		c.fail("Failed to delete test", err, "test", id)
		return err
	}
	c.reloadTests(ctx, gen, before.FeatureID)
	c.notifier.Notify("Test deleted", notify.SeveritySuccess)
	return nil
}

// ToggleTest flips a test's tested flag.
func (c *Controller) ToggleTest(ctx context.Context, id domain.ID) (domain.Test, error) {
	_, gen, err := c.open()
	if err != nil {
		return domain.Test{}, err
	}
	t, err := c.src.Tests.Toggle(ctx, id)
	if err != nil {
		c.fail("Failed to update test", err, "test", id)
		return domain.Test{}, err
	}
	c.reloadTests(ctx, gen, t.FeatureID)
	return t, nil
}

func (c *Controller) reloadFeatures(ctx context.Context, pid domain.ID, gen uint64) {
	cache.Invalidate(ctx, c.cache, c.keyer.FeatureTreeKey(pid.String()))
	forest, ok := c.fetchTree(ctx, pid)
	if !ok {
		return
	}
	c.apply(ctx, gen, func() { c.forest = forest })
}

func (c *Controller) reloadTests(ctx context.Context, gen uint64, features ...domain.ID) {
	keys := []string{c.keyer.TestsKey()}
	for _, fid := range features {
		if !fid.IsZero() {
			keys = append(keys, c.keyer.FeatureTestsKey(fid.String()))
		}
	}
	cache.Invalidate(ctx, c.cache, keys...)
	tests, ok := c.fetchTests(ctx)
	if !ok {
		return
	}
	c.apply(ctx, gen, func() { c.tests = tests })
}

func (c *Controller) fail(msg string, err error, keyvals ...any) {
	c.logger.Error(msg, append(keyvals, "err", err)...)
	c.notifier.Notify(msg, notify.SeverityError)
}

// subtree returns id and the ids of its descendants in the loaded forest.
func (c *Controller) subtree(id domain.ID) map[domain.ID]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Descendants(c.forest, id)
}

func withoutFeatures(tests []domain.Test, drop map[domain.ID]bool) []domain.Test {
	out := make([]domain.Test, 0, len(tests))
	for _, t := range tests {
		if !drop[t.FeatureID] {
			out = append(out, t)
		}
	}
	return out
}

func (c *Controller) test(id domain.ID) (domain.Test, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tests {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Test{}, false
}
