package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
	"github.com/matzehuels/testmap/pkg/source/fixture"
)

const shopFixture = `{
  "project": {"id": 1, "name": "Shop"},
  "features": [
    {"id": 10, "name": "Cart", "children": [
      {"id": 11, "name": "Coupons"}
    ]},
    {"id": 12, "name": "Search"},
    {"id": 13, "name": "Lost", "parent_id": 99}
  ],
  "tests": [
    {"id": 100, "feature_id": 11, "name": "applies code", "priority": "HIGH"},
    {"id": 101, "feature_id": 10, "name": "adds item", "tested": true},
    {"id": 102, "feature_id": 13, "name": "orphaned"}
  ]
}`

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "testmap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func importShop(t *testing.T, s *Store) {
	t.Helper()
	f, err := fixture.Parse([]byte(shopFixture), fixture.FormatJSON)
	require.NoError(t, err)
	stats, err := s.Import(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, ImportStats{Features: 3, Tests: 2, Skipped: 2}, stats)
}

func TestOpenMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(Migrations), v)
}

func TestImportAndRead(t *testing.T) {
	s := openStore(t)
	importShop(t, s)
	ctx := context.Background()
	src := s.Source()

	p, err := src.Projects.GetProject(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "Shop", p.Name)

	forest, err := src.Features.TreeByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, forest, 2)
	require.Equal(t, domain.ID("10"), forest[0].ID)
	require.Equal(t, domain.ID("11"), forest[0].Children[0].ID)
	require.Equal(t, domain.ID("10"), forest[0].Children[0].ParentID)

	all, err := src.Tests.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, domain.PriorityHigh, all[0].Priority)
	require.True(t, all[1].Tested)

	// Re-import replaces instead of duplicating.
	importShop(t, s)
	all, err = src.Tests.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestProjectNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	require.True(t, errors.Is(err, source.ErrNotFound))
	require.True(t, errs.Is(err, errs.ErrCodeProjectNotFound))
}

func TestFeatureMutations(t *testing.T) {
	s := openStore(t)
	importShop(t, s)
	ctx := context.Background()
	fr := s.Source().Features

	f, err := fr.Create(ctx, "1", domain.FeatureInput{Name: "Wishlist", ParentID: "12"})
	require.NoError(t, err)
	require.NotEmpty(t, f.ID)

	flat, err := fr.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, flat, 4)
	require.Equal(t, f.ID, flat[3].ID)

	_, err = fr.Create(ctx, "1", domain.FeatureInput{Name: "x", ParentID: "404"})
	require.True(t, errs.Is(err, errs.ErrCodeFeatureNotFound))

	// Moving a feature below its own child is rejected.
	_, err = fr.Update(ctx, "10", domain.FeatureInput{Name: "Cart", ParentID: "11"})
	require.True(t, errs.Is(err, errs.ErrCodeInvalidInput))

	up, err := fr.Update(ctx, "11", domain.FeatureInput{Name: "Vouchers", ParentID: "12"})
	require.NoError(t, err)
	require.Equal(t, "Vouchers", up.Name)

	// Deleting cascades to the subtree and its tests.
	require.NoError(t, fr.Delete(ctx, "12"))
	flat, err = fr.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, flat, 1)
	tests, err := s.Source().Tests.ListByFeature(ctx, "11")
	require.NoError(t, err)
	require.Empty(t, tests)

	require.True(t, errors.Is(fr.Delete(ctx, "12"), source.ErrNotFound))
}

func TestTestMutations(t *testing.T) {
	s := openStore(t)
	importShop(t, s)
	ctx := context.Background()
	tr := s.Source().Tests

	name := "removes item"
	created, err := tr.Create(ctx, domain.TestInput{FeatureID: "10", Name: &name, Priority: "low"})
	require.NoError(t, err)
	require.Equal(t, domain.PriorityLow, created.Priority)

	_, err = tr.Create(ctx, domain.TestInput{FeatureID: "404", Name: &name})
	require.True(t, errs.Is(err, errs.ErrCodeFeatureNotFound))

	toggled, err := tr.Toggle(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, toggled.Tested)

	renamed := "drops item"
	up, err := tr.Update(ctx, created.ID, domain.TestInput{Name: &renamed})
	require.NoError(t, err)
	require.Equal(t, "drops item", up.Name)
	require.True(t, up.Tested)
	require.Equal(t, domain.PriorityLow, up.Priority)

	byFeature, err := tr.ListByFeature(ctx, "10")
	require.NoError(t, err)
	require.Len(t, byFeature, 2)

	require.NoError(t, tr.Delete(ctx, created.ID))
	_, err = tr.Toggle(ctx, created.ID)
	require.True(t, errs.Is(err, errs.ErrCodeTestNotFound))
}

func TestPositions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	err := s.BulkUpsert(ctx, "1", []positions.Override{
		{NodeID: "project-1", NodeType: "rootNode", X: 400, Y: 50},
		{NodeID: "10", NodeType: "featureNode", X: 500, Y: 500, Data: positions.Data{Label: "Cart", FeatureID: "10", TestCount: 1}},
	})
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	require.NoError(t, s.BulkUpsert(ctx, "1", []positions.Override{{NodeID: "10", X: 510, Y: 520}}))

	rows, err := s.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "10", rows[0].NodeID)
	require.Equal(t, 510.0, rows[0].X)
	require.True(t, rows[0].UpdatedAt.After(rows[0].CreatedAt))
	require.Equal(t, "project-1", rows[1].NodeID)
	require.Equal(t, "rootNode", rows[1].NodeType)

	other, err := s.ListByProject(ctx, "2")
	require.NoError(t, err)
	require.Empty(t, other)

	n, err := s.Prune(ctx, "1", []string{"project-1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.ErrorIs(t, s.Delete(ctx, "1", "10"), positions.ErrNotFound)
	require.NoError(t, s.Delete(ctx, "1", "project-1"))

	require.NoError(t, s.BulkUpsert(ctx, "1", []positions.Override{{NodeID: "a"}, {NodeID: "b"}}))
	require.NoError(t, s.DeleteProject(ctx, "1"))
	rows, err = s.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestPositionsValidate(t *testing.T) {
	s := openStore(t)
	err := s.BulkUpsert(context.Background(), "1", []positions.Override{{NodeID: ""}})
	require.True(t, errs.Is(err, errs.ErrCodeInvalidID))
}
