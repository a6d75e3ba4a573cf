package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/source"
	"github.com/matzehuels/testmap/pkg/source/fixture"
)

// ImportStats reports what Import wrote.
type ImportStats struct {
	Features int
	Tests    int
	// Skipped counts features without a reachable parent and tests of
	// features that were not imported.
	Skipped int
}

// Import replaces the fixture's project, together with its features and
// tests, in one transaction. Stored node positions are left alone.
func (s *Store) Import(ctx context.Context, f *fixture.File) (ImportStats, error) {
	var stats ImportStats
	nested := source.FlattenNested(f.Features)
	forest := domain.BuildForest(nested)
	flat := domain.Flatten(forest)
	if flat == nil && len(forest) > 0 {
		return stats, errs.New(errs.ErrCodeInvalidInput, "fixture features repeat an id or nest deeper than %d", domain.MaxTreeDepth)
	}
	stats.Skipped = len(nested) - len(flat)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("storage: begin tx (import): %w", err)
	}
	defer tx.Rollback()

	p := f.Project
	if _, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", p.ID.String()); err != nil {
		return stats, errs.Wrap(errs.ErrCodeStorage, err, "replace project %s", p.ID)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO projects (id, name, description) VALUES (?, ?, ?)",
		p.ID.String(), p.Name, p.Description,
	); err != nil {
		return stats, errs.Wrap(errs.ErrCodeStorage, err, "insert project %s", p.ID)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM features").Scan(&seq); err != nil {
		return stats, fmt.Errorf("storage: feature seq: %w", err)
	}
	imported := make(map[domain.ID]bool, len(flat))
	for _, ft := range flat {
		seq++
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO features (id, project_id, parent_id, name, description, seq) VALUES (?, ?, ?, ?, ?, ?)",
			ft.ID.String(), p.ID.String(), nullID(ft.ParentID.String()), ft.Name, ft.Description, seq,
		); err != nil {
			return stats, errs.Wrap(errs.ErrCodeStorage, err, "insert feature %s", ft.ID)
		}
		imported[ft.ID] = true
		stats.Features++
	}

	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM tests").Scan(&seq); err != nil {
		return stats, fmt.Errorf("storage: test seq: %w", err)
	}
	for _, t := range f.Tests {
		if !imported[t.FeatureID] {
			stats.Skipped++
			continue
		}
		t = t.Normalize()
		if t.ID.IsZero() {
			t.ID = domain.ID(uuid.NewString())
		}
		seq++
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tests (id, feature_id, name, tested, priority, seq) VALUES (?, ?, ?, ?, ?, ?)",
			t.ID.String(), t.FeatureID.String(), t.Name, t.Tested, string(t.Priority), seq,
		); err != nil {
			return stats, errs.Wrap(errs.ErrCodeStorage, err, "insert test %s", t.ID)
		}
		stats.Tests++
	}

	if err := tx.Commit(); err != nil {
		return stats, errs.Wrap(errs.ErrCodeStorage, err, "commit import")
	}
	return stats, nil
}
