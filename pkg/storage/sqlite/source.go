package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/source"
)

// ============================= PROJECTS ===================================

// GetProject implements source.ProjectRepository.
func (s *Store) GetProject(ctx context.Context, id domain.ID) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p domain.Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description FROM projects WHERE id = ?", id.String(),
	).Scan(&p.ID, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, errs.Wrap(errs.ErrCodeProjectNotFound, source.ErrNotFound, "project %s", id)
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("storage: get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description FROM projects ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("storage: scan project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================= FEATURES ===================================

type features struct{ s *Store }

const featureCols = "id, project_id, COALESCE(parent_id, ''), name, description"

func scanFeatures(rows *sql.Rows) ([]domain.Feature, error) {
	defer rows.Close()
	var out []domain.Feature
	for rows.Next() {
		var f domain.Feature
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.ParentID, &f.Name, &f.Description); err != nil {
			return nil, fmt.Errorf("storage: scan feature row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r features) flat(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	rows, err := r.s.db.QueryContext(ctx,
		"SELECT "+featureCols+" FROM features WHERE project_id = ? ORDER BY seq", projectID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: list features: %w", err)
	}
	return scanFeatures(rows)
}

func (r features) TreeByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	flat, err := r.flat(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return domain.BuildForest(flat), nil
}

func (r features) ListByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	forest, err := r.TreeByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return domain.Flatten(forest), nil
}

func (r features) get(ctx context.Context, q querier, id domain.ID) (domain.Feature, error) {
	var f domain.Feature
	err := q.QueryRowContext(ctx, "SELECT "+featureCols+" FROM features WHERE id = ?", id.String()).
		Scan(&f.ID, &f.ProjectID, &f.ParentID, &f.Name, &f.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feature{}, errs.Wrap(errs.ErrCodeFeatureNotFound, source.ErrNotFound, "feature %s", id)
	}
	if err != nil {
		return domain.Feature{}, fmt.Errorf("storage: get feature %s: %w", id, err)
	}
	return f, nil
}

func (r features) Create(ctx context.Context, projectID domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !in.ParentID.IsZero() {
		parent, err := r.get(ctx, r.s.db, in.ParentID)
		if err != nil {
			return domain.Feature{}, err
		}
		if parent.ProjectID != projectID {
			return domain.Feature{}, errs.New(errs.ErrCodeInvalidInput,
				"parent feature %s belongs to project %s", in.ParentID, parent.ProjectID)
		}
	}

	f := domain.Feature{
		ID:          domain.ID(uuid.NewString()),
		Name:        in.Name,
		Description: in.Description,
		ProjectID:   projectID,
		ParentID:    in.ParentID,
	}
	_, err := r.s.db.ExecContext(ctx, `INSERT INTO features (id, project_id, parent_id, name, description, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM features))`,
		f.ID.String(), projectID.String(), nullID(f.ParentID.String()), f.Name, f.Description)
	if err != nil {
		return domain.Feature{}, errs.Wrap(errs.ErrCodeStorage, err, "create feature")
	}
	return f, nil
}

func (r features) Update(ctx context.Context, id domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, err := r.get(ctx, r.s.db, id)
	if err != nil {
		return domain.Feature{}, err
	}
	if !in.ParentID.IsZero() {
		flat, err := r.flat(ctx, f.ProjectID)
		if err != nil {
			return domain.Feature{}, err
		}
		if domain.Descendants(domain.BuildForest(flat), id)[in.ParentID] {
			return domain.Feature{}, errs.New(errs.ErrCodeInvalidInput, "feature %s cannot be moved below itself", id)
		}
		if _, err := r.get(ctx, r.s.db, in.ParentID); err != nil {
			return domain.Feature{}, err
		}
	}

	f.Name, f.Description, f.ParentID = in.Name, in.Description, in.ParentID
	_, err = r.s.db.ExecContext(ctx,
		"UPDATE features SET name = ?, description = ?, parent_id = ? WHERE id = ?",
		f.Name, f.Description, nullID(f.ParentID.String()), id.String())
	if err != nil {
		return domain.Feature{}, errs.Wrap(errs.ErrCodeStorage, err, "update feature %s", id)
	}
	return f, nil
}

func (r features) Delete(ctx context.Context, id domain.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, err := r.s.db.ExecContext(ctx, "DELETE FROM features WHERE id = ?", id.String())
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "delete feature %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap(errs.ErrCodeFeatureNotFound, source.ErrNotFound, "feature %s", id)
	}
	return nil
}

// =============================== TESTS ====================================

type tests struct{ s *Store }

const testCols = "id, feature_id, name, tested, priority"

func scanTest(sc interface{ Scan(...any) error }) (domain.Test, error) {
	var t domain.Test
	var priority string
	if err := sc.Scan(&t.ID, &t.FeatureID, &t.Name, &t.Tested, &priority); err != nil {
		return domain.Test{}, err
	}
	t.Priority = domain.ParsePriority(priority)
	return t, nil
}

func (r tests) list(ctx context.Context, where string, args ...any) ([]domain.Test, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rows, err := r.s.db.QueryContext(ctx, "SELECT "+testCols+" FROM tests "+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list tests: %w", err)
	}
	defer rows.Close()
	var out []domain.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan test row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r tests) ListAll(ctx context.Context) ([]domain.Test, error) {
	return r.list(ctx, "")
}

func (r tests) ListByFeature(ctx context.Context, featureID domain.ID) ([]domain.Test, error) {
	return r.list(ctx, "WHERE feature_id = ?", featureID.String())
}

func (r tests) get(ctx context.Context, id domain.ID) (domain.Test, error) {
	t, err := scanTest(r.s.db.QueryRowContext(ctx, "SELECT "+testCols+" FROM tests WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Test{}, errs.Wrap(errs.ErrCodeTestNotFound, source.ErrNotFound, "test %s", id)
	}
	if err != nil {
		return domain.Test{}, fmt.Errorf("storage: get test %s: %w", id, err)
	}
	return t, nil
}

func (r tests) Create(ctx context.Context, in domain.TestInput) (domain.Test, error) {
	if in.Name == nil {
		return domain.Test{}, errs.New(errs.ErrCodeInvalidInput, "test name is required")
	}
	if err := errs.ValidateName("test", *in.Name); err != nil {
		return domain.Test{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, err := (features{r.s}).get(ctx, r.s.db, in.FeatureID); err != nil {
		return domain.Test{}, err
	}

	t := in.Apply(domain.Test{ID: domain.ID(uuid.NewString())})
	_, err := r.s.db.ExecContext(ctx, `INSERT INTO tests (id, feature_id, name, tested, priority, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tests))`,
		t.ID.String(), t.FeatureID.String(), t.Name, t.Tested, string(t.Priority))
	if err != nil {
		return domain.Test{}, errs.Wrap(errs.ErrCodeStorage, err, "create test")
	}
	return t, nil
}

func (r tests) Update(ctx context.Context, id domain.ID, in domain.TestInput) (domain.Test, error) {
	if in.Name != nil {
		if err := errs.ValidateName("test", *in.Name); err != nil {
			return domain.Test{}, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, err := r.get(ctx, id)
	if err != nil {
		return domain.Test{}, err
	}
	if !in.FeatureID.IsZero() && in.FeatureID != prev.FeatureID {
		if _, err := (features{r.s}).get(ctx, r.s.db, in.FeatureID); err != nil {
			return domain.Test{}, err
		}
	}
	t := in.Apply(prev)
	return t, r.write(ctx, t)
}

func (r tests) write(ctx context.Context, t domain.Test) error {
	_, err := r.s.db.ExecContext(ctx,
		"UPDATE tests SET feature_id = ?, name = ?, tested = ?, priority = ? WHERE id = ?",
		t.FeatureID.String(), t.Name, t.Tested, string(t.Priority), t.ID.String())
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "update test %s", t.ID)
	}
	return nil
}

func (r tests) Delete(ctx context.Context, id domain.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, err := r.s.db.ExecContext(ctx, "DELETE FROM tests WHERE id = ?", id.String())
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "delete test %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap(errs.ErrCodeTestNotFound, source.ErrNotFound, "test %s", id)
	}
	return nil
}

func (r tests) Toggle(ctx context.Context, id domain.ID) (domain.Test, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, err := r.get(ctx, id)
	if err != nil {
		return domain.Test{}, err
	}
	t.Tested = !t.Tested
	return t, r.write(ctx, t)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
