package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
)

var _ positions.Repository = (*Store)(nil)

// ListByProject implements positions.Repository.
func (s *Store) ListByProject(ctx context.Context, projectID domain.ID) ([]positions.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT node_id, node_type, position_x, position_y, data, created_at, updated_at
		FROM node_positions WHERE project_id = ? ORDER BY node_id`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: list positions: %w", err)
	}
	defer rows.Close()

	var out []positions.Override
	for rows.Next() {
		o := positions.Override{ProjectID: projectID}
		var data, created, updated string
		if err := rows.Scan(&o.NodeID, &o.NodeType, &o.X, &o.Y, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("storage: scan position row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &o.Data); err != nil {
			return nil, fmt.Errorf("storage: unmarshal position %q data: %w", o.NodeID, err)
		}
		o.CreatedAt, o.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// BulkUpsert writes the batch in a single transaction. Existing rows keep
// their id and created_at.
func (s *Store) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []positions.Override) error {
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	if len(overrides) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx (save positions): %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO node_positions
		(id, project_id, node_id, node_type, position_x, position_y, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, node_id) DO UPDATE SET
			node_type = excluded.node_type,
			position_x = excluded.position_x,
			position_y = excluded.position_y,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("storage: prepare save-position stmt: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.now())
	for _, o := range overrides {
		data, err := json.Marshal(o.Data)
		if err != nil {
			return fmt.Errorf("storage: marshal position %q data: %w", o.NodeID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), projectID.String(), o.NodeID, o.NodeType, o.X, o.Y, string(data), now, now,
		); err != nil {
			return errs.Wrap(errs.ErrCodeStorage, err, "save position %q", o.NodeID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "commit positions")
	}
	return nil
}

// Delete implements positions.Repository.
func (s *Store) Delete(ctx context.Context, projectID domain.ID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM node_positions WHERE project_id = ? AND node_id = ?", projectID.String(), nodeID)
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "delete position %q", nodeID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return positions.ErrNotFound
	}
	return nil
}

// DeleteProject implements positions.Repository.
func (s *Store) DeleteProject(ctx context.Context, projectID domain.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM node_positions WHERE project_id = ?", projectID.String()); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "clear positions of %s", projectID)
	}
	return nil
}

// Prune implements positions.Repository with a single DELETE.
func (s *Store) Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := "DELETE FROM node_positions WHERE project_id = ?"
	args := []any{projectID.String()}
	if len(keep) > 0 {
		q += " AND node_id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for _, k := range keep {
			args = append(args, k)
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errs.Wrap(errs.ErrCodeStorage, err, "prune positions of %s", projectID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
