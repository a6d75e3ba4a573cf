package positions

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matzehuels/testmap/pkg/domain"
)

// Repository is durable storage for overrides, one row per (project, node).
type Repository interface {
	// ListByProject returns every override of a project sorted by node id.
	ListByProject(ctx context.Context, projectID domain.ID) ([]Override, error)
	// BulkUpsert inserts or replaces the given overrides. Rows of the
	// project that are not in the batch are left untouched.
	BulkUpsert(ctx context.Context, projectID domain.ID, overrides []Override) error
	// Delete removes one override, returning ErrNotFound if it is absent.
	Delete(ctx context.Context, projectID domain.ID, nodeID string) error
	// DeleteProject removes every override of a project.
	DeleteProject(ctx context.Context, projectID domain.ID) error
	// Prune removes every override of a project whose node id is not in
	// keep and reports how many rows were removed.
	Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error)
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[domain.ID]map[string]Override
	now  func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[domain.ID]map[string]Override),
		now:  time.Now,
	}
}

func (r *MemoryRepository) ListByProject(ctx context.Context, projectID domain.ID) ([]Override, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]Override, 0, len(r.rows[projectID]))
	for _, o := range r.rows[projectID] {
		out = append(out, o)
	}
	r.mu.Unlock()
	SortByNode(out)
	return out, nil
}

func (r *MemoryRepository) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []Override) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	rows := r.rows[projectID]
	if rows == nil {
		rows = make(map[string]Override, len(overrides))
		r.rows[projectID] = rows
	}
	for _, o := range overrides {
		o.ProjectID = projectID
		o.UpdatedAt = now
		if prev, ok := rows[o.NodeID]; ok {
			o.CreatedAt = prev.CreatedAt
		} else {
			o.CreatedAt = now
		}
		rows[o.NodeID] = o
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, projectID domain.ID, nodeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[projectID][nodeID]; !ok {
		return ErrNotFound
	}
	delete(r.rows[projectID], nodeID)
	return nil
}

func (r *MemoryRepository) DeleteProject(ctx context.Context, projectID domain.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.rows, projectID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	set := KeepSet(keep)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id := range r.rows[projectID] {
		if !set[id] {
			delete(r.rows[projectID], id)
			n++
		}
	}
	return n, nil
}

// SortByNode sorts overrides by node id in place.
func SortByNode(overrides []Override) {
	slices.SortFunc(overrides, func(a, b Override) int { return strings.Compare(a.NodeID, b.NodeID) })
}

// KeepSet converts a keep list into a lookup set.
func KeepSet(keep []string) map[string]bool {
	set := make(map[string]bool, len(keep))
	for _, id := range keep {
		set[id] = true
	}
	return set
}
