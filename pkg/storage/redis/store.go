// Package redis stores node positions in Redis, one hash per project.
//
// Layout:
//
//	testmap:positions:<projectID>   HASH   nodeID -> JSON override
//
// Hashes make a per-project list a single HGETALL and a project wipe a
// single DEL, which matches how the diagram reads and clears positions.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "testmap:positions:"

// Config configures the connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix overrides DefaultPrefix.
	Prefix string
}

// Store is a positions.Repository backed by Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ positions.Repository = (*Store)(nil)

// NewStore connects to Redis and verifies the connection with PING.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "connect to redis at %s", cfg.Addr)
	}
	return New(rdb, cfg.Prefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) key(projectID domain.ID) string { return s.prefix + projectID.String() }

// ListByProject implements positions.Repository.
func (s *Store) ListByProject(ctx context.Context, projectID domain.ID) ([]positions.Override, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(projectID)).Result()
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "list positions of %s", projectID)
	}
	out := make([]positions.Override, 0, len(fields))
	for nodeID, raw := range fields {
		var o positions.Override
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("storage: decode position %q: %w", nodeID, err)
		}
		o.ProjectID, o.NodeID = projectID, nodeID
		out = append(out, o)
	}
	positions.SortByNode(out)
	return out, nil
}

// BulkUpsert reads the existing rows of the batch to keep their created_at,
// then writes the batch in one MULTI/EXEC.
func (s *Store) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []positions.Override) error {
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	if len(overrides) == 0 {
		return nil
	}

	key := s.key(projectID)
	ids := make([]string, len(overrides))
	for i, o := range overrides {
		ids[i] = o.NodeID
	}
	prev, err := s.rdb.HMGet(ctx, key, ids...).Result()
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "read positions of %s", projectID)
	}

	now := s.now().UTC()
	values := make([]any, 0, 2*len(overrides))
	for i, o := range overrides {
		o.ProjectID = projectID
		o.CreatedAt, o.UpdatedAt = now, now
		if raw, ok := prev[i].(string); ok {
			var old positions.Override
			if json.Unmarshal([]byte(raw), &old) == nil && !old.CreatedAt.IsZero() {
				o.CreatedAt = old.CreatedAt
			}
		}
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("storage: encode position %q: %w", o.NodeID, err)
		}
		values = append(values, o.NodeID, string(data))
	}

	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		return nil
	}); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "save positions of %s", projectID)
	}
	return nil
}

// Delete implements positions.Repository.
func (s *Store) Delete(ctx context.Context, projectID domain.ID, nodeID string) error {
	n, err := s.rdb.HDel(ctx, s.key(projectID), nodeID).Result()
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "delete position %q", nodeID)
	}
	if n == 0 {
		return positions.ErrNotFound
	}
	return nil
}

// DeleteProject implements positions.Repository.
func (s *Store) DeleteProject(ctx context.Context, projectID domain.ID) error {
	if err := s.rdb.Del(ctx, s.key(projectID)).Err(); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "clear positions of %s", projectID)
	}
	return nil
}

// Prune implements positions.Repository.
func (s *Store) Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error) {
	key := s.key(projectID)
	ids, err := s.rdb.HKeys(ctx, key).Result()
	if err != nil {
		return 0, errs.Wrap(errs.ErrCodeStorage, err, "list position ids of %s", projectID)
	}
	set := positions.KeepSet(keep)
	var drop []string
	for _, id := range ids {
		if !set[id] {
			drop = append(drop, id)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	n, err := s.rdb.HDel(ctx, key, drop...).Result()
	if err != nil {
		return 0, errs.Wrap(errs.ErrCodeStorage, err, "prune positions of %s", projectID)
	}
	return int(n), nil
}
