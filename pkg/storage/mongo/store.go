// Package mongo stores node positions in a MongoDB collection.
//
// Each override is one document in node_positions with a unique index on
// (project_id, node_id). Documents get a UUID _id on first insert.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
)

const (
	DefaultDatabase   = "testmap"
	DefaultCollection = "node_positions"
)

// Config configures the connection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a positions.Repository backed by MongoDB.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

var _ positions.Repository = (*Store)(nil)

type document struct {
	ID                 string `bson:"_id"`
	positions.Override `bson:",inline"`
}

// Open connects, pings the primary and ensures the unique index exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "ping mongodb")
	}

	s := &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "node_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("project_node"),
	}); err != nil {
		client.Disconnect(context.Background())
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "create position index")
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the collection. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.coll.Drop(ctx)
}

// ListByProject implements positions.Repository.
func (s *Store) ListByProject(ctx context.Context, projectID domain.ID) ([]positions.Override, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"project_id": projectID.String()},
		options.Find().SetSort(bson.D{{Key: "node_id", Value: 1}}),
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "list positions of %s", projectID)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("storage: decode positions: %w", err)
	}
	out := make([]positions.Override, len(docs))
	for i, d := range docs {
		out[i] = d.Override
		out[i].CreatedAt = d.CreatedAt.UTC()
		out[i].UpdatedAt = d.UpdatedAt.UTC()
	}
	return out, nil
}

// BulkUpsert writes the batch with one unordered BulkWrite. created_at and
// _id are only set when a document is inserted.
func (s *Store) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []positions.Override) error {
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	if len(overrides) == 0 {
		return nil
	}

	now := s.now().UTC()
	models := make([]mongo.WriteModel, 0, len(overrides))
	for _, o := range overrides {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"project_id": projectID.String(), "node_id": o.NodeID}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"node_type":  o.NodeType,
					"position_x": o.X,
					"position_y": o.Y,
					"data":       o.Data,
					"updated_at": now,
				},
				"$setOnInsert": bson.M{
					"_id":        uuid.NewString(),
					"created_at": now,
				},
			}).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "save positions of %s", projectID)
	}
	return nil
}

// Delete implements positions.Repository.
func (s *Store) Delete(ctx context.Context, projectID domain.ID, nodeID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"project_id": projectID.String(), "node_id": nodeID})
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "delete position %q", nodeID)
	}
	if res.DeletedCount == 0 {
		return positions.ErrNotFound
	}
	return nil
}

// DeleteProject implements positions.Repository.
func (s *Store) DeleteProject(ctx context.Context, projectID domain.ID) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"project_id": projectID.String()}); err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "clear positions of %s", projectID)
	}
	return nil
}

// Prune implements positions.Repository.
func (s *Store) Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error) {
	filter := bson.M{"project_id": projectID.String()}
	if len(keep) > 0 {
		filter["node_id"] = bson.M{"$nin": keep}
	}
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, errs.Wrap(errs.ErrCodeStorage, err, "prune positions of %s", projectID)
	}
	return int(res.DeletedCount), nil
}
