package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
)

// fakeAPI mimics the REST server: numeric ids, flat feature lists and
// node-position rows keyed by node id.
type fakeAPI struct {
	mu        sync.Mutex
	rows      map[string]map[string]any
	bulkCalls int
	deleted   []string
}

func newFakeAPI(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{rows: map[string]map[string]any{
		"feature-1": {"node_id": "feature-1", "project_id": 1, "position_x": 10, "position_y": 20},
		"feature-9": {"node_id": "feature-9", "project_id": 1, "position_x": 0, "position_y": 0},
	}}

	r := chi.NewRouter()
	r.Get("/api/v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Project not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "name": "Shop"})
	})
	r.Get("/api/v1/features/project/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 2, "name": "Cart", "project_id": 1, "parent_id": 1},
			{"id": 1, "name": "Checkout", "project_id": 1},
			{"id": 3, "name": "Orphan", "project_id": 1, "parent_id": 99},
		})
	})
	r.Post("/api/v1/features/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		body["id"] = 7
		json.NewEncoder(w).Encode(body)
	})
	r.Get("/api/v1/tests", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 10, "feature_id": 1, "name": "pay", "tested": true, "priority": "HIGH"},
			{"id": 11, "feature_id": 2, "name": "add", "tested": false},
		})
	})
	r.Patch("/api/v1/tests/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "10" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 10, "feature_id": 1, "name": "pay", "tested": false, "priority": "high"})
	})
	r.Get("/api/v1/node-positions/project/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		out := make([]map[string]any, 0, len(api.rows))
		for _, row := range api.rows {
			out = append(out, row)
		}
		json.NewEncoder(w).Encode(out)
	})
	r.Post("/api/v1/node-positions/bulk", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ProjectID json.Number      `json:"project_id"`
			Positions []map[string]any `json:"positions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		api.mu.Lock()
		api.bulkCalls++
		for _, p := range body.Positions {
			api.rows[p["node_id"].(string)] = p
		}
		api.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body.Positions)
	})
	r.Delete("/api/v1/node-positions/{node}/project/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		node := chi.URLParam(r, "node")
		if _, ok := api.rows[node]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(api.rows, node)
		api.deleted = append(api.deleted, node)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1", Options{Attempts: 2, Backoff: time.Millisecond, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c, api
}

func TestGetProject(t *testing.T) {
	c, _ := newFakeAPI(t)
	ctx := context.Background()

	p, err := c.GetProject(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, domain.ID("1"), p.ID)
	require.Equal(t, "Shop", p.Name)

	_, err = c.GetProject(ctx, "2")
	require.Error(t, err)
	require.True(t, errors.Is(err, source.ErrNotFound))
	require.True(t, errs.Is(err, errs.ErrCodeProjectNotFound))
}

func TestFeatureTree(t *testing.T) {
	c, _ := newFakeAPI(t)
	src := c.Source()

	forest, err := src.Features.TreeByProject(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, forest, 1)
	require.Equal(t, domain.ID("1"), forest[0].ID)
	require.Len(t, forest[0].Children, 1)
	require.Equal(t, domain.ID("2"), forest[0].Children[0].ID)

	flat, err := src.Features.ListByProject(context.Background(), "1")
	require.NoError(t, err)
	ids := make([]domain.ID, len(flat))
	for i, f := range flat {
		ids[i] = f.ID
	}
	require.Equal(t, []domain.ID{"1", "2"}, ids)
}

func TestCreateFeature(t *testing.T) {
	c, _ := newFakeAPI(t)
	src := c.Source()

	f, err := src.Features.Create(context.Background(), "1", domain.FeatureInput{Name: "Search", ParentID: "1"})
	require.NoError(t, err)
	require.Equal(t, domain.ID("7"), f.ID)
	require.Equal(t, domain.ID("1"), f.ProjectID)
	require.Equal(t, domain.ID("1"), f.ParentID)

	_, err = src.Features.Create(context.Background(), "1", domain.FeatureInput{Name: " "})
	require.True(t, errs.Is(err, errs.ErrCodeInvalidInput))
}

func TestTests(t *testing.T) {
	c, _ := newFakeAPI(t)
	src := c.Source()
	ctx := context.Background()

	all, err := src.Tests.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, domain.PriorityHigh, all[0].Priority)
	require.Equal(t, domain.PriorityNormal, all[1].Priority)
	require.Equal(t, domain.ID("2"), all[1].FeatureID)

	toggled, err := src.Tests.Toggle(ctx, "10")
	require.NoError(t, err)
	require.False(t, toggled.Tested)

	_, err = src.Tests.Toggle(ctx, "404")
	require.True(t, errs.Is(err, errs.ErrCodeTestNotFound))

	_, err = src.Tests.Create(ctx, domain.TestInput{FeatureID: "1"})
	require.True(t, errs.Is(err, errs.ErrCodeInvalidInput))
}

func TestPositions(t *testing.T) {
	c, api := newFakeAPI(t)
	ctx := context.Background()

	rows, err := c.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "feature-1", rows[0].NodeID)
	require.Equal(t, domain.ID("1"), rows[0].ProjectID)
	require.Equal(t, 10.0, rows[0].X)

	err = c.BulkUpsert(ctx, "1", []positions.Override{
		{NodeID: "feature-1", NodeType: "featureNode", X: 500, Y: 500},
		{NodeID: "root", X: 1, Y: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 1, api.bulkCalls)

	rows, err = c.ListByProject(ctx, "1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 500.0, rows[0].X)

	n, err := c.Prune(ctx, "1", []string{"feature-1", "root"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"feature-9"}, api.deleted)

	err = c.Delete(ctx, "1", "feature-9")
	require.ErrorIs(t, err, positions.ErrNotFound)
}

func TestBulkUpsertValidates(t *testing.T) {
	c, api := newFakeAPI(t)
	err := c.BulkUpsert(context.Background(), "1", []positions.Override{{NodeID: ""}})
	require.True(t, errs.Is(err, errs.ErrCodeInvalidID))
	require.Zero(t, api.bulkCalls)
}
