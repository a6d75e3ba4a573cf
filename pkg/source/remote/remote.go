// Package remote reads and writes projects, features, tests and node
// positions through the test-management REST API.
//
// A single [Client] satisfies the three source repositories and
// [positions.Repository], so a diagram can be driven entirely by a remote
// server:
//
//	c, err := remote.New("http://localhost:8000/api/v1", remote.Options{Token: token})
//	src := c.Source()
//	ctrl := controller.New(src, c, ...)
//
// Numeric ids from the API are normalized to [domain.ID] on decode.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/httputil"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
)

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token. Empty disables the header.
	Token string
	// Attempts and Backoff tune retries of transient failures.
	Attempts int
	Backoff  time.Duration
	// HTTPClient replaces the default client (10s timeout).
	HTTPClient *http.Client
	// UserAgent is sent with every request when set.
	UserAgent string
}

// Client talks to the REST API.
type Client struct {
	http *httputil.Client
}

var _ positions.Repository = (*Client)(nil)

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	var hopts []httputil.ClientOption
	if opts.Token != "" {
		hopts = append(hopts, httputil.WithBearerToken(opts.Token))
	}
	if opts.Attempts > 0 {
		backoff := opts.Backoff
		if backoff <= 0 {
			backoff = time.Second
		}
		hopts = append(hopts, httputil.WithRetry(opts.Attempts, backoff))
	}
	if opts.HTTPClient != nil {
		hopts = append(hopts, httputil.WithHTTPClient(opts.HTTPClient))
	}
	if opts.UserAgent != "" {
		hopts = append(hopts, httputil.WithHeader("User-Agent", opts.UserAgent))
	}
	hc, err := httputil.NewClient(baseURL, hopts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc}, nil
}

// Source returns the repositories backed by this client.
func (c *Client) Source() source.Source {
	return source.Source{Projects: c, Features: features{c}, Tests: tests{c}}
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, id domain.ID) (domain.Project, error) {
	var p domain.Project
	if err := c.http.Get(ctx, "/projects/"+seg(id), &p); err != nil {
		return domain.Project{}, notFound(err, errs.ErrCodeProjectNotFound, "project %s", id)
	}
	return p, nil
}

// =============================================================================
// Features
// =============================================================================

type features struct{ c *Client }

func (r features) flat(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	var out []domain.Feature
	if err := r.c.http.Get(ctx, "/features/project/"+seg(projectID), &out); err != nil {
		return nil, fmt.Errorf("remote: list features: %w", err)
	}
	for i := range out {
		if out[i].ProjectID.IsZero() {
			out[i].ProjectID = projectID
		}
		out[i].Children = nil
	}
	return out, nil
}

func (r features) TreeByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
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

type featureBody struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ProjectID   domain.ID `json:"project_id,omitempty"`
	ParentID    domain.ID `json:"parent_id,omitempty"`
}

func (r features) Create(ctx context.Context, projectID domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	body := featureBody{Name: in.Name, Description: in.Description, ProjectID: projectID, ParentID: in.ParentID}
	var f domain.Feature
	if err := r.c.http.Post(ctx, "/features/", body, &f); err != nil {
		return domain.Feature{}, fmt.Errorf("remote: create feature: %w", err)
	}
	return f, nil
}

func (r features) Update(ctx context.Context, id domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	body := featureBody{Name: in.Name, Description: in.Description, ParentID: in.ParentID}
	var f domain.Feature
	if err := r.c.http.Put(ctx, "/features/"+seg(id), body, &f); err != nil {
		return domain.Feature{}, notFound(err, errs.ErrCodeFeatureNotFound, "feature %s", id)
	}
	return f, nil
}

func (r features) Delete(ctx context.Context, id domain.ID) error {
	if err := r.c.http.Delete(ctx, "/features/"+seg(id)); err != nil {
		return notFound(err, errs.ErrCodeFeatureNotFound, "feature %s", id)
	}
	return nil
}

// =============================================================================
// Tests
// =============================================================================

type tests struct{ c *Client }

func normalizeTests(ts []domain.Test) []domain.Test {
	for i := range ts {
		ts[i] = ts[i].Normalize()
	}
	return ts
}

func (r tests) ListAll(ctx context.Context) ([]domain.Test, error) {
	var out []domain.Test
	if err := r.c.http.Get(ctx, "/tests", &out); err != nil {
		return nil, fmt.Errorf("remote: list tests: %w", err)
	}
	return normalizeTests(out), nil
}

func (r tests) ListByFeature(ctx context.Context, featureID domain.ID) ([]domain.Test, error) {
	var out []domain.Test
	if err := r.c.http.Get(ctx, "/tests/feature/"+seg(featureID), &out); err != nil {
		return nil, fmt.Errorf("remote: list tests of feature %s: %w", featureID, err)
	}
	return normalizeTests(out), nil
}

func (r tests) Create(ctx context.Context, in domain.TestInput) (domain.Test, error) {
	if in.Name == nil {
		return domain.Test{}, errs.New(errs.ErrCodeInvalidInput, "test name is required")
	}
	if err := errs.ValidateName("test", *in.Name); err != nil {
		return domain.Test{}, err
	}
	in.Priority = in.Priority.Normalize()
	var t domain.Test
	if err := r.c.http.Post(ctx, "/tests", in, &t); err != nil {
		return domain.Test{}, fmt.Errorf("remote: create test: %w", err)
	}
	return t.Normalize(), nil
}

func (r tests) Update(ctx context.Context, id domain.ID, in domain.TestInput) (domain.Test, error) {
	var t domain.Test
	if err := r.c.http.Put(ctx, "/tests/"+seg(id), in, &t); err != nil {
		return domain.Test{}, notFound(err, errs.ErrCodeTestNotFound, "test %s", id)
	}
	return t.Normalize(), nil
}

func (r tests) Delete(ctx context.Context, id domain.ID) error {
	if err := r.c.http.Delete(ctx, "/tests/"+seg(id)); err != nil {
		return notFound(err, errs.ErrCodeTestNotFound, "test %s", id)
	}
	return nil
}

func (r tests) Toggle(ctx context.Context, id domain.ID) (domain.Test, error) {
	var t domain.Test
	if err := r.c.http.Patch(ctx, "/tests/"+seg(id)+"/toggle", nil, &t); err != nil {
		return domain.Test{}, notFound(err, errs.ErrCodeTestNotFound, "test %s", id)
	}
	return t.Normalize(), nil
}

// =============================================================================
// Node positions
// =============================================================================

type bulkBody struct {
	ProjectID domain.ID            `json:"project_id"`
	Positions []positions.Override `json:"positions"`
}

// ListByProject returns the stored overrides of a project.
func (c *Client) ListByProject(ctx context.Context, projectID domain.ID) ([]positions.Override, error) {
	var out []positions.Override
	if err := c.http.Get(ctx, "/node-positions/project/"+seg(projectID), &out); err != nil {
		return nil, fmt.Errorf("remote: list positions: %w", err)
	}
	positions.SortByNode(out)
	return out, nil
}

// BulkUpsert saves a batch of overrides in one request.
func (c *Client) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []positions.Override) error {
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	body := bulkBody{ProjectID: projectID, Positions: overrides}
	if err := c.http.Post(ctx, "/node-positions/bulk", body, nil); err != nil {
		return fmt.Errorf("remote: save positions: %w", err)
	}
	return nil
}

// Delete removes a single override.
func (c *Client) Delete(ctx context.Context, projectID domain.ID, nodeID string) error {
	path := "/node-positions/" + url.PathEscape(nodeID) + "/project/" + seg(projectID)
	if err := c.http.Delete(ctx, path); err != nil {
		if errs.IsNotFound(err) {
			return positions.ErrNotFound
		}
		return fmt.Errorf("remote: delete position: %w", err)
	}
	return nil
}

// DeleteProject removes every override of a project.
func (c *Client) DeleteProject(ctx context.Context, projectID domain.ID) error {
	if err := c.http.Delete(ctx, "/node-positions/project/"+seg(projectID)); err != nil {
		return fmt.Errorf("remote: clear positions: %w", err)
	}
	return nil
}

// Prune deletes overrides whose node id is not in keep, one request per row.
func (c *Client) Prune(ctx context.Context, projectID domain.ID, keep []string) (int, error) {
	rows, err := c.ListByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	set := positions.KeepSet(keep)
	n := 0
	for _, o := range rows {
		if set[o.NodeID] {
			continue
		}
		if err := c.Delete(ctx, projectID, o.NodeID); err != nil && !errors.Is(err, positions.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

func seg(id domain.ID) string { return url.PathEscape(id.String()) }

// notFound rewrites a remote 404 into a typed not-found error and wraps
// anything else with context.
func notFound(err error, code errs.Code, format string, args ...any) error {
	if errs.IsNotFound(err) {
		return errs.Wrap(code, source.ErrNotFound, format, args...)
	}
	return fmt.Errorf("remote: "+format+": %w", append(args, err)...)
}
