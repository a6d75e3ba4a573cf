// Package source defines the repositories the diagram reads projects,
// features and tests from, plus an in-memory implementation.
//
// Implementations:
//
//   - [Memory]: in-process, used for fixtures and tests
//   - [github.com/matzehuels/testmap/pkg/source/fixture]: loads a Memory
//     from a TOML, YAML or JSON file
//   - [github.com/matzehuels/testmap/pkg/source/remote]: HTTP client for
//     the test-management REST API
//   - [github.com/matzehuels/testmap/pkg/storage/sqlite]: durable local store
package source

import (
	"context"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

// ErrNotFound is returned when a project, feature or test does not exist.
var ErrNotFound = errs.New(errs.ErrCodeNotFound, "not found")

// ProjectRepository looks up projects.
type ProjectRepository interface {
	GetProject(ctx context.Context, id domain.ID) (domain.Project, error)
}

// FeatureRepository reads and mutates features.
type FeatureRepository interface {
	// ListByProject returns the project's features flat, parents before
	// children.
	ListByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error)
	// TreeByProject returns the project's features as a nested forest.
	TreeByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error)
	Create(ctx context.Context, projectID domain.ID, in domain.FeatureInput) (domain.Feature, error)
	Update(ctx context.Context, id domain.ID, in domain.FeatureInput) (domain.Feature, error)
	// Delete removes a feature together with its subtree and their tests.
	Delete(ctx context.Context, id domain.ID) error
}

// TestRepository reads and mutates tests.
type TestRepository interface {
	ListAll(ctx context.Context) ([]domain.Test, error)
	ListByFeature(ctx context.Context, featureID domain.ID) ([]domain.Test, error)
	Create(ctx context.Context, in domain.TestInput) (domain.Test, error)
	Update(ctx context.Context, id domain.ID, in domain.TestInput) (domain.Test, error)
	Delete(ctx context.Context, id domain.ID) error
	// Toggle flips the tested flag.
	Toggle(ctx context.Context, id domain.ID) (domain.Test, error)
}

// Source bundles the three repositories a diagram needs.
type Source struct {
	Projects ProjectRepository
	Features FeatureRepository
	Tests    TestRepository
}
