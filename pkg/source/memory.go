package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

// Memory is an in-process store for projects, features and tests. It is
// safe for concurrent use. New entities get random UUID ids.
type Memory struct {
	mu       sync.RWMutex
	projects []domain.Project
	features []domain.Feature
	tests    []domain.Test
	newID    func() domain.ID
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{newID: func() domain.ID { return domain.ID(uuid.NewString()) }}
}

// Source returns the store's repositories.
func (m *Memory) Source() Source {
	return Source{Projects: m, Features: m.Features(), Tests: m.Tests()}
}

// Features returns the store as a FeatureRepository.
func (m *Memory) Features() FeatureRepository { return memFeatures{m} }

// Tests returns the store as a TestRepository.
func (m *Memory) Tests() TestRepository { return memTests{m} }

// Replace swaps the whole content of the store. Nested features are
// flattened; tests are normalized.
func (m *Memory) Replace(projects []domain.Project, features []domain.Feature, tests []domain.Test) {
	flat := FlattenNested(features)
	norm := make([]domain.Test, len(tests))
	for i, t := range tests {
		norm[i] = t.Normalize()
	}
	m.mu.Lock()
	m.projects = append([]domain.Project(nil), projects...)
	m.features = flat
	m.tests = norm
	m.mu.Unlock()
}

// AddProject stores p, replacing a project with the same id.
func (m *Memory) AddProject(p domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == p.ID {
			m.projects[i] = p
			return
		}
	}
	m.projects = append(m.projects, p)
}

// AddFeatures appends features, flattening any nested children.
func (m *Memory) AddFeatures(fs ...domain.Feature) {
	flat := FlattenNested(fs)
	m.mu.Lock()
	m.features = append(m.features, flat...)
	m.mu.Unlock()
}

// AddTests appends tests.
func (m *Memory) AddTests(ts ...domain.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ts {
		m.tests = append(m.tests, t.Normalize())
	}
}

// FlattenNested flattens hand-written nested features, filling project and
// parent ids from the enclosing feature when unset. Unlike domain.Flatten it
// keeps duplicates and silently stops below MaxTreeDepth.
func FlattenNested(fs []domain.Feature) []domain.Feature {
	var out []domain.Feature
	var walk func(fs []domain.Feature, parent domain.Feature, depth int)
	walk = func(fs []domain.Feature, parent domain.Feature, depth int) {
		if depth > domain.MaxTreeDepth {
			return
		}
		for _, f := range fs {
			if !parent.ID.IsZero() {
				if f.ParentID.IsZero() {
					f.ParentID = parent.ID
				}
				if f.ProjectID.IsZero() {
					f.ProjectID = parent.ProjectID
				}
			}
			children := f.Children
			f.Children = nil
			out = append(out, f)
			walk(children, f, depth+1)
		}
	}
	walk(fs, domain.Feature{}, 1)
	return out
}

// GetProject implements ProjectRepository.
func (m *Memory) GetProject(ctx context.Context, id domain.ID) (domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return domain.Project{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
}

// Projects returns every project.
func (m *Memory) Projects() []domain.Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Project(nil), m.projects...)
}

func (m *Memory) featureIndex(id domain.ID) int {
	for i, f := range m.features {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// subtree returns the ids of a feature and every feature below it.
func (m *Memory) subtree(id domain.ID) map[domain.ID]bool {
	out := map[domain.ID]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, f := range m.features {
			if !out[f.ID] && out[f.ParentID] {
				out[f.ID] = true
				changed = true
			}
		}
	}
	return out
}

type memFeatures struct{ m *Memory }

func (r memFeatures) ListByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	forest, err := r.TreeByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return domain.Flatten(forest), nil
}

func (r memFeatures) TreeByProject(ctx context.Context, projectID domain.ID) ([]domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	var own []domain.Feature
	for _, f := range r.m.features {
		if f.ProjectID == projectID {
			own = append(own, f)
		}
	}
	r.m.mu.RUnlock()
	return domain.BuildForest(own), nil
}

func (r memFeatures) Create(ctx context.Context, projectID domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if !in.ParentID.IsZero() {
		i := r.m.featureIndex(in.ParentID)
		if i < 0 || r.m.features[i].ProjectID != projectID {
			return domain.Feature{}, fmt.Errorf("parent feature %s: %w", in.ParentID, ErrNotFound)
		}
	}
	f := domain.Feature{
		ID:          r.m.newID(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		ProjectID:   projectID,
		ParentID:    in.ParentID,
	}
	r.m.features = append(r.m.features, f)
	return f, nil
}

func (r memFeatures) Update(ctx context.Context, id domain.ID, in domain.FeatureInput) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Feature{}, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.m.featureIndex(id)
	if i < 0 {
		return domain.Feature{}, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	if !in.ParentID.IsZero() {
		if r.m.subtree(id)[in.ParentID] {
			return domain.Feature{}, errs.New(errs.ErrCodeInvalidInput, "feature %s cannot be moved below itself", id)
		}
		if r.m.featureIndex(in.ParentID) < 0 {
			return domain.Feature{}, fmt.Errorf("parent feature %s: %w", in.ParentID, ErrNotFound)
		}
	}
	f := &r.m.features[i]
	f.Name = strings.TrimSpace(in.Name)
	f.Description = in.Description
	f.ParentID = in.ParentID
	return *f, nil
}

func (r memFeatures) Delete(ctx context.Context, id domain.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.featureIndex(id) < 0 {
		return fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	gone := r.m.subtree(id)
	features := r.m.features[:0]
	for _, f := range r.m.features {
		if !gone[f.ID] {
			features = append(features, f)
		}
	}
	r.m.features = features
	tests := r.m.tests[:0]
	for _, t := range r.m.tests {
		if !gone[t.FeatureID] {
			tests = append(tests, t)
		}
	}
	r.m.tests = tests
	return nil
}

type memTests struct{ m *Memory }

func (r memTests) ListAll(ctx context.Context) ([]domain.Test, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return append([]domain.Test(nil), r.m.tests...), nil
}

func (r memTests) ListByFeature(ctx context.Context, featureID domain.ID) ([]domain.Test, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []domain.Test
	for _, t := range r.m.tests {
		if t.FeatureID == featureID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r memTests) Create(ctx context.Context, in domain.TestInput) (domain.Test, error) {
	if err := ctx.Err(); err != nil {
		return domain.Test{}, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return domain.Test{}, errs.New(errs.ErrCodeInvalidInput, "test name is required")
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.featureIndex(in.FeatureID) < 0 {
		return domain.Test{}, fmt.Errorf("feature %s: %w", in.FeatureID, ErrNotFound)
	}
	t := in.Apply(domain.Test{ID: r.m.newID()})
	r.m.tests = append(r.m.tests, t)
	return t, nil
}

func (r memTests) Update(ctx context.Context, id domain.ID, in domain.TestInput) (domain.Test, error) {
	if err := ctx.Err(); err != nil {
		return domain.Test{}, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return domain.Test{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	if !in.FeatureID.IsZero() && r.m.featureIndex(in.FeatureID) < 0 {
		return domain.Test{}, fmt.Errorf("feature %s: %w", in.FeatureID, ErrNotFound)
	}
	r.m.tests[i] = in.Apply(r.m.tests[i])
	return r.m.tests[i], nil
}

func (r memTests) Delete(ctx context.Context, id domain.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	r.m.tests = append(r.m.tests[:i], r.m.tests[i+1:]...)
	return nil
}

func (r memTests) Toggle(ctx context.Context, id domain.ID) (domain.Test, error) {
	if err := ctx.Err(); err != nil {
		return domain.Test{}, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return domain.Test{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	r.m.tests[i].Tested = !r.m.tests[i].Tested
	return r.m.tests[i], nil
}

func (r memTests) index(id domain.ID) int {
	for i, t := range r.m.tests {
		if t.ID == id {
			return i
		}
	}
	return -1
}
