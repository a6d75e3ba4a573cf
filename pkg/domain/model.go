// Package domain holds the test-organization entities (projects, features,
// tests) and the tree helpers that turn a nested feature forest into flat,
// id-keyed collections.
package domain

import (
	"strings"

	errs "github.com/matzehuels/testmap/pkg/errors"
)

// Priority classifies a test. Unknown or empty values normalize to
// PriorityNormal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes a raw priority string.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Normalize returns the canonical form of p.
func (p Priority) Normalize() Priority { return ParsePriority(string(p)) }

// Project is the root of a diagram.
type Project struct {
	ID          ID     `json:"id" toml:"id" yaml:"id"`
	Name        string `json:"name" toml:"name" yaml:"name"`
	Description string `json:"description,omitempty" toml:"description" yaml:"description,omitempty"`
}

// Feature is a named, optionally nested grouping unit under a project.
// ParentID is empty for top-level features.
type Feature struct {
	ID          ID        `json:"id" toml:"id" yaml:"id"`
	Name        string    `json:"name" toml:"name" yaml:"name"`
	Description string    `json:"description,omitempty" toml:"description" yaml:"description,omitempty"`
	ProjectID   ID        `json:"project_id" toml:"project_id" yaml:"project_id"`
	ParentID    ID        `json:"parent_id,omitempty" toml:"parent_id" yaml:"parent_id,omitempty"`
	Children    []Feature `json:"children,omitempty" toml:"children" yaml:"children,omitempty"`
}

// IsRoot reports whether f is a top-level feature.
func (f Feature) IsRoot() bool { return f.ParentID.IsZero() }

// Test is a checkable item attached to exactly one feature.
type Test struct {
	ID        ID       `json:"id" toml:"id" yaml:"id"`
	FeatureID ID       `json:"feature_id" toml:"feature_id" yaml:"feature_id"`
	Name      string   `json:"name" toml:"name" yaml:"name"`
	Tested    bool     `json:"tested" toml:"tested" yaml:"tested"`
	Priority  Priority `json:"priority,omitempty" toml:"priority" yaml:"priority,omitempty"`
}

// Normalize returns a copy of t with a canonical priority.
func (t Test) Normalize() Test {
	t.Priority = t.Priority.Normalize()
	return t
}

// FeatureInput carries the mutable fields of a feature for create and update.
type FeatureInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    ID     `json:"parent_id,omitempty"`
}

// Validate checks the required fields.
func (in FeatureInput) Validate() error {
	return errs.ValidateName("feature", in.Name)
}

// TestInput carries the mutable fields of a test for create and update.
// Nil pointers leave the stored value untouched on update.
type TestInput struct {
	FeatureID ID       `json:"feature_id,omitempty"`
	Name      *string  `json:"name,omitempty"`
	Tested    *bool    `json:"tested,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
}

// Apply merges the input into t and returns the result.
func (in TestInput) Apply(t Test) Test {
	if !in.FeatureID.IsZero() {
		t.FeatureID = in.FeatureID
	}
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Tested != nil {
		t.Tested = *in.Tested
	}
	if in.Priority != "" {
		t.Priority = in.Priority
	}
	return t.Normalize()
}

// Coverage summarizes how many tests of a set have been run.
type Coverage struct {
	Total    int `json:"total"`
	Tested   int `json:"tested"`
	Untested int `json:"untested"`
}

// CoverageOf counts tested and untested tests.
func CoverageOf(tests []Test) Coverage {
	c := Coverage{Total: len(tests)}
	for _, t := range tests {
		if t.Tested {
			c.Tested++
		}
	}
	c.Untested = c.Total - c.Tested
	return c
}
