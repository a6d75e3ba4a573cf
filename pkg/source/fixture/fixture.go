// Package fixture loads a project, its features and its tests from a single
// TOML, YAML or JSON file into a [source.Memory].
//
// A TOML fixture looks like:
//
//	[project]
//	id = 1
//	name = "Shop"
//
//	[[features]]
//	id = 10
//	name = "Cart"
//
//	[[features]]
//	id = 11
//	name = "Coupons"
//	parent_id = 10
//
//	[[tests]]
//	id = 100
//	feature_id = 11
//	name = "applies code"
//	priority = "high"
//
// Features may also nest through "children". Ids may be integers or strings.
package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/source"
)

// Format is a fixture file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks a format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported fixture extension %q (want .toml, .yaml or .json)", filepath.Ext(path))
	}
}

// File is the decoded content of a fixture.
type File struct {
	Project  domain.Project   `toml:"project" yaml:"project" json:"project"`
	Features []domain.Feature `toml:"features" yaml:"features" json:"features"`
	Tests    []domain.Test    `toml:"tests" yaml:"tests" json:"tests"`
}

// Parse decodes a fixture.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	var err error
	switch format {
	case FormatTOML:
		_, err = toml.Decode(string(data), &f)
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s fixture: %w", format, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and decodes the fixture at path.
func Load(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) validate() error {
	if f.Project.ID.IsZero() {
		return fmt.Errorf("project id is required")
	}
	for i := range f.Features {
		if f.Features[i].ProjectID.IsZero() {
			f.Features[i].ProjectID = f.Project.ID
		}
	}
	for _, t := range f.Tests {
		if t.FeatureID.IsZero() {
			return fmt.Errorf("test %s: feature_id is required", t.ID)
		}
	}
	return nil
}

// Fill replaces the content of m with the fixture.
func (f *File) Fill(m *source.Memory) {
	m.Replace([]domain.Project{f.Project}, f.Features, f.Tests)
}

// Memory returns a new store holding the fixture.
func (f *File) Memory() *source.Memory {
	m := source.NewMemory()
	f.Fill(m)
	return m
}
