package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID is the canonical identity of projects, features and tests.
//
// Upstream services have historically mixed numeric and string ids for the
// same entity. Every id is therefore normalized to a single base-10 string
// representation at the boundary, so 5, 5.0 and "5" all become ID("5") and
// comparisons inside the layout never need a second code path.
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

// ParseID normalizes an arbitrary id value into an ID.
//
// Supported inputs are strings, signed and unsigned integers, floats with no
// fractional part, json.Number and fmt.Stringer. Unsupported inputs return an
// error; nil returns the zero ID.
func ParseID(v any) (ID, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case ID:
		return ID(strings.TrimSpace(string(x))), nil
	case string:
		return ID(strings.TrimSpace(x)), nil
	case int:
		return ID(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return ID(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return ID(strconv.FormatInt(x, 10)), nil
	case uint:
		return ID(strconv.FormatUint(uint64(x), 10)), nil
	case uint32:
		return ID(strconv.FormatUint(uint64(x), 10)), nil
	case uint64:
		return ID(strconv.FormatUint(x, 10)), nil
	case float32:
		return floatID(float64(x))
	case float64:
		return floatID(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return ID(strconv.FormatInt(i, 10)), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", fmt.Errorf("invalid numeric id %q: %w", x.String(), err)
		}
		return floatID(f)
	case fmt.Stringer:
		return ID(strings.TrimSpace(x.String())), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// MustID is ParseID for values known to be valid, such as literals in tests
// and fixtures built in code. It panics on unsupported input.
func MustID(v any) ID {
	id, err := ParseID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func floatID(f float64) (ID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", fmt.Errorf("id %v is not an integer", f)
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// Equal reports whether two raw id values denote the same entity.
func Equal(a, b any) bool {
	ia, err := ParseID(a)
	if err != nil {
		return false
	}
	ib, err := ParseID(b)
	if err != nil {
		return false
	}
	return ia == ib
}

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler so fixture files may use integer
// or string ids.
func (id *ID) UnmarshalTOML(v any) error {
	parsed, err := ParseID(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// UnmarshalYAML accepts scalar ids of any kind.
func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*id = ""
		return nil
	}
	parsed, err := ParseID(node.Value)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
