package domain

import (
	"encoding/json"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    ID
		wantErr bool
	}{
		{"Nil", nil, "", false},
		{"String", "abc", "abc", false},
		{"TrimmedString", "  7 ", "7", false},
		{"Int", 5, "5", false},
		{"Int64", int64(-12), "-12", false},
		{"Uint", uint(9), "9", false},
		{"IntegralFloat", 5.0, "5", false},
		{"FractionalFloat", 5.5, "", true},
		{"JSONNumber", json.Number("42"), "42", false},
		{"Unsupported", []int{1}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseID(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Equal(5, "5") {
		t.Error("5 and \"5\" should be equal")
	}
	if !Equal(5.0, int64(5)) {
		t.Error("5.0 and int64(5) should be equal")
	}
	if Equal(5, "6") {
		t.Error("5 and \"6\" should differ")
	}
	if Equal(5.5, "5.5") {
		t.Error("fractional ids are invalid and never equal")
	}
}

func TestIDUnmarshal(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var v struct {
			A ID `json:"a"`
			B ID `json:"b"`
			C ID `json:"c"`
		}
		if err := json.Unmarshal([]byte(`{"a": 5, "b": "5", "c": null}`), &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if v.A != "5" || v.B != "5" || v.C != "" {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("TOML", func(t *testing.T) {
		var v struct {
			A ID `toml:"a"`
			B ID `toml:"b"`
		}
		if _, err := toml.Decode("a = 5\nb = \"5\"\n", &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v.A != v.B {
			t.Errorf("A = %q, B = %q; want equal", v.A, v.B)
		}
	})

	t.Run("YAML", func(t *testing.T) {
		var v struct {
			A ID `yaml:"a"`
			B ID `yaml:"b"`
		}
		if err := yaml.Unmarshal([]byte("a: 5\nb: \"5\"\n"), &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if v.A != "5" || v.B != "5" {
			t.Errorf("got %+v", v)
		}
	})
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"high":   PriorityHigh,
		"HIGH ":  PriorityHigh,
		"low":    PriorityLow,
		"normal": PriorityNormal,
		"":       PriorityNormal,
		"urgent": PriorityNormal,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTestInputApply(t *testing.T) {
	name := "renamed"
	tested := true
	got := TestInput{Name: &name, Tested: &tested, Priority: "LOW"}.Apply(Test{
		ID: "t1", FeatureID: "a", Name: "orig", Priority: PriorityHigh,
	})
	want := Test{ID: "t1", FeatureID: "a", Name: "renamed", Tested: true, Priority: PriorityLow}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestCoverageOf(t *testing.T) {
	got := CoverageOf([]Test{{Tested: true}, {}, {Tested: true}})
	want := Coverage{Total: 3, Tested: 2, Untested: 1}
	if got != want {
		t.Errorf("CoverageOf = %+v, want %+v", got, want)
	}
}

func sampleForest() []Feature {
	return []Feature{
		{ID: "a", Name: "A", Children: []Feature{
			{ID: "a1", Name: "A1", ParentID: "a"},
			{ID: "a2", Name: "A2", ParentID: "a", Children: []Feature{
				{ID: "a2x", Name: "A2x", ParentID: "a2"},
			}},
		}},
		{ID: "b", Name: "B"},
	}
}

func ids(fs []Feature) []ID {
	out := make([]ID, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestFlatten(t *testing.T) {
	flat := Flatten(sampleForest())
	want := []ID{"a", "a1", "a2", "a2x", "b"}
	if diff := cmp.Diff(want, ids(flat)); diff != "" {
		t.Errorf("Flatten order mismatch (-want +got):\n%s", diff)
	}
	for _, f := range flat {
		if len(f.Children) != 0 {
			t.Errorf("feature %s still has children", f.ID)
		}
	}
}

func TestFlattenFillsParent(t *testing.T) {
	flat := Flatten([]Feature{{ID: "p", Children: []Feature{{ID: "c"}}}})
	if flat[1].ParentID != "p" {
		t.Errorf("child ParentID = %q, want p", flat[1].ParentID)
	}
}

func TestFlattenMalformed(t *testing.T) {
	t.Run("DuplicateID", func(t *testing.T) {
		forest := []Feature{{ID: "a", Children: []Feature{{ID: "a"}}}}
		if got := Flatten(forest); len(got) != 0 {
			t.Errorf("Flatten = %v, want empty", ids(got))
		}
	})

	t.Run("TooDeep", func(t *testing.T) {
		var root Feature
		cur := &root
		for i := 0; i <= MaxTreeDepth; i++ {
			cur.ID = MustID(i)
			cur.Children = []Feature{{}}
			cur = &cur.Children[0]
		}
		cur.ID = "leaf"
		if got := Flatten([]Feature{root}); len(got) != 0 {
			t.Errorf("Flatten returned %d features, want 0", len(got))
		}
	})
}

func TestBuildForest(t *testing.T) {
	flat := []Feature{
		{ID: "a"},
		{ID: "b"},
		{ID: "a1", ParentID: "a"},
		{ID: "a2", ParentID: "a"},
		{ID: "a2x", ParentID: "a2"},
		{ID: "orphan", ParentID: "missing"},
		{ID: "orphan-child", ParentID: "orphan"},
		{ID: "c1", ParentID: "c2"},
		{ID: "c2", ParentID: "c1"},
	}
	forest := BuildForest(flat)
	if diff := cmp.Diff([]ID{"a", "b"}, ids(forest)); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ID{"a1", "a2"}, ids(forest[0].Children)); diff != "" {
		t.Errorf("children of a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ID{"a", "a1", "a2", "a2x", "b"}, ids(Flatten(forest))); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDescendants(t *testing.T) {
	tests := []struct {
		id   ID
		want []ID
	}{
		{"a", []ID{"a", "a1", "a2", "a2x"}},
		{"a2", []ID{"a2", "a2x"}},
		{"b", []ID{"b"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		got := Descendants(sampleForest(), tt.id)
		if len(got) != len(tt.want) {
			t.Errorf("Descendants(%s) = %v, want %v", tt.id, got, tt.want)
			continue
		}
		for _, id := range tt.want {
			if !got[id] {
				t.Errorf("Descendants(%s) missing %s", tt.id, id)
			}
		}
	}
}

func TestWithout(t *testing.T) {
	forest := sampleForest()
	got := Without(forest, Descendants(forest, "a2"))
	if diff := cmp.Diff([]ID{"a", "a1", "b"}, ids(Flatten(got))); diff != "" {
		t.Errorf("Without mismatch (-want +got):\n%s", diff)
	}
	if n := len(Flatten(forest)); n != 5 {
		t.Errorf("input forest changed, %d features left", n)
	}
	if got := Without(forest, map[ID]bool{"zzz": true}); len(Flatten(got)) != 5 {
		t.Errorf("unknown id removed features: %v", ids(Flatten(got)))
	}
}

func TestTestsByFeature(t *testing.T) {
	got := TestsByFeature([]Test{
		{ID: "1", FeatureID: "a"},
		{ID: "2", FeatureID: "b"},
		{ID: "3", FeatureID: "a"},
	})
	if len(got["a"]) != 2 || got["a"][1].ID != "3" {
		t.Errorf("TestsByFeature[a] = %v", got["a"])
	}
}
