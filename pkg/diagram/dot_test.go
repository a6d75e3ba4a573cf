package diagram

import (
	"context"
	"strings"
	"testing"

	"github.com/matzehuels/testmap/pkg/domain"
)

func sampleDiagram() Diagram {
	return Layout(Input{
		Project: domain.Project{ID: "1", Name: "Shop"},
		Forest:  []domain.Feature{{ID: "a", Name: "Cart"}},
		Tests: []domain.Test{
			{ID: "t1", FeatureID: "a", Tested: true},
			{ID: "t2", FeatureID: "a"},
		},
	}, nil, DefaultOptions())
}

func TestToDOT_Basic(t *testing.T) {
	dot := ToDOT(sampleDiagram(), DOTOptions{})

	for _, want := range []string{
		"digraph G",
		"layout=neato",
		`"project-1" [label="Shop", pos="400,-50!"`,
		`"a" [label="Cart", pos="400,-150!"`,
		`"tests-a" [label="Tests (2)"`,
		`"project-1" -> "a" [id="edge-project-1-a"`,
		`"a" -> "tests-a"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() output missing %q\n%s", want, dot)
		}
	}
}

func TestToDOT_Detailed(t *testing.T) {
	dot := ToDOT(sampleDiagram(), DOTOptions{Detailed: true})
	if !strings.Contains(dot, `tested: 1/2`) {
		t.Errorf("ToDOT() detailed output missing coverage\n%s", dot)
	}
}

func TestToDOT_Scale(t *testing.T) {
	dot := ToDOT(sampleDiagram(), DOTOptions{Scale: 0.5})
	if !strings.Contains(dot, `pos="200,-25!"`) {
		t.Errorf("ToDOT() did not scale root position\n%s", dot)
	}
}

func TestToDOT_StackEdgeDashed(t *testing.T) {
	d := Diagram{
		Nodes: []Node{{ID: "x", Kind: KindTestGroup}, {ID: "y", Kind: KindTestGroup}},
		Edges: Synthesize(nil, []Chain{{"x", "y"}}),
	}
	dot := ToDOT(d, DOTOptions{})
	if !strings.Contains(dot, "style=dashed") {
		t.Errorf("ToDOT() stack edge missing dashed style\n%s", dot)
	}
}

func TestFmtLabel(t *testing.T) {
	tests := []struct {
		name     string
		node     Node
		detailed bool
		want     string
	}{
		{"FallsBackToID", Node{ID: "n1"}, false, "n1"},
		{"Feature", Node{ID: "a", Kind: KindFeature, Data: NodeData{Label: "Cart"}}, false, "Cart"},
		{"Group", Node{ID: "tests-a", Kind: KindTestGroup, Data: NodeData{Label: "Tests", Tests: make([]domain.Test, 3)}}, false, "Tests (3)"},
		{"Detailed", Node{ID: "a", Data: NodeData{Label: "Cart", Coverage: domain.Coverage{Total: 4, Tested: 1}}}, true, "Cart\ntested: 1/4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fmtLabel(tt.node, tt.detailed); got != tt.want {
				t.Errorf("fmtLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeViewBox(t *testing.T) {
	svg := []byte(`<svg width="10pt" height="20pt" viewBox="0.00 0.00 10.00 20.00" xmlns="http://www.w3.org/2000/svg"><g/></svg>`)
	got := string(normalizeViewBox(svg))
	if !strings.Contains(got, `viewBox="0 0 10.00 20.00" width="10" height="20"`) {
		t.Errorf("normalizeViewBox() = %s", got)
	}
}

func TestRenderSVG(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping graphviz render in short mode")
	}
	svg, err := RenderSVG(context.Background(), ToDOT(sampleDiagram(), DOTOptions{}))
	if err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	if !strings.Contains(string(svg), "<svg") {
		t.Error("RenderSVG() output is not SVG")
	}
}
