package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/storage/sqlite"
)

const testFixture = `[project]
id = 1
name = "Shop"

[[features]]
id = 10
name = "Cart"

[[features]]
id = 11
name = "Coupons"
parent_id = 10

[[tests]]
id = 100
feature_id = 11
name = "applies code"
priority = "high"
`

type testEnv struct {
	dir     string
	config  string
	fixture string
}

// newTestEnv writes a config and a fixture into a temp dir and clears the
// environment overrides.
func newTestEnv(t *testing.T, store string) testEnv {
	t.Helper()
	for _, k := range []string{"TESTMAP_STORE", "TESTMAP_DB", "TESTMAP_REDIS_ADDR", "TESTMAP_MONGO_URI", "TESTMAP_API_URL", "TESTMAP_API_TOKEN"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	env := testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "config.toml"),
		fixture: filepath.Join(dir, "shop.toml"),
	}
	cfg := fmt.Sprintf(`[store]
kind = %q
path = %q

[cache]
kind = "file"
dir = %q

[persist]
quiet = "10ms"
`, store, filepath.Join(dir, "testmap.db"), filepath.Join(dir, "cache"))
	if err := os.WriteFile(env.config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.fixture, []byte(testFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e testEnv) run(args ...string) error {
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetArgs(append([]string{"--config", e.config}, args...))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func overridesAt(pid domain.ID, nodeID string, x, y float64) []positions.Override {
	return []positions.Override{{ProjectID: pid, NodeID: nodeID, X: x, Y: y}}
}

func readDiagram(t *testing.T, path string) diagram.Diagram {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var d diagram.Diagram
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return d
}

func TestLayoutFromFixture(t *testing.T) {
	env := newTestEnv(t, "memory")
	out := filepath.Join(env.dir, "shop.json")

	if err := env.run("layout", "1", "--fixture", env.fixture, "-o", out); err != nil {
		t.Fatalf("layout: %v", err)
	}
	d := readDiagram(t, out)
	for _, id := range []string{diagram.RootID("1"), "10", "11", diagram.GroupID(diagram.KindHighPriorityGroup, "11")} {
		if _, ok := d.Node(id); !ok {
			t.Errorf("diagram lacks node %q", id)
		}
	}
	if len(d.Nodes) != 4 {
		t.Errorf("got %d nodes, want 4", len(d.Nodes))
	}
}

func TestLayoutUnknownProject(t *testing.T) {
	env := newTestEnv(t, "memory")
	err := env.run("layout", "2", "--fixture", env.fixture, "-o", filepath.Join(env.dir, "x.json"))
	if err == nil || !strings.Contains(err.Error(), "project 2") {
		t.Errorf("layout of unknown project error = %v", err)
	}
}

func TestLayoutRejectsBadID(t *testing.T) {
	env := newTestEnv(t, "memory")
	if err := env.run("layout", " "); err == nil {
		t.Error("expected an error for a blank project id")
	}
}

func TestImportThenLayoutWithStoredPositions(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	if err := env.run("import", env.fixture); err != nil {
		t.Fatalf("import: %v", err)
	}

	db, err := sqlite.Open(filepath.Join(env.dir, "testmap.db"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := db.BulkUpsert(ctx, "1", overridesAt("1", "10", 640, 480)); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if err := db.BulkUpsert(ctx, "1", overridesAt("1", "gone", 1, 1)); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	db.Close()

	out := filepath.Join(env.dir, "stored.json")
	if err := env.run("layout", "1", "-o", out); err != nil {
		t.Fatalf("layout: %v", err)
	}
	d := readDiagram(t, out)
	node, ok := d.Node("10")
	if !ok {
		t.Fatal("diagram lacks feature 10")
	}
	if node.Position != (diagram.Position{X: 640, Y: 480}) || !node.Overridden {
		t.Errorf("feature 10 = %+v, want stored position", node)
	}

	if err := env.run("positions", "list", "1"); err != nil {
		t.Fatalf("positions list: %v", err)
	}
	if err := env.run("positions", "sweep", "1"); err != nil {
		t.Fatalf("positions sweep: %v", err)
	}

	db, err = sqlite.Open(filepath.Join(env.dir, "testmap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rows, err := db.ListByProject(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].NodeID != "10" {
		t.Errorf("rows after sweep = %+v, want only node 10", rows)
	}
}

func TestImportRejectsMemoryStore(t *testing.T) {
	env := newTestEnv(t, "memory")
	if err := env.run("import", env.fixture); err == nil {
		t.Error("expected import into the memory store to fail")
	}
}

func TestCacheClear(t *testing.T) {
	env := newTestEnv(t, "memory")
	fc, err := cache.NewFileCache(filepath.Join(env.dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Set(context.Background(), "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := env.run("cache", "clear"); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if _, ok, _ := fc.Get(context.Background(), "k"); ok {
		t.Error("entry survived cache clear")
	}
}

func TestConfigInit(t *testing.T) {
	env := newTestEnv(t, "memory")
	if err := env.run("config", "init"); err == nil {
		t.Error("config init overwrote an existing file without --force")
	}
	if err := env.run("config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
	data, err := os.ReadFile(env.config)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[store]") {
		t.Errorf("written config lacks the store table:\n%s", data)
	}
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	env := newTestEnv(t, "memory")
	if err := env.run("render", "1", "--fixture", env.fixture, "-f", "gif"); err == nil {
		t.Error("expected an error for format gif")
	}
}
