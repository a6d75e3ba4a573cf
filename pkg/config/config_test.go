package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/testmap/pkg/diagram"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"TESTMAP_STORE", "TESTMAP_DB", "TESTMAP_REDIS_ADDR", "TESTMAP_MONGO_URI", "TESTMAP_API_URL", "TESTMAP_API_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.QuietPeriod() != 2*time.Second || c.CacheTTL() != 5*time.Minute {
		t.Errorf("durations = %v, %v", c.QuietPeriod(), c.CacheTTL())
	}
	if diff := cmp.Diff(diagram.DefaultOptions(), c.Layout); diff != "" {
		t.Errorf("layout (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		file string
		body string
	}{
		{"toml", "config.toml", `
[store]
kind = "redis"
redis_addr = "cache:6379"

[layout]
level_step = 200

[persist]
quiet = "500ms"
`},
		{"yaml", "config.yaml", `
store:
  kind: redis
  redis_addr: cache:6379
layout:
  level_step: 200
persist:
  quiet: 500ms
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			c, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if c.Store.Kind != StoreRedis || c.Store.RedisAddr != "cache:6379" {
				t.Errorf("store = %+v", c.Store)
			}
			if c.Layout.LevelStep != 200 {
				t.Errorf("level_step = %v", c.Layout.LevelStep)
			}
			// Unset layout fields keep their defaults.
			if c.Layout.MinFeatureWidth != diagram.DefaultOptions().MinFeatureWidth {
				t.Errorf("min_feature_width = %v", c.Layout.MinFeatureWidth)
			}
			if c.QuietPeriod() != 500*time.Millisecond {
				t.Errorf("quiet = %v", c.QuietPeriod())
			}
			if err := c.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[store\nkind="), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TESTMAP_STORE", "remote")
	t.Setenv("TESTMAP_API_URL", "https://tests.example.com/api")
	t.Setenv("TESTMAP_API_TOKEN", "secret")
	c, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Kind != StoreRemote || c.Remote.BaseURL != "https://tests.example.com/api" || c.Remote.Token != "secret" {
		t.Errorf("env not applied: %+v %+v", c.Store, c.Remote)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"store kind", func(c *Config) { c.Store.Kind = "postgres" }},
		{"cache kind", func(c *Config) { c.Cache.Kind = "disk" }},
		{"remote without url", func(c *Config) { c.Store.Kind = StoreRemote }},
		{"layout", func(c *Config) { c.Layout.StackGrid = 0 }},
		{"duration", func(c *Config) { c.Persist.Quiet = "soon" }},
		{"negative duration", func(c *Config) { c.Cache.TTL = "-1s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if !errs.Is(err, errs.ErrCodeInvalidInput) {
				t.Errorf("err = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"out.toml", "out.yml"} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.Store.Kind = StoreMongo
			c.Server.BulkBurst = 3
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := c.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(c, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	c := Default()
	c.Remote.Token = "secret"
	c.Store.RedisPassword = "hunter2"

	var buf bytes.Buffer
	if err := c.Redacted().Encode(&buf, FormatYAML); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); strings.Contains(out, "secret") || strings.Contains(out, "hunter2") {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if c.Remote.Token != "secret" {
		t.Error("Redacted modified the original")
	}
}
