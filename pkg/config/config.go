// Package config loads testmap settings from a TOML or YAML file.
//
// The format follows the file extension (.toml, .yaml, .yml). Values not
// present in the file keep their defaults, and a handful of environment
// variables override the file so secrets need not be written to disk.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/testmap/pkg/diagram"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
	StoreRemote = "remote"
)

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheFile   = "file"
)

var (
	storeKinds = []string{StoreMemory, StoreSQLite, StoreRedis, StoreMongo, StoreRemote}
	cacheKinds = []string{CacheNone, CacheMemory, CacheFile}
)

// Config is the full configuration.
type Config struct {
	Store   StoreConfig     `toml:"store" yaml:"store"`
	Layout  diagram.Options `toml:"layout" yaml:"layout"`
	Persist PersistConfig   `toml:"persist" yaml:"persist"`
	Cache   CacheConfig     `toml:"cache" yaml:"cache"`
	Server  ServerConfig    `toml:"server" yaml:"server"`
	Remote  RemoteConfig    `toml:"remote" yaml:"remote"`
}

// StoreConfig selects where projects and node positions live. Redis and
// mongo hold positions only; projects then come from the sqlite file.
type StoreConfig struct {
	Kind          string `toml:"kind" yaml:"kind"`
	Path          string `toml:"path" yaml:"path"`
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `toml:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db"`
	MongoURI      string `toml:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database" yaml:"mongo_database"`
}

// PersistConfig tunes the debounced position writer.
type PersistConfig struct {
	Quiet       string `toml:"quiet" yaml:"quiet"`
	SavedWindow string `toml:"saved_window" yaml:"saved_window"`
}

// CacheConfig configures lookup caching.
type CacheConfig struct {
	Kind string `toml:"kind" yaml:"kind"`
	Dir  string `toml:"dir" yaml:"dir"`
	TTL  string `toml:"ttl" yaml:"ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
	// BulkRate limits bulk position saves per second; BulkBurst is the
	// bucket size.
	BulkRate        float64 `toml:"bulk_rate" yaml:"bulk_rate"`
	BulkBurst       int     `toml:"bulk_burst" yaml:"bulk_burst"`
	ShutdownTimeout string  `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RemoteConfig points at a test-management REST API.
type RemoteConfig struct {
	BaseURL  string `toml:"base_url" yaml:"base_url"`
	Token    string `toml:"token" yaml:"token,omitempty"`
	Attempts int    `toml:"attempts" yaml:"attempts"`
	Backoff  string `toml:"backoff" yaml:"backoff"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{Layout: diagram.DefaultOptions()}
	c.SetDefaults()
	return c
}

// SetDefaults fills every unset value.
func (c *Config) SetDefaults() {
	if c.Store.Kind == "" {
		c.Store.Kind = StoreSQLite
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(dataDir(), "testmap.db")
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Store.MongoURI == "" {
		c.Store.MongoURI = "mongodb://localhost:27017"
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = "testmap"
	}
	if c.Layout == (diagram.Options{}) {
		c.Layout = diagram.DefaultOptions()
	}
	if c.Persist.Quiet == "" {
		c.Persist.Quiet = "2s"
	}
	if c.Persist.SavedWindow == "" {
		c.Persist.SavedWindow = "2s"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = CacheMemory
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(cacheDir(), "testmap")
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "5m"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BulkRate <= 0 {
		c.Server.BulkRate = 5
	}
	if c.Server.BulkBurst <= 0 {
		c.Server.BulkBurst = 10
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Remote.Attempts <= 0 {
		c.Remote.Attempts = 3
	}
	if c.Remote.Backoff == "" {
		c.Remote.Backoff = "1s"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !slices.Contains(storeKinds, c.Store.Kind) {
		return errs.New(errs.ErrCodeInvalidInput, "store.kind %q is not one of %s", c.Store.Kind, strings.Join(storeKinds, ", "))
	}
	if !slices.Contains(cacheKinds, c.Cache.Kind) {
		return errs.New(errs.ErrCodeInvalidInput, "cache.kind %q is not one of %s", c.Cache.Kind, strings.Join(cacheKinds, ", "))
	}
	if c.Store.Kind == StoreRemote {
		if err := errs.ValidateURL(c.Remote.BaseURL); err != nil {
			return errs.Wrap(errs.ErrCodeInvalidInput, err, "remote.base_url")
		}
	}
	if err := c.Layout.Validate(); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidInput, err, "layout")
	}
	for name, v := range map[string]string{
		"persist.quiet":           c.Persist.Quiet,
		"persist.saved_window":    c.Persist.SavedWindow,
		"cache.ttl":               c.Cache.TTL,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"remote.backoff":          c.Remote.Backoff,
	} {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return errs.New(errs.ErrCodeInvalidInput, "%s: invalid duration %q", name, v)
		}
	}
	return nil
}

// Duration helpers. Invalid values fall back to the defaults; Validate
// reports them.

func (c *Config) QuietPeriod() time.Duration { return duration(c.Persist.Quiet, 2*time.Second) }
func (c *Config) SavedWindow() time.Duration { return duration(c.Persist.SavedWindow, 2*time.Second) }
func (c *Config) CacheTTL() time.Duration { return duration(c.Cache.TTL, 5*time.Minute) }
func (c *Config) RemoteBackoff() time.Duration { return duration(c.Remote.Backoff, time.Second) }
func (c *Config) ShutdownTimeout() time.Duration {
	return duration(c.Server.ShutdownTimeout, 10*time.Second)
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// =============================================================================
// Loading
// =============================================================================

// DefaultPath returns $XDG_CONFIG_HOME/testmap/config.toml or the
// platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "testmap", "config.toml")
}

// Load reads path on top of the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := Decode(data, FormatOf(path), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.SetDefaults()
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension. Anything other than
// .yaml or .yml is TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Decode parses data into cfg.
func Decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	case FormatTOML:
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return errs.New(errs.ErrCodeUnsupported, "config format %q", format)
	}
}

// Encode writes cfg in the given format.
func (c *Config) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(c); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return nil
	default:
		return errs.New(errs.ErrCodeUnsupported, "config format %q", format)
	}
}

// Save writes cfg to path in the format matching its extension.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf, FormatOf(path)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Store.RedisPassword != "" {
		out.Store.RedisPassword = "********"
	}
	if out.Remote.Token != "" {
		out.Remote.Token = "********"
	}
	return &out
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TESTMAP_STORE"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("TESTMAP_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TESTMAP_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("TESTMAP_MONGO_URI"); v != "" {
		c.Store.MongoURI = v
	}
	if v := os.Getenv("TESTMAP_API_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("TESTMAP_API_TOKEN"); v != "" {
		c.Remote.Token = v
	}
}

func dataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "testmap")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "testmap")
	}
	return "."
}

func cacheDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return d
	}
	return os.TempDir()
}
