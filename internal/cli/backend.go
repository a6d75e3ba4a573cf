package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/matzehuels/testmap/pkg/buildinfo"
	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/config"
	"github.com/matzehuels/testmap/pkg/positions"
	"github.com/matzehuels/testmap/pkg/source"
	"github.com/matzehuels/testmap/pkg/source/fixture"
	"github.com/matzehuels/testmap/pkg/source/remote"
	"github.com/matzehuels/testmap/pkg/storage/mongo"
	"github.com/matzehuels/testmap/pkg/storage/redis"
	"github.com/matzehuels/testmap/pkg/storage/sqlite"
)

// backend is everything a command reads from and writes to, opened from
// the config.
type backend struct {
	src   source.Source
	repo  positions.Repository
	cache cache.Cache
	keyer cache.Keyer
	// mem is set when projects come from a fixture file, so watchers can
	// refill it in place.
	mem *source.Memory

	closers []func() error
}

// Close releases every opened store in reverse order.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackend opens the configured stores. When fixturePath is set the
// projects, features and tests come from that file and only positions go
// to the configured store.
func (c *CLI) openBackend(ctx context.Context, cfg *config.Config, fixturePath string) (*backend, error) {
	b := &backend{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	var sqliteStore *sqlite.Store
	openSQLite := func() (*sqlite.Store, error) {
		if sqliteStore != nil {
			return sqliteStore, nil
		}
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		sqliteStore = s
		return s, nil
	}

	switch cfg.Store.Kind {
	case config.StoreMemory:
		b.repo = positions.NewMemoryRepository()
		b.mem = source.NewMemory()
		b.src = b.mem.Source()

	case config.StoreSQLite:
		s, err := openSQLite()
		if err != nil {
			return nil, err
		}
		b.repo, b.src = s, s.Source()

	case config.StoreRedis:
		rs, err := redis.NewStore(ctx, redis.Config{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rs.Close)
		b.repo = rs

	case config.StoreMongo:
		ms, err := mongo.Open(ctx, mongo.Config{URI: cfg.Store.MongoURI, Database: cfg.Store.MongoDatabase})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { return ms.Close(context.Background()) })
		b.repo = ms

	case config.StoreRemote:
		rc, err := remote.New(cfg.Remote.BaseURL, remote.Options{
			Token:     cfg.Remote.Token,
			Attempts:  cfg.Remote.Attempts,
			Backoff:   cfg.RemoteBackoff(),
			UserAgent: buildinfo.UserAgent(),
		})
		if err != nil {
			return nil, err
		}
		b.repo, b.src = rc, rc.Source()

	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}

	switch {
	case fixturePath != "":
		f, err := fixture.Load(fixturePath)
		if err != nil {
			return nil, err
		}
		b.mem = f.Memory()
		b.src = b.mem.Source()
	case b.src.Projects == nil:
		// Redis and mongo hold positions only.
		s, err := openSQLite()
		if err != nil {
			return nil, fmt.Errorf("open project database: %w", err)
		}
		b.src = s.Source()
	}

	cc, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	b.cache = cc
	b.closers = append(b.closers, cc.Close)
	if nc, ok := cc.(*cache.NullCache); ok {
		b.closers = append(b.closers, func() error {
			misses, _ := nc.Stats()
			c.Logger.Debug("caching disabled", "lookups", misses)
			return nil
		})
	}
	b.keyer = cache.NewScopedKeyer(cache.NewDefaultKeyer(), cfg.Store.Kind+":")
	if fixturePath != "" {
		b.keyer = cache.NewScopedKeyer(cache.NewDefaultKeyer(), "fixture:"+cache.Hash([]byte(fixturePath))[:12]+":")
	}

	c.Logger.Debug("opened backend", "store", cfg.Store.Kind, "fixture", fixturePath, "cache", cfg.Cache.Kind)
	ok = true
	return b, nil
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Kind {
	case config.CacheNone:
		return cache.NewNullCache(), nil
	case config.CacheFile:
		return cache.NewFileCache(cfg.Cache.Dir)
	default:
		return cache.NewMemoryCache(), nil
	}
}
