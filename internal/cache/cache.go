// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores normalized source responses keyed by source and
// canonical parameters. Entries expire lazily on read; an expired entry is
// never returned. Four backends share one envelope format: an in-process
// map, SQLite, Redis, and LevelDB.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// Store is the cache contract the source workers and the admin surfaces use.
type Store interface {
	Get(ctx context.Context, source types.SourceID, params types.Params) (Entry, bool)
	Put(ctx context.Context, source types.SourceID, params types.Params, payload types.Payload, ttl time.Duration) error
	Clear(ctx context.Context) (int, error)
	ClearSource(ctx context.Context, source types.SourceID) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Entry is one cached response.
type Entry struct {
	Key      string         `json:"key"`
	Source   types.SourceID `json:"source"`
	Params   types.Params   `json:"params"`
	Payload  types.Payload  `json:"payload"`
	StoredAt time.Time      `json:"stored_at"`
	TTL      time.Duration  `json:"ttl"`
}

// ExpiresAt is StoredAt plus TTL.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether the entry is no longer valid at now. An entry is
// valid while now < StoredAt+TTL.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Stats summarizes a store. Hits and misses count lookups since the store
// was opened; entries and bytes describe what is stored now, including
// expired entries not yet removed.
type Stats struct {
	Backend  types.CacheBackend     `json:"backend" yaml:"backend"`
	Entries  int                    `json:"entries" yaml:"entries"`
	Bytes    int64                  `json:"bytes" yaml:"bytes"`
	Hits     int64                  `json:"hits" yaml:"hits"`
	Misses   int64                  `json:"misses" yaml:"misses"`
	BySource map[types.SourceID]int `json:"by_source" yaml:"by_source"`
}

// Key derives the storage key of a lookup: the hex SHA-256 of the source
// and the canonical parameters. Logically identical parameter sets map to
// the same key.
func Key(source types.SourceID, params types.Params) string {
	sum := sha256.Sum256([]byte(string(source) + "\x00" + params.Key()))
	return hex.EncodeToString(sum[:])
}

// backend is the raw key-value layer under a Cache. Values are encoded
// envelopes; expiresAt lets a backend sweep without decoding and ttl lets
// it set a server-side expiry.
type backend interface {
	name() types.CacheBackend
	get(ctx context.Context, source types.SourceID, key string) ([]byte, bool, error)
	put(ctx context.Context, source types.SourceID, key string, data []byte, expiresAt time.Time, ttl time.Duration) error
	// removeIf deletes key only while its stored value still equals seen,
	// so an entry rewritten since it was read survives.
	removeIf(ctx context.Context, source types.SourceID, key string, seen []byte) error
	// clear removes every entry of source, or every entry when source is empty.
	clear(ctx context.Context, source types.SourceID) (int, error)
	purge(ctx context.Context, now time.Time) (int, error)
	stats(ctx context.Context) (entries int, bytes int64, bySource map[types.SourceID]int, err error)
	close() error
}

// Options configures a Cache. Zero values select defaults.
type Options struct {
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Cache implements Store over one backend. It is safe for concurrent use.
type Cache struct {
	be      backend
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store = (*Cache)(nil)

func newCache(be backend, opts Options) *Cache {
	c := &Cache{
		be:      be,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("cache", string(be.name())))
	return c
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg types.CacheConfig, opts Options) (*Cache, error) {
	switch cfg.Backend {
	case "", types.CacheMemory:
		return NewMemory(opts), nil
	case types.CacheSQLite:
		return OpenSQLite(cfg.Dir, opts)
	case types.CacheLevelDB:
		return OpenLevelDB(cfg.Dir, opts)
	case types.CacheRedis:
		return OpenRedis(ctx, cfg.Redis, opts)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// envelope is the stored form of an Entry.
type envelope struct {
	Source   types.SourceID `json:"source"`
	Params   types.Params   `json:"params"`
	Payload  types.Payload  `json:"payload"`
	StoredAt time.Time      `json:"stored_at"`
	TTL      int64          `json:"ttl_ns"`
}

func encode(e Entry) ([]byte, error) {
	return json.Marshal(envelope{
		Source:   e.Source,
		Params:   e.Params,
		Payload:  e.Payload,
		StoredAt: e.StoredAt,
		TTL:      int64(e.TTL),
	})
}

func decode(key string, data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", types.ErrCacheCorruption, err)
	}
	if env.StoredAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: missing stored_at", types.ErrCacheCorruption)
	}
	return Entry{
		Key:      key,
		Source:   env.Source,
		Params:   env.Params,
		Payload:  env.Payload,
		StoredAt: env.StoredAt,
		TTL:      time.Duration(env.TTL),
	}, nil
}

// Get returns the entry for source and params if one is stored and not
// expired. Expired and undecodable entries are removed, unless a Put
// replaced them in the meantime, and reported as misses. Backend errors are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, source types.SourceID, params types.Params) (Entry, bool) {
	key := Key(source, params)
	log := c.logger.With(zap.String("source", string(source)), zap.String("key", key[:12]))

	data, ok, err := c.be.get(ctx, source, key)
	if err != nil && !errors.Is(err, types.ErrCacheCorruption) {
		log.Warn("cache read failed", zap.Error(err))
		c.miss(source, "error")
		return Entry{}, false
	}
	if err == nil && !ok {
		c.miss(source, "miss")
		return Entry{}, false
	}

	var e Entry
	if err == nil {
		e, err = decode(key, data)
	}
	if err != nil {
		log.Warn("dropping corrupted cache entry", zap.Error(err))
		c.drop(ctx, source, key, data)
		c.miss(source, "corrupt")
		return Entry{}, false
	}

	if e.Expired(c.clock.Now()) {
		log.Debug("cache entry expired", zap.Time("expired_at", e.ExpiresAt()))
		c.drop(ctx, source, key, data)
		c.miss(source, "expired")
		return Entry{}, false
	}

	c.hits.Add(1)
	c.metrics.CacheLookup(source, "hit")
	return e, true
}

// Put stores payload under source and params, replacing any previous
// entry. A non-positive ttl stores nothing.
func (c *Cache) Put(ctx context.Context, source types.SourceID, params types.Params, payload types.Payload, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	e := Entry{
		Key:      Key(source, params),
		Source:   source,
		Params:   params.Canonical(),
		Payload:  payload,
		StoredAt: c.clock.Now(),
		TTL:      ttl,
	}
	data, err := encode(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.be.put(ctx, source, e.Key, data, e.ExpiresAt(), ttl); err != nil {
		return fmt.Errorf("writing cache entry for %s: %w", source, err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.be.clear(ctx, "")
	if err != nil {
		return n, fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.Info("cache cleared", zap.Int("removed", n))
	return n, nil
}

// ClearSource removes every entry of source and returns how many were removed.
func (c *Cache) ClearSource(ctx context.Context, source types.SourceID) (int, error) {
	n, err := c.be.clear(ctx, source)
	if err != nil {
		return n, fmt.Errorf("clearing cache for %s: %w", source, err)
	}
	c.logger.Info("cache cleared", zap.String("source", string(source)), zap.Int("removed", n))
	return n, nil
}

// Purge removes expired entries eagerly and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	n, err := c.be.purge(ctx, c.clock.Now())
	if err != nil {
		return n, fmt.Errorf("purging cache: %w", err)
	}
	return n, nil
}

// StartJanitor purges expired entries every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := c.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				n, err := c.Purge(ctx)
				if err != nil {
					c.logger.Warn("cache sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					c.logger.Debug("cache sweep", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Stats reports the store's size and lookup counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, bytes, bySource, err := c.be.stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return Stats{
		Backend:  c.be.name(),
		Entries:  entries,
		Bytes:    bytes,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		BySource: bySource,
	}, nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.be.close()
}

func (c *Cache) miss(source types.SourceID, result string) {
	c.misses.Add(1)
	c.metrics.CacheLookup(source, result)
}

func (c *Cache) drop(ctx context.Context, source types.SourceID, key string, seen []byte) {
	if err := c.be.removeIf(ctx, source, key, seen); err != nil {
		c.logger.Warn("removing cache entry failed", zap.String("source", string(source)), zap.Error(err))
	}
}
