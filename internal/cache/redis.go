// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// Redis layout under the configured prefix:
//
//	<prefix>entry:<source>:<key>  envelope, with a server-side expiry
//	<prefix>source:<source>       set of entry keys of one source
//	<prefix>sources               set of sources with entries
type redisBackend struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the server in cfg and verifies it answers.
func OpenRedis(ctx context.Context, cfg types.RedisConfig, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix, opts), nil
}

// NewRedis wraps an existing client. The cache owns the client and closes
// it on Close.
func NewRedis(client *redis.Client, prefix string, opts Options) *Cache {
	return newCache(&redisBackend{client: client, prefix: prefix}, opts)
}

func (r *redisBackend) entryKey(source types.SourceID, key string) string {
	return r.prefix + "entry:" + string(source) + ":" + key
}

func (r *redisBackend) sourceSet(source types.SourceID) string {
	return r.prefix + "source:" + string(source)
}

func (r *redisBackend) sourcesSet() string {
	return r.prefix + "sources"
}

func (r *redisBackend) name() types.CacheBackend { return types.CacheRedis }

func (r *redisBackend) get(ctx context.Context, source types.SourceID, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(source, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisBackend) put(ctx context.Context, source types.SourceID, key string, data []byte, _ time.Time, ttl time.Duration) error {
	k := r.entryKey(source, key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, data, ttl)
		pipe.SAdd(ctx, r.sourceSet(source), k)
		pipe.SAdd(ctx, r.sourcesSet(), string(source))
		return nil
	})
	return err
}

func (r *redisBackend) removeIf(ctx context.Context, source types.SourceID, key string, seen []byte) error {
	k := r.entryKey(source, key)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, seen) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			pipe.SRem(ctx, r.sourceSet(source), k)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		// Rewritten between the read and the delete.
		return nil
	}
	return err
}

func (r *redisBackend) sources(ctx context.Context) ([]types.SourceID, error) {
	names, err := r.client.SMembers(ctx, r.sourcesSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	out := make([]types.SourceID, len(names))
	for i, n := range names {
		out[i] = types.SourceID(n)
	}
	return out, nil
}

func (r *redisBackend) clear(ctx context.Context, source types.SourceID) (int, error) {
	sources := []types.SourceID{source}
	if source == "" {
		var err error
		if sources, err = r.sources(ctx); err != nil {
			return 0, err
		}
	}

	removed := 0
	for _, s := range sources {
		keys, err := r.client.SMembers(ctx, r.sourceSet(s)).Result()
		if err != nil {
			return removed, fmt.Errorf("listing %s entries: %w", s, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("deleting %s entries: %w", s, err)
			}
			removed += int(n)
		}
		if err := r.client.Del(ctx, r.sourceSet(s)).Err(); err != nil {
			return removed, err
		}
		if err := r.client.SRem(ctx, r.sourcesSet(), string(s)).Err(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// purge drops set members whose entries the server already expired.
func (r *redisBackend) purge(ctx context.Context, _ time.Time) (int, error) {
	sources, err := r.sources(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, s := range sources {
		keys, err := r.client.SMembers(ctx, r.sourceSet(s)).Result()
		if err != nil {
			return pruned, fmt.Errorf("listing %s entries: %w", s, err)
		}
		for _, k := range keys {
			n, err := r.client.Exists(ctx, k).Result()
			if err != nil {
				return pruned, err
			}
			if n == 0 {
				r.client.SRem(ctx, r.sourceSet(s), k)
				pruned++
			}
		}
	}
	return pruned, nil
}

func (r *redisBackend) stats(ctx context.Context) (int, int64, map[types.SourceID]int, error) {
	sources, err := r.sources(ctx)
	if err != nil {
		return 0, 0, nil, err
	}

	var (
		total int
		size  int64
	)
	bySource := make(map[types.SourceID]int)
	for _, s := range sources {
		keys, err := r.client.SMembers(ctx, r.sourceSet(s)).Result()
		if err != nil {
			return 0, 0, nil, fmt.Errorf("listing %s entries: %w", s, err)
		}
		if len(keys) == 0 {
			continue
		}
		cmds := make([]*redis.IntCmd, len(keys))
		_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, k := range keys {
				cmds[i] = pipe.StrLen(ctx, k)
			}
			return nil
		})
		if err != nil {
			return 0, 0, nil, fmt.Errorf("sizing %s entries: %w", s, err)
		}
		for _, cmd := range cmds {
			if n := cmd.Val(); n > 0 {
				bySource[s]++
				total++
				size += n
			}
		}
	}
	return total, size, bySource, nil
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
