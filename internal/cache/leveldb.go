// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// LevelDB keys are "<source>/<key>"; values are an 8-byte big-endian
// expiry (unix nanoseconds) followed by the envelope.
const expiryHeader = 8

type leveldbBackend struct {
	db *leveldb.DB

	// mu orders writes against removeIf's read-compare-delete.
	mu sync.Mutex
}

// OpenLevelDB opens or creates a LevelDB cache in dir.
func OpenLevelDB(dir string, opts Options) (*Cache, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb cache: %w", err)
	}
	return newCache(&leveldbBackend{db: db}, opts), nil
}

func leveldbKey(source types.SourceID, key string) []byte {
	return []byte(string(source) + "/" + key)
}

func (l *leveldbBackend) name() types.CacheBackend { return types.CacheLevelDB }

func (l *leveldbBackend) get(_ context.Context, source types.SourceID, key string) ([]byte, bool, error) {
	v, err := l.db.Get(leveldbKey(source, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading entry: %w", err)
	}
	if len(v) < expiryHeader {
		return nil, true, fmt.Errorf("%w: short value", types.ErrCacheCorruption)
	}
	return v[expiryHeader:], true, nil
}

func (l *leveldbBackend) put(_ context.Context, source types.SourceID, key string, data []byte, expiresAt time.Time, _ time.Duration) error {
	v := make([]byte, expiryHeader+len(data))
	binary.BigEndian.PutUint64(v, uint64(expiresAt.UnixNano()))
	copy(v[expiryHeader:], data)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Put(leveldbKey(source, key), v, nil); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}

func (l *leveldbBackend) removeIf(_ context.Context, source types.SourceID, key string, seen []byte) error {
	k := leveldbKey(source, key)
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.db.Get(k, nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading entry: %w", err)
	}
	var cur []byte
	if len(v) >= expiryHeader {
		cur = v[expiryHeader:]
	}
	if !bytes.Equal(cur, seen) {
		return nil
	}
	return l.db.Delete(k, nil)
}

// deleteWhere removes every key under prefix for which match returns true.
func (l *leveldbBackend) deleteWhere(prefix []byte, match func(value []byte) bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		if match(iter.Value()) {
			batch.Delete(bytes.Clone(iter.Key()))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterating entries: %w", err)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	return batch.Len(), nil
}

func (l *leveldbBackend) clear(_ context.Context, source types.SourceID) (int, error) {
	var prefix []byte
	if source != "" {
		prefix = []byte(string(source) + "/")
	}
	return l.deleteWhere(prefix, func([]byte) bool { return true })
}

func (l *leveldbBackend) purge(_ context.Context, now time.Time) (int, error) {
	cutoff := now.UnixNano()
	return l.deleteWhere(nil, func(v []byte) bool {
		if len(v) < expiryHeader {
			return true
		}
		return int64(binary.BigEndian.Uint64(v)) <= cutoff
	})
}

func (l *leveldbBackend) stats(context.Context) (int, int64, map[types.SourceID]int, error) {
	var (
		total int
		size  int64
	)
	bySource := make(map[types.SourceID]int)
	iter := l.db.NewIterator(nil, nil)
	for iter.Next() {
		k := iter.Key()
		if i := bytes.IndexByte(k, '/'); i > 0 {
			bySource[types.SourceID(k[:i])]++
		}
		total++
		if n := len(iter.Value()) - expiryHeader; n > 0 {
			size += int64(n)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, 0, nil, fmt.Errorf("iterating entries: %w", err)
	}
	return total, size, bySource, nil
}

func (l *leveldbBackend) close() error {
	return l.db.Close()
}
