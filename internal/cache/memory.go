// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pdiddy/pharma-research/pkg/types"
)

type memoryItem struct {
	source    types.SourceID
	data      []byte
	expiresAt time.Time
}

type memoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemory returns an in-process store. Its contents do not survive the
// process.
func NewMemory(opts Options) *Cache {
	return newCache(&memoryBackend{items: make(map[string]memoryItem)}, opts)
}

func (m *memoryBackend) name() types.CacheBackend { return types.CacheMemory }

func (m *memoryBackend) get(_ context.Context, _ types.SourceID, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return it.data, true, nil
}

func (m *memoryBackend) put(_ context.Context, source types.SourceID, key string, data []byte, expiresAt time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{source: source, data: data, expiresAt: expiresAt}
	return nil
}

func (m *memoryBackend) removeIf(_ context.Context, _ types.SourceID, key string, seen []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok && bytes.Equal(it.data, seen) {
		delete(m.items, key)
	}
	return nil
}

func (m *memoryBackend) clear(_ context.Context, source types.SourceID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if source == "" || it.source == source {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if !now.Before(it.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) stats(context.Context) (int, int64, map[types.SourceID]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bytes int64
	bySource := make(map[types.SourceID]int)
	for _, it := range m.items {
		bytes += int64(len(it.data))
		bySource[it.source]++
	}
	return len(m.items), bytes, bySource, nil
}

func (m *memoryBackend) close() error { return nil }
