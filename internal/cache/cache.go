// Package cache provides caching for query responses and node lookups.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	QueryCacheSizeMB int
	QueryTTL         time.Duration
	NodeCacheSize    int
}

// Manager manages the query-response and node-lookup caches. Queries are
// pure functions of the immutable store, so the TTL only bounds memory,
// never staleness.
type Manager struct {
	queryCache *bigcache.BigCache
	nodeCache  *lru.Cache[int32, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	queryCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.QueryTTL,
		CleanWindow:        cfg.QueryTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       4 * 1024 * 1024, // a dense viewport response is a few MB
		HardMaxCacheSize:   cfg.QueryCacheSizeMB,
		Verbose:            false,
	}

	queryCache, err := bigcache.New(context.Background(), queryCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	nodeCache, err := lru.New[int32, []byte](cfg.NodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create node cache: %w", err)
	}

	return &Manager{
		queryCache: queryCache,
		nodeCache:  nodeCache,
	}, nil
}

// GetQuery retrieves a serialized query response from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	data, err := m.queryCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetQuery stores a serialized query response in cache.
func (m *Manager) SetQuery(key string, data []byte) error {
	return m.queryCache.Set(key, data)
}

// GetNode retrieves a rehydrated node record from cache.
func (m *Manager) GetNode(id int32) ([]byte, bool) {
	return m.nodeCache.Get(id)
}

// SetNode stores a rehydrated node record in cache.
func (m *Manager) SetNode(id int32, data []byte) {
	m.nodeCache.Add(id, data)
}

// QueryKey generates a cache key for a viewport query. Bounds are the
// effective (defaulted) bounds, so equivalent requests share one entry.
func QueryKey(minY, maxY, minX, maxX float64, xType string) string {
	return "nodes:" +
		strconv.FormatFloat(minY, 'g', -1, 64) + ":" +
		strconv.FormatFloat(maxY, 'g', -1, 64) + ":" +
		strconv.FormatFloat(minX, 'g', -1, 64) + ":" +
		strconv.FormatFloat(maxX, 'g', -1, 64) + ":" +
		xType
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"query_cache_len": m.queryCache.Len(),
		"query_cache_cap": m.queryCache.Capacity(),
		"node_cache_len":  m.nodeCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.queryCache.Close()
}
