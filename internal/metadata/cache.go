package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Fetcher loads the series data of one series. It never fails; unavailable
// data results in an entry without episodes.
type Fetcher interface {
	Fetch(ctx context.Context, seriesID string) *SeriesData
}

// CacheConfig holds series cache configuration.
type CacheConfig struct {
	TTL          time.Duration
	MaxEntries   int
	FetchTimeout time.Duration
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:          12 * time.Hour,
		MaxEntries:   10000,
		FetchTimeout: time.Minute,
	}
}

// Cache keeps series data per series id. Concurrent getters of a missing
// series share one fetch. Entries read since their last fetch are fetched
// again in the background when they expire, but not when they are pushed
// out by capacity.
type Cache struct {
	mu      sync.Mutex
	lru     *expirable.LRU[string, *cacheEntry]
	fetcher Fetcher
	cfg     CacheConfig
	logger  zerolog.Logger
}

type cacheEntry struct {
	done      chan struct{}
	data      *SeriesData
	fetchedAt time.Time
	revive    atomic.Bool
}

func (e *cacheEntry) fetched() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// NewCache creates a new series cache.
func NewCache(cfg CacheConfig, fetcher Fetcher, logger zerolog.Logger) *Cache {
	defaults := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}

	c := &Cache{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With().Str("component", "series-cache").Logger(),
	}
	c.lru = expirable.NewLRU[string, *cacheEntry](cfg.MaxEntries, c.onEvict, cfg.TTL)
	return c
}

// Get returns the series data, fetching it when missing. It only fails when
// ctx is done before the data is available.
func (c *Cache) Get(ctx context.Context, seriesID string) (*SeriesData, error) {
	c.mu.Lock()
	e, ok := c.lru.Get(seriesID)
	if !ok {
		e = c.startFetch(seriesID)
	}
	e.revive.Store(true)
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached series.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// startFetch must be called with c.mu held.
func (c *Cache) startFetch(seriesID string) *cacheEntry {
	e := &cacheEntry{done: make(chan struct{})}
	c.lru.Add(seriesID, e)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer cancel()

		data := c.fetcher.Fetch(ctx, seriesID)
		if data == nil {
			data = &SeriesData{SeriesID: seriesID}
		}
		e.data = data
		e.fetchedAt = time.Now()

		// Restart the TTL from the moment the data arrived, unless the entry
		// was pushed out or replaced in the meantime.
		c.mu.Lock()
		if cur, ok := c.lru.Peek(seriesID); ok && cur == e {
			c.lru.Add(seriesID, e)
		}
		c.mu.Unlock()
		close(e.done)
	}()
	return e
}

// onEvict runs under the LRU lock, so revival happens on its own goroutine.
func (c *Cache) onEvict(seriesID string, e *cacheEntry) {
	if !e.revive.Load() || !e.fetched() {
		return
	}
	if time.Since(e.fetchedAt) < c.cfg.TTL {
		return
	}
	go c.revive(seriesID)
}

func (c *Cache) revive(seriesID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(seriesID); ok {
		return
	}
	c.logger.Debug().Str("seriesId", seriesID).Msg("Reviving stale series data")
	c.startFetch(seriesID)
}
