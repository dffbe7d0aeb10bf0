// Package thumbnail renders and caches the small previews shown next to
// image files in the browser views.
package thumbnail

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/models"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nasdesk_thumbnail_cache_hits_total",
		Help: "Thumbnail lookups answered from the cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nasdesk_thumbnail_cache_misses_total",
		Help: "Thumbnail lookups that had to fetch the file.",
	})
	cachePurgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nasdesk_thumbnail_cache_purges_total",
		Help: "Times the whole cache was dropped, usually on logout.",
	})
)

// Key identifies one rendered thumbnail. The same file renders differently
// per view mode.
type Key struct {
	Path string
	Mode models.ViewMode
}

// NewKey cleans path so "/photos/a.jpg" and "photos/a.jpg" share an entry.
func NewKey(path string, mode models.ViewMode) Key {
	return Key{Path: models.CleanRemote(path), Mode: mode}
}

// Cache is a bounded, expiring map of PNG thumbnails. It is safe for
// concurrent use by job goroutines and the UI loop.
type Cache struct {
	lru *expirable.LRU[Key, []byte]
}

// NewCache creates a cache holding at most size entries for ttl each.
// Non-positive arguments fall back to the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = constants.ThumbnailCacheSize
	}
	if ttl <= 0 {
		ttl = constants.ThumbnailCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[Key, []byte](size, nil, ttl)}
}

// Get returns the cached PNG for key.
func (c *Cache) Get(key Key) ([]byte, bool) {
	img, ok := c.lru.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return img, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Add stores img under key. Empty images are ignored.
func (c *Cache) Add(key Key, img []byte) {
	if len(img) == 0 {
		return
	}
	c.lru.Add(key, img)
}

// Remove drops key if present.
func (c *Cache) Remove(key Key) {
	c.lru.Remove(key)
}

// Contains reports whether key is cached without touching recency or metrics.
func (c *Cache) Contains(key Key) bool {
	return c.lru.Contains(key)
}

// Purge drops every entry. Paths are only meaningful within one session.
func (c *Cache) Purge() {
	c.lru.Purge()
	cachePurgesTotal.Inc()
}

// Len returns the number of cached thumbnails.
func (c *Cache) Len() int {
	return c.lru.Len()
}
