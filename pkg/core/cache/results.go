package cache

import (
	"fmt"
	"time"
)

// ResultsCache is a specialized cache for finished transcription results,
// keyed by audio fingerprint and option signature. Identical uploads with
// identical options skip the whole decode.
type ResultsCache struct {
	cache *Cache
}

// ResultsConfig holds configuration for the results cache
type ResultsConfig struct {
	TTL      time.Duration // TTL for cached results (default: 1 hour)
	MaxItems int           // Max cached results (default: 256)
}

// DefaultResultsConfig returns default results cache configuration
func DefaultResultsConfig() ResultsConfig {
	return ResultsConfig{
		TTL:      time.Hour,
		MaxItems: 256,
	}
}

// NewResultsCache creates a new results cache
func NewResultsCache(cfg ResultsConfig) *ResultsCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 256
	}

	return &ResultsCache{
		cache: New(Config{
			MaxItems: cfg.MaxItems,
			TTL:      cfg.TTL,
		}),
	}
}

// Key builds the cache key from an audio fingerprint and an option signature
func (rc *ResultsCache) Key(fingerprint uint64, optionsKey string) string {
	return fmt.Sprintf("%016x:%s", fingerprint, optionsKey)
}

// Get retrieves a cached result
func (rc *ResultsCache) Get(key string) (interface{}, bool) {
	return rc.cache.Get(key)
}

// Put stores a finished result
func (rc *ResultsCache) Put(key string, result interface{}) {
	rc.cache.Set(key, result)
}

// Stats returns hit/miss statistics
func (rc *ResultsCache) Stats() (hits, misses int64, hitRate float64) {
	return rc.cache.Stats()
}

// Stop terminates background maintenance
func (rc *ResultsCache) Stop() {
	rc.cache.Stop()
}
