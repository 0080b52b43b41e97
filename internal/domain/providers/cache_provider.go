package providers

import (
	"context"
)

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache; a missing key returns an error
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePattern removes every key matching a glob pattern
	DeletePattern(ctx context.Context, pattern string) error
}

// Cache key prefixes shared by writers and the invalidation subscriber.
const (
	CacheKeyGraphPrefix        = "graph:"
	CacheKeyAnalyticsPrefix    = "analytics:"
	CacheKeyPromptSearchPrefix = "search:prompt:"
	CacheKeyLastEventPrefix    = "consultation:last_event:"
)

// LastEventCacheKey returns the key holding the latest event of a consultation's ingest.
func LastEventCacheKey(consultationID string) string {
	return CacheKeyLastEventPrefix + consultationID
}

// GraphCacheKey returns the cache key for a patient's graph at a given fingerprint.
func GraphCacheKey(normalizedPatient, fingerprint string) string {
	return CacheKeyGraphPrefix + normalizedPatient + ":" + fingerprint
}

// GraphCachePattern matches every cached graph for a patient.
func GraphCachePattern(normalizedPatient string) string {
	return CacheKeyGraphPrefix + normalizedPatient + ":*"
}
