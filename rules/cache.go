package rules

import "time"

// RulesCache caches the loaded rule list of each project.
// This allows swapping between in-memory or shared caching implementations.
type RulesCache interface {
	// Get retrieves the cached rules of a project, nil on a miss or expiry
	Get(projectID string) []*Rule

	// Set stores the rules of a project
	Set(projectID string, rules []*Rule)

	// Invalidate clears every project, forcing a reload on next Get
	Invalidate()

	// IsValid returns true if the project has valid cached data
	IsValid(projectID string) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (invalidation on rule mutation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default rule cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
