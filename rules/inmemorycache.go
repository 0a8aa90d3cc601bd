package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is an in-memory RulesCache keyed by project.
// Thread-safe for concurrent access.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

func (c *InMemoryRulesCache) fresh(e cacheEntry) bool {
	return c.config.TTL <= 0 || time.Since(e.cachedAt) <= c.config.TTL
}

// Get retrieves the cached rules of a project.
// Returns nil if nothing is cached or the entry expired.
func (c *InMemoryRulesCache) Get(projectID string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[projectID]
	if !ok || !c.fresh(e) {
		return nil
	}

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(e.rules))
	copy(rulesCopy, e.rules)
	return rulesCopy
}

// Set stores the rules of a project
func (c *InMemoryRulesCache) Set(projectID string, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.entries[projectID] = cacheEntry{rules: stored, cachedAt: time.Now()}
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// IsValid returns true if the project has unexpired cached rules
func (c *InMemoryRulesCache) IsValid(projectID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[projectID]
	return ok && c.fresh(e)
}
