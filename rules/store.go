package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval
type RuleStore interface {
	// Add a new rule
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*Rule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule
	Delete(ctx context.Context, id string) error

	// ListActive returns every active rule regardless of scope
	ListActive(ctx context.Context) ([]*Rule, error)

	// FindActiveBySource returns the active rules published at a source.
	// sourceID is ignored for FIRM rules.
	FindActiveBySource(ctx context.Context, source Source, sourceID string) ([]*Rule, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add validates and stores a new rule. CreatedAt is kept when already set
// so seeded rules keep their publication order.
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleExists)
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Version == 0 {
		rule.Version = 1
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

// Update replaces an existing rule, preserving CreatedAt and bumping Version.
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	rule.Version = existing.Version + 1
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	delete(s.rules, id)
	return nil
}

// ListActive returns all active rules in resolution order.
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule.Clone())
		}
	}
	SortRules(active)
	return active, nil
}

// FindActiveBySource returns the active rules published at a source, in
// resolution order.
func (s *InMemoryRuleStore) FindActiveBySource(_ context.Context, source Source, sourceID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if !rule.Active || rule.Source != source {
			continue
		}
		if source != SourceFirm && rule.SourceID != sourceID {
			continue
		}
		out = append(out, rule.Clone())
	}
	SortRules(out)
	return out, nil
}

// SortRules orders rules by priority descending, then creation time
// ascending, then id ascending.
func SortRules(rs []*Rule) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].before(rs[j]) })
}
