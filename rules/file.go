package rules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk layout of a rule definition file.
type ruleFile struct {
	Rules []Definition `yaml:"rules"`
}

// LoadFile reads rule definitions from a YAML file. Every definition is
// parsed and validated; all invalid definitions are reported together.
func LoadFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML rule definitions, either under a top-level "rules"
// key or as a bare list.
func ParseFile(data []byte) ([]*Rule, error) {
	var defs []Definition
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Rules != nil {
		defs = doc.Rules
	} else if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rule file: %v", ErrInvalidRule, err)
	}

	var errs []error
	seen := make(map[string]bool, len(defs))
	out := make([]*Rule, 0, len(defs))
	for i, d := range defs {
		r, err := d.Rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("definition %d: %w", i, err))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("definition %d: %w: duplicate id %s", i, ErrInvalidRule, r.ID))
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Seed writes rules into a store, updating rules that already exist.
// Returns the number of rules added and updated.
func Seed(ctx context.Context, store RuleStore, rs []*Rule) (added, updated int, err error) {
	for _, r := range rs {
		err := store.Add(ctx, r)
		if errors.Is(err, ErrRuleExists) {
			if err := store.Update(ctx, r); err != nil {
				return added, updated, fmt.Errorf("failed to update rule %s: %w", r.ID, err)
			}
			updated++
			continue
		}
		if err != nil {
			return added, updated, fmt.Errorf("failed to add rule %s: %w", r.ID, err)
		}
		added++
	}
	return added, updated, nil
}
