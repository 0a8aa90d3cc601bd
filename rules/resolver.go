package rules

import "fmt"

// Group is a set of competing rules and the one that won.
type Group struct {
	Key        string
	Winner     *Rule
	Suppressed []*Rule
}

// Resolution is the outcome of conflict resolution. It is derived on every
// load and never persisted.
type Resolution struct {
	// ActiveRules are the group winners in resolution order.
	ActiveRules []*Rule
	Groups      []Group
	Violations  []EnforcementViolation
}

// Resolve groups competing rules and picks one winner per group.
//
// Rules compete when they share a GroupKey, or when one names the other in
// OverridesRuleID or ConflictsWith. Within a group the first rule in
// resolution order wins. A losing rule is silently suppressed unless it is
// enforced and the winner does not explicitly override it, in which case an
// EnforcementViolation is reported. Violations never stop execution.
//
// The result does not depend on the order of the input.
func Resolve(input []*Rule) *Resolution {
	rs := make([]*Rule, 0, len(input))
	for _, r := range input {
		if r != nil && r.Active {
			rs = append(rs, r)
		}
	}
	SortRules(rs)

	// Drop duplicate ids, keeping the first in resolution order.
	index := make(map[string]int, len(rs))
	uniq := rs[:0]
	for _, r := range rs {
		if _, dup := index[r.ID]; dup {
			continue
		}
		index[r.ID] = len(uniq)
		uniq = append(uniq, r)
	}
	rs = uniq

	parent := make([]int, len(rs))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// Keep the earlier rule as root so roots are stable.
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	byKey := make(map[string]int, len(rs))
	for i, r := range rs {
		key := r.GroupKey()
		if first, ok := byKey[key]; ok {
			union(first, i)
		} else {
			byKey[key] = i
		}
		if j, ok := index[r.OverridesRuleID]; ok && r.OverridesRuleID != "" {
			union(i, j)
		}
		for _, id := range r.ConflictsWith {
			if j, ok := index[id]; ok {
				union(i, j)
			}
		}
	}

	res := &Resolution{}
	groupOf := make(map[int]int)
	for i, r := range rs {
		root := find(i)
		gi, ok := groupOf[root]
		if !ok {
			// rs is sorted, so the first member seen is the winner.
			groupOf[root] = len(res.Groups)
			res.Groups = append(res.Groups, Group{Key: r.GroupKey(), Winner: r})
			res.ActiveRules = append(res.ActiveRules, r)
			continue
		}

		g := &res.Groups[gi]
		g.Suppressed = append(g.Suppressed, r)
		winner := g.Winner
		switch {
		case winner.OverridesRuleID == r.ID:
			// explicit override
		case r.Enforced:
			res.Violations = append(res.Violations, EnforcementViolation{
				OverriddenRuleID:   r.ID,
				OverriddenRuleName: r.Name,
				OverridingRuleID:   winner.ID,
				OverridingRuleName: winner.Name,
				GroupKey:           g.Key,
				Message: fmt.Sprintf("enforced rule %q (%s, priority %d) is overridden by %q (%s, priority %d) without an explicit override",
					r.Name, r.Source, r.Priority, winner.Name, winner.Source, winner.Priority),
			})
		}
	}
	return res
}

// Winner returns the group winner that suppressed the given rule, or nil if
// the rule is active or unknown.
func (res *Resolution) Winner(ruleID string) *Rule {
	for _, g := range res.Groups {
		for _, s := range g.Suppressed {
			if s.ID == ruleID {
				return g.Winner
			}
		}
	}
	return nil
}
