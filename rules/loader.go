package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
)

// Loader loads the rules that apply to a project: every FIRM rule plus the
// COUNTRY, PROJECT and CLIENT rules published for the project's country,
// id and client. Loaded lists are cached per project; mutations made through
// the loader invalidate the cache.
type Loader struct {
	store    RuleStore
	projects graph.ProjectStore
	cache    RulesCache
}

// NewLoader creates a loader. A nil cache gets an in-memory cache with the
// default configuration.
func NewLoader(store RuleStore, projects graph.ProjectStore, cache RulesCache) *Loader {
	if cache == nil {
		cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}
	return &Loader{store: store, projects: projects, cache: cache}
}

// Store returns the underlying rule store.
func (l *Loader) Store() RuleStore {
	return l.store
}

// Load returns the active rules applicable to the project sorted by priority
// descending, then creation time ascending. Fails with *ScopeNotFoundError
// when the project does not exist.
func (l *Loader) Load(ctx context.Context, projectID string) ([]*Rule, error) {
	// The project is resolved on every call so that a cached list never
	// outlives its project.
	project, err := l.projects.GetProject(ctx, projectID)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, &ScopeNotFoundError{ProjectID: projectID, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %s: %w", projectID, err)
	}
	if cached := l.cache.Get(projectID); cached != nil {
		return cached, nil
	}

	type scope struct {
		source Source
		id     string
	}
	scopes := []scope{{SourceFirm, ""}}
	if project.CountryCode != "" {
		scopes = append(scopes, scope{SourceCountry, project.CountryCode})
	}
	scopes = append(scopes, scope{SourceProject, project.ID})
	if project.ClientID != "" {
		scopes = append(scopes, scope{SourceClient, project.ClientID})
	}

	seen := make(map[string]bool)
	var loaded []*Rule
	for _, sc := range scopes {
		found, err := l.store.FindActiveBySource(ctx, sc.source, sc.id)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s rules: %w", sc.source, err)
		}
		for _, r := range found {
			if !r.Active || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			loaded = append(loaded, r)
		}
	}
	SortRules(loaded)
	if loaded == nil {
		loaded = []*Rule{}
	}

	logger.Debug("loaded rules",
		"project_id", projectID,
		"country_code", project.CountryCode,
		"client_id", project.ClientID,
		"rules", len(loaded))

	l.cache.Set(projectID, loaded)
	return loaded, nil
}

// LoadByActionType returns the applicable rules with the given action type.
func (l *Loader) LoadByActionType(ctx context.Context, projectID string, actionType ActionType) ([]*Rule, error) {
	return l.loadWhere(ctx, projectID, func(r *Rule) bool { return r.ActionType == actionType })
}

// LoadByDiscipline returns the applicable rules of a discipline.
func (l *Loader) LoadByDiscipline(ctx context.Context, projectID, discipline string) ([]*Rule, error) {
	return l.loadWhere(ctx, projectID, func(r *Rule) bool { return r.Discipline == discipline })
}

func (l *Loader) loadWhere(ctx context.Context, projectID string, keep func(*Rule) bool) ([]*Rule, error) {
	all, err := l.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Rule, 0, len(all))
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddRule validates and stores a new rule.
func (l *Loader) AddRule(ctx context.Context, r *Rule) error {
	if err := l.store.Add(ctx, r); err != nil {
		return err
	}
	l.cache.Invalidate()
	return nil
}

// UpdateRule replaces a stored rule.
func (l *Loader) UpdateRule(ctx context.Context, r *Rule) error {
	if err := l.store.Update(ctx, r); err != nil {
		return err
	}
	l.cache.Invalidate()
	return nil
}

// DeleteRule removes a stored rule.
func (l *Loader) DeleteRule(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.cache.Invalidate()
	return nil
}

// Invalidate drops every cached rule list.
func (l *Loader) Invalidate() {
	l.cache.Invalidate()
}
