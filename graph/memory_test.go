package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreCreateAndFindByTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := &Entity{Tag: "P-101", Type: "PUMP", ProjectID: "proj-1", Properties: map[string]any{"hp": 10}}
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	if e.ID == "" {
		t.Fatal("CreateEntity() should assign an ID")
	}

	got, err := s.FindByTag(ctx, "proj-1", "P-101")
	if err != nil {
		t.Fatalf("FindByTag() failed: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("FindByTag() id = %s, want %s", got.ID, e.ID)
	}

	// Same tag in another project is a different entity.
	if _, err := s.FindByTag(ctx, "proj-2", "P-101"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByTag() in other project: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTagUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateEntity(ctx, &Entity{Tag: "M-1", ProjectID: "p"}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	err := s.CreateEntity(ctx, &Entity{Tag: "M-1", ProjectID: "p"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.CreateEntity(ctx, &Entity{Tag: "M-1", ProjectID: "q"}); err != nil {
		t.Errorf("same tag in another project should be allowed: %v", err)
	}
}

func TestMemoryStoreConcurrentCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateEntity(ctx, &Entity{Tag: "CBL-1", ProjectID: "p"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one successful create, got %d", created)
	}
	if n, _ := s.Counts(); n != 1 {
		t.Errorf("expected 1 entity, got %d", n)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := &Entity{Tag: "P-1", ProjectID: "p", Properties: map[string]any{"flow": 5}}
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	e.Properties["flow"] = 99

	got, _ := s.GetEntity(ctx, e.ID)
	if got.Properties["flow"] != 5 {
		t.Errorf("stored entity was mutated through caller's map: %v", got.Properties["flow"])
	}
	got.Properties["flow"] = 42

	again, _ := s.GetEntity(ctx, e.ID)
	if again.Properties["flow"] != 5 {
		t.Errorf("stored entity was mutated through returned map: %v", again.Properties["flow"])
	}
}

func TestMemoryStoreSetPropertiesMerges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := &Entity{Tag: "P-1", Type: "PUMP", ProjectID: "p", Properties: map[string]any{"hp": 10}}
	_ = s.CreateEntity(ctx, e)

	// A writer that holds an older copy only touches the keys it sets.
	if err := s.SetProperties(ctx, e.ID, map[string]any{"efficiency": 92}); err != nil {
		t.Fatalf("SetProperties() failed: %v", err)
	}
	if err := s.SetProperties(ctx, e.ID, map[string]any{"voltage": "600V"}); err != nil {
		t.Fatalf("SetProperties() failed: %v", err)
	}

	got, _ := s.GetEntity(ctx, e.ID)
	want := map[string]any{"hp": 10, "efficiency": 92, "voltage": "600V"}
	if len(got.Properties) != len(want) {
		t.Fatalf("Properties = %v, want %v", got.Properties, want)
	}
	for k, v := range want {
		if got.Properties[k] != v {
			t.Errorf("Properties[%s] = %v, want %v", k, got.Properties[k], v)
		}
	}
	if got.Tag != "P-1" || got.Type != "PUMP" {
		t.Errorf("SetProperties() changed other fields: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.SetProperties(ctx, "missing", map[string]any{"a": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreEdges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &Entity{Tag: "A", ProjectID: "p"}
	b := &Entity{Tag: "B", ProjectID: "p"}
	_ = s.CreateEntity(ctx, a)
	_ = s.CreateEntity(ctx, b)

	edge := &Edge{SourceID: a.ID, TargetID: b.ID, RelationType: "powers"}
	if err := s.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("CreateEdge() failed: %v", err)
	}

	exists, err := s.EdgeExists(ctx, a.ID, b.ID, "powers")
	if err != nil || !exists {
		t.Errorf("EdgeExists() = %v, %v; want true, nil", exists, err)
	}
	exists, _ = s.EdgeExists(ctx, b.ID, a.ID, "powers")
	if exists {
		t.Error("EdgeExists() should respect direction")
	}

	dup := &Edge{SourceID: a.ID, TargetID: b.ID, RelationType: "powers"}
	if err := s.CreateEdge(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate edge: expected ErrAlreadyExists, got %v", err)
	}

	if err := s.CreateEdge(ctx, &Edge{SourceID: a.ID, TargetID: "nope", RelationType: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("dangling edge: expected ErrNotFound, got %v", err)
	}

	edges, _ := s.EdgesOf(ctx, b.ID)
	if len(edges) != 1 {
		t.Fatalf("EdgesOf() returned %d edges, want 1", len(edges))
	}

	if err := s.DeleteEdge(ctx, edge.ID); err != nil {
		t.Fatalf("DeleteEdge() failed: %v", err)
	}
	exists, _ = s.EdgeExists(ctx, a.ID, b.ID, "powers")
	if exists {
		t.Error("edge should be gone after DeleteEdge()")
	}
	if err := s.CreateEdge(ctx, dup); err != nil {
		t.Errorf("edge should be recreatable after delete: %v", err)
	}
}

func TestMemoryStoreDeleteEntityFreesTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := &Entity{Tag: "CBL", ProjectID: "p"}
	_ = s.CreateEntity(ctx, e)
	if err := s.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntity() failed: %v", err)
	}
	if _, err := s.FindByTag(ctx, "p", "CBL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteEntity(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestListByProjectOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, tag := range []string{"P-3", "P-1", "P-2"} {
		_ = s.CreateEntity(ctx, &Entity{Tag: tag, ProjectID: "p"})
	}
	_ = s.CreateEntity(ctx, &Entity{Tag: "X", ProjectID: "other"})

	got, err := s.ListByProject(ctx, "p")
	if err != nil {
		t.Fatalf("ListByProject() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListByProject() returned %d entities, want 3", len(got))
	}
	for i, want := range []string{"P-1", "P-2", "P-3"} {
		if got[i].Tag != want {
			t.Errorf("entity %d tag = %s, want %s", i, got[i].Tag, want)
		}
	}
}

func TestValueHelpers(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{"75", 75, true},
		{75.0, int64(75), true},
		{"centrifugal", "centrifugal", true},
		{"centrifugal", "axial", false},
		{true, "true", true},
		{nil, nil, true},
		{nil, "x", false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if f, ok := Float(" 12.5 "); !ok || f != 12.5 {
		t.Errorf("Float(\" 12.5 \") = %v, %v", f, ok)
	}
	if _, ok := Float(true); ok {
		t.Error("Float(true) should not convert")
	}
	if s := String(75.0); s != "75" {
		t.Errorf("String(75.0) = %q, want \"75\"", s)
	}
}

func TestMemoryStoreProjects(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateProject(ctx, &Project{ID: "proj-1", Name: "Mill", CountryCode: "CA"}); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	if err := s.CreateProject(ctx, &Project{ID: "proj-1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	p, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetProject() failed: %v", err)
	}
	if p.CountryCode != "CA" {
		t.Errorf("CountryCode = %q, want CA", p.CountryCode)
	}
	if _, err := s.GetProject(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
