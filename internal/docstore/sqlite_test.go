package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type counter struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Max   int    `json:"max"`
	Owner string `json:"owner,omitempty"`
}

func TestAddGetQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "things", Fields{"name": "a", "active": true, "count": 1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, "things", Fields{"name": "b", "active": false, "count": 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, "other", Fields{"name": "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	doc, err := s.Get(ctx, "things", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var c counter
	if err := doc.DataTo(&c); err != nil {
		t.Fatalf("DataTo: %v", err)
	}
	if c.Name != "a" || c.Count != 1 {
		t.Errorf("unexpected document %+v", c)
	}

	_, err = s.Get(ctx, "things", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{"no filter", nil, 2},
		{"by string", []Filter{Where("name", "a")}, 1},
		{"by bool true", []Filter{Where("active", true)}, 1},
		{"by bool false", []Filter{Where("active", false)}, 1},
		{"by int", []Filter{Where("count", 2)}, 1},
		{"absent field", []Filter{Where("owner", nil)}, 2},
		{"no match", []Filter{Where("name", "a"), Where("count", 2)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, "things", tt.filters...)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(docs) != tt.want {
				t.Errorf("expected %d documents, got %d", tt.want, len(docs))
			}
		})
	}

	if _, err := s.Query(ctx, "things", Where("bad field", 1)); err == nil {
		t.Error("expected error for invalid field name")
	}
}

func TestQueryOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, n := range []string{"first", "second", "third"} {
		if _, err := s.Add(ctx, "things", Fields{"name": n}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	docs, err := s.Query(ctx, "things")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var names []string
	for _, d := range docs {
		var c counter
		_ = d.DataTo(&c)
		names = append(names, c.Name)
	}
	if len(names) != 3 || names[0] != "first" || names[2] != "third" {
		t.Errorf("expected insertion order, got %v", names)
	}
}

func TestServerTimestamp(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	id, err := s.Add(ctx, "things", Fields{"createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc, _ := s.Get(ctx, "things", id)
	var v struct {
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := doc.DataTo(&v); err != nil {
		t.Fatalf("DataTo: %v", err)
	}
	if !v.CreatedAt.Equal(fixed) {
		t.Errorf("expected %v, got %v", fixed, v.CreatedAt)
	}
}

func TestSetAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "settings", "general", Fields{"name": "one", "count": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "settings", "general", Fields{"name": "two"}); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	doc, _ := s.Get(ctx, "settings", "general")
	var c counter
	_ = doc.DataTo(&c)
	if c.Name != "two" || c.Count != 0 {
		t.Errorf("Set should replace the document, got %+v", c)
	}

	if err := s.Update(ctx, "settings", "general", Fields{"count": 5}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, _ = s.Get(ctx, "settings", "general")
	c = counter{}
	_ = doc.DataTo(&c)
	if c.Name != "two" || c.Count != 5 {
		t.Errorf("Update should merge fields, got %+v", c)
	}

	err := s.Update(ctx, "settings", "missing", Fields{"count": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Add(ctx, "things", Fields{"name": "x"})

	for i := 0; i < 3; i++ {
		if err := s.Increment(ctx, "things", id, "count", 1); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	doc, _ := s.Get(ctx, "things", id)
	var c counter
	_ = doc.DataTo(&c)
	if c.Count != 3 {
		t.Errorf("expected count 3, got %d", c.Count)
	}
}

func TestApplyConditions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Add(ctx, "things", Fields{"count": 0, "max": 2})

	claim := func(owner string) error {
		return s.Apply(ctx, "things", id, Mutation{
			Increment: map[string]int64{"count": 1},
			Set:       Fields{"owner": owner},
			Conditions: []Condition{
				FieldLess("count", "max"),
				FieldUnsetOr("owner", owner),
			},
		})
	}

	if err := claim("alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim("bob"); !errors.Is(err, ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed for other owner, got %v", err)
	}
	if err := claim("alice"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := claim("alice"); !errors.Is(err, ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed past max, got %v", err)
	}

	doc, _ := s.Get(ctx, "things", id)
	var c counter
	_ = doc.DataTo(&c)
	if c.Count != 2 || c.Owner != "alice" {
		t.Errorf("unexpected final state %+v", c)
	}

	err := s.Apply(ctx, "things", "missing", Mutation{Increment: map[string]int64{"count": 1}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyConcurrentCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Add(ctx, "things", Fields{"count": 0, "max": 3})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Apply(ctx, "things", id, Mutation{
				Increment:  map[string]int64{"count": 1},
				Conditions: []Condition{FieldLess("count", "max")},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("expected 3 successful increments, got %d", succeeded)
	}
	doc, _ := s.Get(ctx, "things", id)
	var c counter
	_ = doc.DataTo(&c)
	if c.Count != 3 {
		t.Errorf("expected count 3, got %d", c.Count)
	}
}

func TestEnsureUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUnique(ctx, "students", "examNumber"); err != nil {
		t.Fatalf("EnsureUnique: %v", err)
	}
	// Idempotent.
	if err := s.EnsureUnique(ctx, "students", "examNumber"); err != nil {
		t.Fatalf("EnsureUnique again: %v", err)
	}

	if _, err := s.Add(ctx, "students", Fields{"examNumber": "IF/2025/001"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err := s.Add(ctx, "students", Fields{"examNumber": "IF/2025/001"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	// Other collections are unaffected.
	if _, err := s.Add(ctx, "pins", Fields{"examNumber": "IF/2025/001"}); err != nil {
		t.Errorf("unexpected error in other collection: %v", err)
	}

	if err := s.EnsureUnique(ctx, "bad-name", "x"); err == nil {
		t.Error("expected error for invalid collection name")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Add(ctx, "things", Fields{"name": "x"})

	if err := s.Delete(ctx, "things", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "things", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "things", id); err != nil {
		t.Errorf("deleting a missing document should succeed, got %v", err)
	}
}
