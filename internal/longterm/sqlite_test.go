package longterm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rcliao/working-memory/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMemoryAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StoreMemory(ctx, "the user prefers dark mode", Metadata{
		SourceID:   "src-1",
		SessionID:  "s1",
		Framework:  "agent",
		Importance: 0.9,
		Confidence: 0.7,
		Tags:       []string{"prefs", "promoted"},
		Origin:     model.OriginWorkingMemory,
		Extra:      model.Metadata{"access_count": 4},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	m, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Content != "the user prefers dark mode" || m.SourceID != "src-1" || m.SessionID != "s1" {
		t.Errorf("unexpected memory: %+v", m)
	}
	if m.Importance != 0.9 || len(m.Tags) != 2 || m.Origin != model.OriginWorkingMemory {
		t.Errorf("metadata not persisted: %+v", m)
	}
	if n, ok := m.Meta.Number("access_count"); !ok || n != 4 {
		t.Errorf("expected extra access_count 4, got %v", m.Meta)
	}
}

func TestStoreMemoryIdempotentBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.StoreMemory(ctx, "a", Metadata{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	second, err := s.StoreMemory(ctx, "a", Metadata{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if first != second {
		t.Errorf("expected same id for repeated source, got %s and %s", first, second)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("expected exactly 1 memory, got %d", n)
	}
}

func TestStoreMemoryConcurrentSameSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.StoreMemory(ctx, "race", Metadata{SourceID: "src-race"})
			if err != nil {
				t.Errorf("store: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one id for all racers, got %v", ids)
		}
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Errorf("expected exactly 1 memory, got %d", c)
	}
}

func TestStoreMemoryWithoutSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.StoreMemory(ctx, "x", Metadata{})
	b, _ := s.StoreMemory(ctx, "x", Metadata{})
	if a == b {
		t.Error("expected distinct ids without a source id")
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("expected 2 memories, got %d", n)
	}
}

func TestFindBySourceAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.StoreMemory(ctx, "one", Metadata{SourceID: "a", SessionID: "s1"})
	s.StoreMemory(ctx, "two", Metadata{SourceID: "b", SessionID: "s1"})
	s.StoreMemory(ctx, "three", Metadata{SourceID: "c", SessionID: "s2"})

	m, err := s.FindBySource(ctx, "b")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Content != "two" {
		t.Errorf("expected 'two', got %q", m.Content)
	}

	if _, err := s.FindBySource(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.List(ctx, ListParams{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 memories in s1, got %d", len(list))
	}

	all, _ := s.List(ctx, ListParams{Limit: 1})
	if len(all) != 1 {
		t.Errorf("expected limit 1, got %d", len(all))
	}
}
