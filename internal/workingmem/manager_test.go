package workingmem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 0
	if _, err := New(nil, nil, cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestStoreComputesExpiry(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())

	e := env.mustStore(t, "remember the deploy window", "s1", StoreOptions{Importance: imp(0.9)})

	if e.Priority != model.PriorityCritical {
		t.Errorf("expected derived priority critical, got %s", e.Priority)
	}
	if want := t0.Add(180 * time.Minute); !e.Expires.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, e.Expires)
	}
	if e.Confidence != 1.0 {
		t.Errorf("expected default confidence 1.0, got %v", e.Confidence)
	}
	if ttl, _ := e.Metadata.Number(model.MetaTTLMinutes); ttl != 180 {
		t.Errorf("expected ttl metadata 180, got %v", ttl)
	}

	got, err := env.mgr.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessCount != 0 || !got.LastAccessed.Equal(t0) {
		t.Errorf("expected untouched access stats, got count=%d last=%v", got.AccessCount, got.LastAccessed)
	}
}

func TestStoreExplicitPriorityAndTTL(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())

	e := env.mustStore(t, "x", "s1", StoreOptions{
		Priority:   prio(model.PriorityLow),
		Importance: imp(0.5),
		TTLMinutes: 100,
		Tags:       []string{"a"},
		Metadata:   model.Metadata{"custom": "v"},
	})
	if e.Priority != model.PriorityLow {
		t.Errorf("expected explicit priority low, got %s", e.Priority)
	}
	if want := t0.Add(70 * time.Minute); !e.Expires.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, e.Expires)
	}
	if e.Metadata["custom"] != "v" {
		t.Errorf("expected caller metadata kept, got %v", e.Metadata)
	}
}

func TestStoreValidation(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	tests := []struct {
		name    string
		session string
		opts    StoreOptions
	}{
		{"empty session", "", StoreOptions{}},
		{"importance above one", "s1", StoreOptions{Importance: imp(1.5)}},
		{"negative importance", "s1", StoreOptions{Importance: imp(-0.1)}},
		{"confidence above one", "s1", StoreOptions{Confidence: imp(2)}},
		{"negative ttl", "s1", StoreOptions{TTLMinutes: -1}},
		{"unknown priority", "s1", StoreOptions{Priority: prio(model.Priority(9))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.mgr.Store(ctx, "x", tt.session, "", tt.opts)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field == "" {
				t.Errorf("expected *ValidationError with field, got %v", err)
			}
		})
	}

	if n := env.liveCount(t, "s1"); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestStoreRejectsNonFiniteInputBeforeEvicting(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.mustStore(t, "a", "s1", StoreOptions{})
	env.mustStore(t, "b", "s1", StoreOptions{})

	tests := []struct {
		name string
		opts StoreOptions
	}{
		{"NaN importance", StoreOptions{Importance: imp(math.NaN())}},
		{"infinite importance", StoreOptions{Importance: imp(math.Inf(1))}},
		{"NaN confidence", StoreOptions{Confidence: imp(math.NaN())}},
		{"NaN ttl", StoreOptions{TTLMinutes: math.NaN()}},
		{"infinite ttl", StoreOptions{TTLMinutes: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.mgr.Store(ctx, "c", "s1", "", tt.opts)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if n := env.liveCount(t, "s1"); n != 2 {
				t.Errorf("expected no eviction on rejected input, got %d live", n)
			}
		})
	}
}

func TestStoreHugeTTLIsClamped(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())

	e := env.mustStore(t, "x", "s1", StoreOptions{TTLMinutes: 1e12})
	if want := t0.Add(240 * time.Minute); !e.Expires.Equal(want) {
		t.Errorf("expected expiry clamped to %v, got %v", want, e.Expires)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	var first *model.Entry
	for i := 0; i < 51; i++ {
		e := env.mustStore(t, fmt.Sprintf("entry %d", i), "s1", StoreOptions{
			Priority:   prio(model.PriorityLow),
			Importance: imp(0.1),
		})
		if i == 0 {
			first = e
		}
		env.clock.Advance(time.Second)
	}

	if n := env.liveCount(t, "s1"); n != 50 {
		t.Errorf("expected 50 live entries, got %d", n)
	}
	if _, err := env.mgr.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected oldest entry evicted, got %v", err)
	}
	if n, _ := env.durable.Count(ctx); n != 0 {
		t.Errorf("expected no promotions, got %d", n)
	}
}

func TestSessionCapPromotesQualifyingVictim(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	a := env.mustStore(t, "flagged", "s1", StoreOptions{
		Priority: prio(model.PriorityLow),
		Metadata: model.Metadata{model.MetaPromotionCandidate: true},
	})
	env.mustStore(t, "b", "s1", StoreOptions{})
	env.mustStore(t, "c", "s1", StoreOptions{})

	if _, err := env.mgr.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected flagged entry removed from working memory, got %v", err)
	}
	mem, err := env.durable.FindBySource(ctx, a.ID)
	if err != nil {
		t.Fatalf("expected flagged entry promoted: %v", err)
	}
	if mem.Content != "flagged" {
		t.Errorf("expected promoted content, got %q", mem.Content)
	}
}

func TestSessionCapSkipsVictimWhosePromotionFails(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	a := env.mustStore(t, "flagged", "s1", StoreOptions{
		Priority: prio(model.PriorityLow),
		Metadata: model.Metadata{model.MetaPromotionCandidate: true},
	})
	b := env.mustStore(t, "plain", "s1", StoreOptions{})

	env.durable.setFail(true)
	env.mustStore(t, "new", "s1", StoreOptions{})

	if _, err := env.mgr.Get(ctx, a.ID); err != nil {
		t.Errorf("expected entry with failed promotion retained, got %v", err)
	}
	if _, err := env.mgr.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected next candidate evicted, got %v", err)
	}
	if n := env.liveCount(t, "s1"); n != 2 {
		t.Errorf("expected cap of 2 held, got %d", n)
	}
}

func TestSessionCapFailsWhenNoVictimCanBeRemoved(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.mustStore(t, "keep", "s1", StoreOptions{Importance: imp(0.95)})
	env.durable.setFail(true)

	if _, err := env.mgr.Store(ctx, "new", "s1", "", StoreOptions{}); err == nil {
		t.Fatal("expected store to fail when capacity cannot be made")
	}
	if n := env.liveCount(t, "s1"); n != 1 {
		t.Errorf("expected session unchanged, got %d live", n)
	}
}

func TestSessionCapHoldsUnderConcurrentStores(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 5
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.mgr.Store(ctx, fmt.Sprintf("c%d", i), "s1", "", StoreOptions{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent store: %v", err)
	}

	if n := env.liveCount(t, "s1"); n != 5 {
		t.Errorf("expected exactly 5 live entries, got %d", n)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	cfg := config.DefaultWorkingMemory()
	cfg.MaxEntriesPerSession = 1
	env := newTestEnv(t, cfg)

	env.mustStore(t, "a", "s1", StoreOptions{})
	env.mustStore(t, "b", "s2", StoreOptions{})

	if env.liveCount(t, "s1") != 1 || env.liveCount(t, "s2") != 1 {
		t.Error("expected one entry per session")
	}
}

func TestRetrieveExcludesExpired(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	env.mustStore(t, "short lived", "s1", StoreOptions{})
	env.clock.Advance(31 * time.Minute)

	got, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected expired entry hidden, got %d", len(got))
	}

	got, err = env.mgr.Retrieve(ctx, "s1", RetrieveOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected expired entry with includeExpired, got %d", len(got))
	}
}

func TestRetrieveOrderAndFilters(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	env.mustStore(t, "low", "s1", StoreOptions{Importance: imp(0.4)})
	env.mustStore(t, "high", "s1", StoreOptions{Importance: imp(0.85)})
	env.mustStore(t, "mid", "s1", StoreOptions{Importance: imp(0.6)})
	if _, err := env.mgr.Store(ctx, "other framework", "s1", "other", StoreOptions{}); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{Framework: "test"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Content != "high" || got[1].Content != "mid" || got[2].Content != "low" {
		t.Errorf("expected importance order, got %q %q %q", got[0].Content, got[1].Content, got[2].Content)
	}

	got, err = env.mgr.Retrieve(ctx, "s1", RetrieveOptions{Limit: 1, Priority: prio(model.PriorityHigh)})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Content != "high" {
		t.Errorf("expected only the high priority entry, got %v", got)
	}

	if _, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{Limit: -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for negative limit, got %v", err)
	}
}

func TestRetrieveTracksAccess(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	e := env.mustStore(t, "x", "s1", StoreOptions{})
	env.clock.Advance(time.Minute)

	got, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got[0].AccessCount != 1 {
		t.Errorf("expected returned entry to reflect the access, got %d", got[0].AccessCount)
	}
	if _, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	stored, err := env.mgr.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", stored.AccessCount)
	}
	if !approx(stored.Importance, 0.7) {
		t.Errorf("expected importance 0.7 after two boosts, got %v", stored.Importance)
	}
	if !stored.LastAccessed.Equal(t0.Add(time.Minute)) {
		t.Errorf("expected last accessed updated, got %v", stored.LastAccessed)
	}
	if stored.Priority != model.PriorityMedium {
		t.Errorf("expected priority unchanged by access, got %s", stored.Priority)
	}
}

func TestImportanceBoostIsCapped(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	e := env.mustStore(t, "x", "s1", StoreOptions{Importance: imp(0.95)})
	for i := 0; i < 3; i++ {
		if _, err := env.mgr.Retrieve(ctx, "s1", RetrieveOptions{}); err != nil {
			t.Fatalf("retrieve: %v", err)
		}
	}

	stored, _ := env.mgr.Get(ctx, e.ID)
	if stored.Importance != 1.0 {
		t.Errorf("expected importance capped at 1.0, got %v", stored.Importance)
	}
}

func TestAccessTrackingFailureDoesNotFailRead(t *testing.T) {
	entries, err := store.NewSQLiteStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer entries.Close()

	clock := newFakeClock()
	m, err := New(failingUpdates{entries}, newFakeDurable(), config.DefaultWorkingMemory(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	ctx := context.Background()
	if _, err := m.Store(ctx, "x", "s1", "", StoreOptions{}); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := m.Retrieve(ctx, "s1", RetrieveOptions{})
	if err != nil {
		t.Fatalf("expected read to succeed despite tracking failure, got %v", err)
	}
	if len(got) != 1 || got[0].AccessCount != 0 {
		t.Errorf("expected the entry with unchanged stats, got %+v", got)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	env.mustStore(t, "Deploy the API on Friday", "s1", StoreOptions{})
	env.mustStore(t, "write tests", "s1", StoreOptions{Tags: []string{"deploy"}})
	env.mustStore(t, "lunch", "s1", StoreOptions{})
	env.mustStore(t, "deploy elsewhere", "s2", StoreOptions{})

	got, err := env.mgr.Search(ctx, "DEPLOY", "s1", "", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 matches in s1, got %d", len(got))
	}
	for _, e := range got {
		if e.AccessCount != 1 {
			t.Errorf("expected search to track access on %s", e.ID)
		}
	}

	if _, err := env.mgr.Search(ctx, "  ", "s1", "", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty query, got %v", err)
	}
}

func TestExtendTTL(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	e := env.mustStore(t, "x", "s1", StoreOptions{})

	got, err := env.mgr.ExtendTTL(ctx, e.ID, 60)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := t0.Add(90 * time.Minute); !got.Expires.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, got.Expires)
	}

	got, err = env.mgr.ExtendTTL(ctx, e.ID, 1000)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := t0.Add(240 * time.Minute); !got.Expires.Equal(want) {
		t.Errorf("expected expiry clamped to %v, got %v", want, got.Expires)
	}

	stored, _ := env.mgr.Get(ctx, e.ID)
	if !stored.Expires.Equal(t0.Add(240 * time.Minute)) {
		t.Errorf("expected persisted expiry, got %v", stored.Expires)
	}
	if n, _ := stored.Metadata.Number(model.MetaTTLExtensions); n != 2 {
		t.Errorf("expected 2 recorded extensions, got %v", n)
	}
}

func TestExtendTTLFromNowWhenExpired(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()

	e := env.mustStore(t, "x", "s1", StoreOptions{})
	env.clock.Advance(40 * time.Minute)

	got, err := env.mgr.ExtendTTL(ctx, e.ID, 10)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := t0.Add(50 * time.Minute); !got.Expires.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, got.Expires)
	}
}

func TestExtendTTLErrors(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()
	e := env.mustStore(t, "x", "s1", StoreOptions{})

	if _, err := env.mgr.ExtendTTL(ctx, e.ID, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for zero minutes, got %v", err)
	}
	if _, err := env.mgr.ExtendTTL(ctx, e.ID, -5); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for negative minutes, got %v", err)
	}
	if _, err := env.mgr.ExtendTTL(ctx, e.ID, math.NaN()); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for NaN minutes, got %v", err)
	}
	if _, err := env.mgr.ExtendTTL(ctx, e.ID, math.Inf(1)); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for infinite minutes, got %v", err)
	}
	if _, err := env.mgr.ExtendTTL(ctx, "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	stored, _ := env.mgr.Get(ctx, e.ID)
	if !stored.Expires.Equal(e.Expires) {
		t.Errorf("expected rejected extensions to leave expiry at %v, got %v", e.Expires, stored.Expires)
	}
}

func TestExtendTTLHugeValueIsClamped(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()
	e := env.mustStore(t, "x", "s1", StoreOptions{})

	got, err := env.mgr.ExtendTTL(ctx, e.ID, 1e12)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := t0.Add(240 * time.Minute); !got.Expires.Equal(want) {
		t.Errorf("expected expiry clamped to %v, got %v", want, got.Expires)
	}
}

func TestSetPriorityAndImportance(t *testing.T) {
	env := newTestEnv(t, config.DefaultWorkingMemory())
	ctx := context.Background()
	e := env.mustStore(t, "x", "s1", StoreOptions{})

	if err := env.mgr.SetPriority(ctx, e.ID, model.PriorityCritical); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	if err := env.mgr.SetImportance(ctx, e.ID, 0.25); err != nil {
		t.Fatalf("set importance: %v", err)
	}

	stored, _ := env.mgr.Get(ctx, e.ID)
	if stored.Priority != model.PriorityCritical || stored.Importance != 0.25 {
		t.Errorf("expected critical/0.25, got %s/%v", stored.Priority, stored.Importance)
	}
	if !stored.Expires.Equal(e.Expires) {
		t.Errorf("expected expiry unchanged, got %v", stored.Expires)
	}

	if err := env.mgr.SetImportance(ctx, e.ID, 2); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := env.mgr.SetPriority(ctx, "missing", model.PriorityLow); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
