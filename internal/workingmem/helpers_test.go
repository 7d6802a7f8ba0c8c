package workingmem

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/longterm"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDurableDown = errors.New("durable store unavailable")

// fakeDurable is an in-memory long-term store keyed by source id.
type fakeDurable struct {
	mu       sync.Mutex
	fail     bool
	bySource map[string]*model.Memory
	byID     map[string]*model.Memory
	seq      int

	// block, when set, makes StoreMemory signal entered and wait for release.
	block   bool
	entered chan struct{}
	release chan struct{}
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		bySource: make(map[string]*model.Memory),
		byID:     make(map[string]*model.Memory),
	}
}

func (d *fakeDurable) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDurable) StoreMemory(ctx context.Context, content string, meta longterm.Metadata) (string, error) {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block {
		d.entered <- struct{}{}
		<-d.release
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return "", errDurableDown
	}
	if mem, ok := d.bySource[meta.SourceID]; ok && meta.SourceID != "" {
		return mem.ID, nil
	}
	d.seq++
	mem := &model.Memory{
		ID:         fmt.Sprintf("mem-%d", d.seq),
		SourceID:   meta.SourceID,
		Content:    content,
		SessionID:  meta.SessionID,
		Framework:  meta.Framework,
		Importance: meta.Importance,
		Confidence: meta.Confidence,
		Tags:       meta.Tags,
		Origin:     meta.Origin,
		Meta:       meta.Extra,
	}
	d.byID[mem.ID] = mem
	if meta.SourceID != "" {
		d.bySource[meta.SourceID] = mem
	}
	return mem.ID, nil
}

func (d *fakeDurable) Get(ctx context.Context, id string) (*model.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.byID[id]; ok {
		return mem, nil
	}
	return nil, longterm.ErrNotFound
}

func (d *fakeDurable) FindBySource(ctx context.Context, sourceID string) (*model.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.bySource[sourceID]; ok {
		return mem, nil
	}
	return nil, longterm.ErrNotFound
}

func (d *fakeDurable) List(ctx context.Context, p longterm.ListParams) ([]model.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Memory
	for _, mem := range d.byID {
		if p.SessionID == "" || mem.SessionID == p.SessionID {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (d *fakeDurable) Count(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID), nil
}

// failingUpdates rejects every BulkUpdate.
type failingUpdates struct {
	store.Store
}

func (failingUpdates) BulkUpdate(ctx context.Context, ids []string, p store.Patch) (int, error) {
	return 0, &store.StorageError{Op: "bulk update", Err: errors.New("disk full")}
}

type testEnv struct {
	mgr     *Manager
	entries *store.SQLiteStore
	durable *fakeDurable
	clock   *fakeClock
}

func newTestEnv(t *testing.T, cfg config.WorkingMemoryConfig) *testEnv {
	t.Helper()
	entries, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { entries.Close() })

	env := &testEnv{entries: entries, durable: newFakeDurable(), clock: newFakeClock()}
	env.mgr, err = New(entries, env.durable, cfg, WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	return env
}

func (env *testEnv) mustStore(t *testing.T, content, session string, opts StoreOptions) *model.Entry {
	t.Helper()
	e, err := env.mgr.Store(context.Background(), content, session, "test", opts)
	if err != nil {
		t.Fatalf("store %q: %v", content, err)
	}
	return e
}

func (env *testEnv) liveCount(t *testing.T, session string) int {
	t.Helper()
	n, err := env.entries.Count(context.Background(), store.Filter{SessionID: session, LiveAt: env.clock.Now()})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func imp(v float64) *float64 { return &v }

func prio(p model.Priority) *model.Priority { return &p }

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
