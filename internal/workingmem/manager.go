// Package workingmem implements the session-scoped working-memory cache: a
// bounded, time-decaying store of short-lived context with per-session
// capacity enforcement, promotion of valuable entries to the long-term
// store, and a background reclamation loop.
package workingmem

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/longterm"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
	"github.com/rcliao/working-memory/internal/telemetry"
)

const (
	defaultImportance = 0.5
	defaultConfidence = 1.0
	defaultLimit      = 10
)

// readOrder ranks reads by importance, then recency of use, then recency of creation.
var readOrder = []store.SortKey{
	store.Desc(store.SortImportance),
	store.Desc(store.SortLastAccessed),
	store.Desc(store.SortCreated),
}

// StoreOptions holds optional parameters for Store. Nil pointers take defaults.
type StoreOptions struct {
	// Priority is derived from importance when nil.
	Priority   *model.Priority
	Importance *float64
	Confidence *float64
	Tags       []string
	Metadata   model.Metadata
	// TTLMinutes overrides the configured default TTL as the base of the
	// computation. Zero uses the default.
	TTLMinutes float64
}

// RetrieveOptions holds optional parameters for Retrieve.
type RetrieveOptions struct {
	Framework      string
	Limit          int
	Priority       *model.Priority
	IncludeExpired bool
}

// Manager is the working-memory query surface. All methods are safe for
// concurrent use.
type Manager struct {
	entries store.Store
	durable longterm.Store
	cfg     config.WorkingMemoryConfig
	ttl     TTLCalculator
	policy  *EvictionPolicy
	logger  *zap.Logger
	now     func() time.Time

	sessions  *sessionLocks
	scheduler *Scheduler

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over an entry store and a long-term store.
func New(entries store.Store, durable longterm.Store, cfg config.WorkingMemoryConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("working memory config: %w", err)
	}

	m := &Manager{
		entries:  entries,
		durable:  durable,
		cfg:      cfg,
		ttl:      NewTTLCalculator(cfg),
		policy:   NewEvictionPolicy(entries, cfg),
		logger:   zap.NewNop(),
		now:      time.Now,
		sessions: newSessionLocks(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scheduler = newScheduler(m, cfg.CleanupInterval())

	return m, nil
}

func (m *Manager) newID(t time.Time) string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), m.entropy).String()
}

// Store inserts a new entry for sessionID. When the session is at its limit,
// victims are promoted or deleted first, so the session never holds more
// live entries than the configured maximum.
func (m *Manager) Store(ctx context.Context, content, sessionID, framework string, opts StoreOptions) (*model.Entry, error) {
	if sessionID == "" {
		return nil, invalid("session_id", "must not be empty")
	}
	importance := defaultImportance
	if opts.Importance != nil {
		importance = *opts.Importance
	}
	if err := validateUnit("importance", importance); err != nil {
		return nil, err
	}
	confidence := defaultConfidence
	if opts.Confidence != nil {
		confidence = *opts.Confidence
	}
	if err := validateUnit("confidence", confidence); err != nil {
		return nil, err
	}
	if err := validateMinutes("ttl", opts.TTLMinutes, true); err != nil {
		return nil, err
	}
	priority := m.ttl.PriorityFromImportance(importance)
	if opts.Priority != nil {
		if err := validatePriority(*opts.Priority); err != nil {
			return nil, err
		}
		priority = *opts.Priority
	}

	unlock := m.sessions.lock(sessionID)
	defer unlock()

	now := m.now()
	if err := m.enforceCapacity(ctx, sessionID, now); err != nil {
		return nil, err
	}

	ttl := m.ttl.ComputeTTL(opts.TTLMinutes, importance, priority)
	meta := opts.Metadata.Clone()
	if meta == nil {
		meta = model.Metadata{}
	}
	base := opts.TTLMinutes
	if base <= 0 {
		base = m.cfg.DefaultTTLMinutes
	}
	meta[model.MetaBaseTTLMinutes] = base
	meta[model.MetaTTLMinutes] = ttl

	e := &model.Entry{
		ID:           m.newID(now),
		Content:      content,
		SessionID:    sessionID,
		Framework:    framework,
		Priority:     priority,
		Importance:   importance,
		Confidence:   confidence,
		Created:      now,
		Expires:      now.Add(minutesToDuration(ttl)),
		LastAccessed: now,
		Tags:         append([]string(nil), opts.Tags...),
		Metadata:     meta,
	}
	if err := m.entries.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("store entry: %w", err)
	}

	telemetry.EntriesStored.Inc()
	m.logger.Debug("entry stored",
		zap.String("id", e.ID),
		zap.String("session_id", sessionID),
		zap.String("priority", priority.String()),
		zap.Float64("ttl_minutes", ttl),
	)
	return e, nil
}

// enforceCapacity makes room for one more live entry in the session. A
// victim whose promotion fails stays in place and the next candidate is
// taken instead.
func (m *Manager) enforceCapacity(ctx context.Context, sessionID string, now time.Time) error {
	count, err := m.entries.Count(ctx, store.Filter{SessionID: sessionID, LiveAt: now})
	if err != nil {
		return fmt.Errorf("count session entries: %w", err)
	}
	if count < m.cfg.MaxEntriesPerSession {
		return nil
	}
	needed := count - m.cfg.MaxEntriesPerSession + 1

	candidates, err := m.policy.CapacityCandidates(ctx, sessionID, now)
	if err != nil {
		return fmt.Errorf("select capacity victims: %w", err)
	}

	var lastErr error
	for i := range candidates {
		if needed == 0 {
			break
		}
		if _, err := m.handleVictim(ctx, &candidates[i], TriggerCapacity); err != nil {
			lastErr = err
			m.logger.Warn("capacity victim retained",
				zap.String("id", candidates[i].ID),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			continue
		}
		needed--
	}

	if needed > 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("%d victims short", needed)
		}
		return fmt.Errorf("enforce capacity of session %s: %w", sessionID, lastErr)
	}
	return nil
}

// Retrieve returns entries of a session, most important first, and records
// the access on each returned entry.
func (m *Manager) Retrieve(ctx context.Context, sessionID string, opts RetrieveOptions) ([]model.Entry, error) {
	if sessionID == "" {
		return nil, invalid("session_id", "must not be empty")
	}
	if err := validateLimit(opts.Limit); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultLimit
	}

	f := store.Filter{SessionID: sessionID, Framework: opts.Framework}
	if opts.Priority != nil {
		if err := validatePriority(*opts.Priority); err != nil {
			return nil, err
		}
		f.Priorities = []model.Priority{*opts.Priority}
	}
	if !opts.IncludeExpired {
		f.LiveAt = m.now()
	}

	entries, err := m.entries.Query(ctx, f, readOrder, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	m.trackAccess(ctx, entries)
	return entries, nil
}

// Search returns live entries of a session whose content or tags contain
// the query text, and records the access on each.
func (m *Manager) Search(ctx context.Context, query, sessionID, framework string, limit int) ([]model.Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("query", "must not be empty")
	}
	if sessionID == "" {
		return nil, invalid("session_id", "must not be empty")
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultLimit
	}

	entries, err := m.entries.Query(ctx, store.Filter{
		SessionID: sessionID,
		Framework: framework,
		LiveAt:    m.now(),
		Text:      query,
	}, readOrder, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	m.trackAccess(ctx, entries)
	return entries, nil
}

// Get returns an entry without recording an access.
func (m *Manager) Get(ctx context.Context, id string) (*model.Entry, error) {
	e, err := store.Get(ctx, m.entries, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e, nil
}

// ExtendTTL pushes the expiry of an entry forward by minutes, counted from
// its current expiry or from now if it already expired. The result never
// exceeds created + the maximum TTL.
func (m *Manager) ExtendTTL(ctx context.Context, id string, minutes float64) (*model.Entry, error) {
	if err := validateMinutes("ttl", minutes, false); err != nil {
		return nil, err
	}
	// Bounded so the duration conversion cannot overflow.
	if minutes > m.cfg.MaxTTLMinutes {
		minutes = m.cfg.MaxTTLMinutes
	}

	e, err := store.Get(ctx, m.entries, id)
	if err != nil {
		return nil, fmt.Errorf("extend ttl of %s: %w", id, err)
	}

	now := m.now()
	from := e.Expires
	if from.Before(now) {
		from = now
	}
	expires := from.Add(minutesToDuration(minutes))
	if ceiling := e.Created.Add(m.ttl.MaxTTL()); expires.After(ceiling) {
		expires = ceiling
	}

	meta := e.Metadata.Clone()
	if meta == nil {
		meta = model.Metadata{}
	}
	n, _ := meta.Number(model.MetaTTLExtensions)
	meta[model.MetaTTLExtensions] = n + 1

	updated, err := m.entries.BulkUpdate(ctx, []string{id}, store.Patch{Expires: expires, Metadata: meta})
	if err != nil {
		return nil, fmt.Errorf("extend ttl of %s: %w", id, err)
	}
	if updated == 0 {
		return nil, fmt.Errorf("extend ttl of %s: %w", id, ErrNotFound)
	}

	e.Expires = expires
	e.Metadata = meta
	return e, nil
}

// SetPriority changes the priority of an entry. Decay and access tracking
// never change priority.
func (m *Manager) SetPriority(ctx context.Context, id string, p model.Priority) error {
	if err := validatePriority(p); err != nil {
		return err
	}
	return m.adjust(ctx, id, store.Patch{Priority: &p})
}

// SetImportance replaces the importance of an entry.
func (m *Manager) SetImportance(ctx context.Context, id string, importance float64) error {
	if err := validateUnit("importance", importance); err != nil {
		return err
	}
	return m.adjust(ctx, id, store.Patch{Importance: &importance})
}

func (m *Manager) adjust(ctx context.Context, id string, p store.Patch) error {
	n, err := m.entries.BulkUpdate(ctx, []string{id}, p)
	if err != nil {
		return fmt.Errorf("adjust %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("adjust %s: %w", id, ErrNotFound)
	}
	return nil
}

// Scheduler returns the reclamation loop owned by this manager.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Start launches the reclamation loop.
func (m *Manager) Start(ctx context.Context) error {
	return m.scheduler.Start(ctx)
}

// Shutdown stops the reclamation loop, lets an in-flight sweep finish, and
// runs one final expiry-only sweep.
func (m *Manager) Shutdown(ctx context.Context) error {
	_, err := m.scheduler.Shutdown(ctx)
	return err
}
