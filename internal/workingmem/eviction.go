package workingmem

import (
	"context"
	"time"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
)

// Trigger names why a victim was selected.
type Trigger string

const (
	TriggerCapacity      Trigger = "capacity"
	TriggerExpiry        Trigger = "expiry"
	TriggerPressure      Trigger = "pressure"
	TriggerBulkPromotion Trigger = "bulk_promotion"
	TriggerManual        Trigger = "manual"
)

// Pressure cleanup windows. The aggressive window admits medium priority,
// more important and younger entries.
const (
	cleanupMinAge               = time.Hour
	aggressiveMinAge            = 15 * time.Minute
	aggressiveImportanceCeiling = 0.5
)

// capacityOrder evicts lowest priority, then lowest importance, then oldest.
var capacityOrder = []store.SortKey{
	store.Asc(store.SortPriority),
	store.Asc(store.SortImportance),
	store.Asc(store.SortCreated),
}

// EvictionPolicy selects victims for the capacity and sweep triggers.
type EvictionPolicy struct {
	entries store.Store
	cfg     config.WorkingMemoryConfig
}

// NewEvictionPolicy creates a policy over the given entry store.
func NewEvictionPolicy(entries store.Store, cfg config.WorkingMemoryConfig) *EvictionPolicy {
	return &EvictionPolicy{entries: entries, cfg: cfg}
}

// CapacityCandidates returns every live entry of the session in eviction
// order. Callers take victims from the front; later candidates stand in
// for victims whose promotion fails.
func (p *EvictionPolicy) CapacityCandidates(ctx context.Context, sessionID string, now time.Time) ([]model.Entry, error) {
	return p.entries.Query(ctx, store.Filter{SessionID: sessionID, LiveAt: now}, capacityOrder, 0)
}

// Expired returns every entry whose expiry lies before now, oldest expiry first.
func (p *EvictionPolicy) Expired(ctx context.Context, now time.Time) ([]model.Entry, error) {
	return p.entries.Query(ctx, store.Filter{ExpiresBefore: now},
		[]store.SortKey{store.Asc(store.SortExpires)}, 0)
}

// PressureVictims selects up to limit live entries for pressure-driven
// removal, oldest and least important first.
func (p *EvictionPolicy) PressureVictims(ctx context.Context, action Action, now time.Time, limit int) ([]model.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	f := store.Filter{
		LiveAt:          now,
		Priorities:      []model.Priority{model.PriorityLow},
		ImportanceBelow: store.Float(p.cfg.LowImportanceThreshold),
		CreatedBefore:   now.Add(-cleanupMinAge),
	}
	if action == ActionAggressiveCleanup {
		f.Priorities = []model.Priority{model.PriorityLow, model.PriorityMedium}
		f.ImportanceBelow = store.Float(aggressiveImportanceCeiling)
		f.CreatedBefore = now.Add(-aggressiveMinAge)
	}

	return p.entries.Query(ctx, f, []store.SortKey{
		store.Asc(store.SortCreated),
		store.Asc(store.SortImportance),
	}, limit)
}

// PressureBudget is how many entries a sweep should remove: enough to bring
// the live count back to the threshold, capped per sweep.
func (p *EvictionPolicy) PressureBudget(action Action, totalLive int) int {
	target := int(p.cfg.PressureCleanupThreshold * float64(p.cfg.MaxTotalEntries))
	needed := totalLive - target

	limit := p.cfg.MaxSweepEvictions
	if action == ActionAggressiveCleanup {
		limit *= 2
	}
	if needed > limit {
		needed = limit
	}
	if needed < 0 {
		return 0
	}
	return needed
}

// PromotionBatch selects up to limit entries meeting the promotion criteria,
// most valuable first, whether or not they have expired.
func (p *EvictionPolicy) PromotionBatch(ctx context.Context, limit int) ([]model.Entry, error) {
	return p.entries.Query(ctx, store.Filter{Promotable: p.criteria()}, []store.SortKey{
		store.Desc(store.SortImportance),
		store.Desc(store.SortAccessCount),
		store.Asc(store.SortCreated),
	}, limit)
}

func (p *EvictionPolicy) criteria() *store.PromotionCriteria {
	return &store.PromotionCriteria{
		MinAccessCount: p.cfg.PromotionAccessThreshold,
		MinImportance:  p.cfg.HighImportanceThreshold,
	}
}
