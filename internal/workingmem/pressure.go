package workingmem

import (
	"context"
	"fmt"

	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
	"github.com/rcliao/working-memory/internal/telemetry"
)

// Action is the pressure monitor's recommendation to the scheduler.
type Action string

const (
	ActionNone              Action = "none"
	ActionPromoteMemories   Action = "promote_memories"
	ActionCleanup           Action = "cleanup"
	ActionAggressiveCleanup Action = "aggressive_cleanup"
)

const (
	aggressiveRatio   = 0.9
	highPriorityShare = 0.3
)

// PressureStats describes capacity use at one instant.
type PressureStats struct {
	TotalLive         int            `json:"total_live"`
	MaxTotalEntries   int            `json:"max_total_entries"`
	PerSessionCounts  map[string]int `json:"per_session_counts"`
	AverageAgeMinutes float64        `json:"average_age_minutes"`
	ExpiredCount      int            `json:"expired_count"`
	HighPriorityCount int            `json:"high_priority_count"`
	PressureRatio     float64        `json:"pressure_ratio"`
	RecommendedAction Action         `json:"recommended_action"`
}

// PressureStats aggregates capacity statistics from the entry store. It has
// no side effects on entries.
func (m *Manager) PressureStats(ctx context.Context) (*PressureStats, error) {
	now := m.now()

	live, err := m.entries.Aggregate(ctx, store.Filter{LiveAt: now})
	if err != nil {
		return nil, fmt.Errorf("aggregate live entries: %w", err)
	}
	expired, err := m.entries.Count(ctx, store.Filter{ExpiresBefore: now})
	if err != nil {
		return nil, fmt.Errorf("count expired entries: %w", err)
	}
	high, err := m.entries.Count(ctx, store.Filter{
		LiveAt:     now,
		Priorities: []model.Priority{model.PriorityHigh, model.PriorityCritical},
	})
	if err != nil {
		return nil, fmt.Errorf("count high priority entries: %w", err)
	}

	st := &PressureStats{
		TotalLive:         live.Count,
		MaxTotalEntries:   m.cfg.MaxTotalEntries,
		PerSessionCounts:  live.SessionCounts,
		ExpiredCount:      expired,
		HighPriorityCount: high,
		PressureRatio:     float64(live.Count) / float64(m.cfg.MaxTotalEntries),
	}
	if live.Count > 0 {
		st.AverageAgeMinutes = now.Sub(live.MeanCreated).Minutes()
	}
	st.RecommendedAction = recommendAction(st.PressureRatio, m.cfg.PressureCleanupThreshold, high, live.Count)

	telemetry.PressureRatio.Set(st.PressureRatio)
	telemetry.LiveEntries.Set(float64(st.TotalLive))

	return st, nil
}

func recommendAction(ratio, threshold float64, highPriority, total int) Action {
	switch {
	case ratio > aggressiveRatio:
		return ActionAggressiveCleanup
	case ratio > threshold:
		return ActionCleanup
	case float64(highPriority) > highPriorityShare*float64(total):
		return ActionPromoteMemories
	default:
		return ActionNone
	}
}
