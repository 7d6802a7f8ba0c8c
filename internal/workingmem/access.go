package workingmem

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
	"github.com/rcliao/working-memory/internal/telemetry"
)

// trackAccess records a read of entries. Failures are logged and never
// reach the reader.
func (m *Manager) trackAccess(ctx context.Context, entries []model.Entry) {
	if len(entries) == 0 {
		return
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	now := m.now()
	_, err := m.entries.BulkUpdate(ctx, ids, store.Patch{
		AccessIncrement: 1,
		ImportanceBoost: m.cfg.ImportanceBoostOnAccess,
		LastAccessed:    now,
	})
	if err != nil {
		telemetry.AccessTrackingFailures.Inc()
		m.logger.Warn("access tracking failed", zap.Int("entries", len(ids)), zap.Error(err))
		return
	}

	for i := range entries {
		entries[i].AccessCount++
		entries[i].Importance = math.Min(1.0, entries[i].Importance+m.cfg.ImportanceBoostOnAccess)
		entries[i].LastAccessed = now
	}
}
