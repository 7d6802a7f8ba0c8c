package workingmem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/working-memory/internal/longterm"
	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
	"github.com/rcliao/working-memory/internal/telemetry"
)

// ProvenanceTag is added to the tags of every promoted memory.
const ProvenanceTag = "promoted_from_working_memory"

// Outcome is what happened to a victim.
type Outcome string

const (
	OutcomePromoted Outcome = "promoted"
	OutcomeDeleted  Outcome = "deleted"
	// OutcomeRetained means the victim is still in working memory because
	// its transfer or removal failed; the next sweep retries it.
	OutcomeRetained Outcome = "retained"
)

// ShouldPromote reports whether e qualifies for the long-term store instead of deletion.
func (m *Manager) ShouldPromote(e *model.Entry) bool {
	return e.AccessCount >= m.cfg.PromotionAccessThreshold ||
		e.Importance >= m.cfg.HighImportanceThreshold ||
		e.Priority == model.PriorityCritical ||
		e.Metadata.PromotionCandidate()
}

// Promote moves an entry to the long-term store regardless of the promotion
// criteria and returns the long-term memory id. Promoting an entry that was
// already promoted returns the existing id.
func (m *Manager) Promote(ctx context.Context, id string) (string, error) {
	e, err := store.Get(ctx, m.entries, id)
	if errors.Is(err, store.ErrNotFound) {
		if mem, ferr := m.findPromoted(ctx, id); ferr == nil {
			return mem.ID, nil
		} else if !errors.Is(ferr, longterm.ErrNotFound) {
			return "", fmt.Errorf("look up promoted %s: %w", id, ferr)
		}
		return "", fmt.Errorf("promote %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("promote %s: %w", id, err)
	}

	memID, err := m.transfer(ctx, e, TriggerManual)
	if err != nil {
		telemetry.Evictions.WithLabelValues(string(TriggerManual), string(OutcomeRetained)).Inc()
		return "", err
	}
	telemetry.Evictions.WithLabelValues(string(TriggerManual), string(OutcomePromoted)).Inc()
	return memID, nil
}

func (m *Manager) findPromoted(ctx context.Context, sourceID string) (*model.Memory, error) {
	r, ok := m.durable.(longterm.Reader)
	if !ok {
		return nil, longterm.ErrNotFound
	}
	return r.FindBySource(ctx, sourceID)
}

// handleVictim promotes e when it qualifies and deletes it otherwise. An
// entry that is already gone counts as handled.
func (m *Manager) handleVictim(ctx context.Context, e *model.Entry, trigger Trigger) (Outcome, error) {
	outcome := OutcomeDeleted
	var err error
	if m.ShouldPromote(e) {
		outcome = OutcomePromoted
		_, err = m.transfer(ctx, e, trigger)
	} else {
		_, err = m.entries.BulkDelete(ctx, victimFilter(e, trigger))
		if err != nil {
			err = fmt.Errorf("delete %s: %w", e.ID, err)
		}
	}

	if err != nil {
		outcome = OutcomeRetained
	}
	telemetry.Evictions.WithLabelValues(string(trigger), string(outcome)).Inc()
	m.logger.Debug("victim handled",
		zap.String("id", e.ID),
		zap.String("session_id", e.SessionID),
		zap.String("trigger", string(trigger)),
		zap.String("outcome", string(outcome)),
		zap.Error(err),
	)
	return outcome, err
}

// transfer stores e in the long-term store and then removes the local copy.
// A failed transfer leaves the entry in place. The long-term store keys on
// the entry id, so retrying after a failed delete does not duplicate it.
func (m *Manager) transfer(ctx context.Context, e *model.Entry, trigger Trigger) (string, error) {
	memID, err := m.durable.StoreMemory(ctx, e.Content, m.promotionMetadata(e))
	if err != nil {
		telemetry.Promotions.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("transfer %s to long-term store: %w", e.ID, err)
	}

	if _, err := m.entries.BulkDelete(ctx, victimFilter(e, trigger)); err != nil {
		telemetry.Promotions.WithLabelValues("failed").Inc()
		return memID, fmt.Errorf("remove promoted %s: %w", e.ID, err)
	}

	telemetry.Promotions.WithLabelValues("succeeded").Inc()
	m.logger.Info("entry promoted",
		zap.String("id", e.ID),
		zap.String("memory_id", memID),
		zap.String("session_id", e.SessionID),
	)
	return memID, nil
}

// victimFilter selects the local copy of e for removal. An expiry victim is
// only removed while its expiry is unchanged, so an entry extended after
// selection survives the sweep.
func victimFilter(e *model.Entry, trigger Trigger) store.Filter {
	f := store.Filter{IDs: []string{e.ID}}
	if trigger == TriggerExpiry {
		f.ExpiresBefore = e.Expires.Add(time.Nanosecond)
	}
	return f
}

func (m *Manager) promotionMetadata(e *model.Entry) longterm.Metadata {
	tags := make([]string, 0, len(e.Tags)+1)
	tags = append(tags, e.Tags...)
	tags = append(tags, ProvenanceTag)

	extra := e.Metadata.Clone()
	if extra == nil {
		extra = model.Metadata{}
	}
	extra["priority"] = e.Priority.String()
	extra["access_count"] = e.AccessCount
	extra["working_memory_created"] = e.Created
	extra["promoted_at"] = m.now()

	return longterm.Metadata{
		SourceID:   e.ID,
		SessionID:  e.SessionID,
		Framework:  e.Framework,
		Importance: math.Min(1.0, e.Importance+m.cfg.PromotionImportanceBoost),
		Confidence: e.Confidence,
		Tags:       tags,
		Origin:     model.OriginWorkingMemory,
		Extra:      extra,
	}
}
