package workingmem

import (
	"time"

	"github.com/rcliao/working-memory/internal/config"
	"github.com/rcliao/working-memory/internal/model"
)

// criticalImportance is the importance at or above which a derived priority is critical.
const criticalImportance = 0.9

// mediumImportance is the importance at or above which a derived priority is medium.
const mediumImportance = 0.5

var priorityTTLMultiplier = map[model.Priority]float64{
	model.PriorityLow:      0.7,
	model.PriorityMedium:   1.0,
	model.PriorityHigh:     1.5,
	model.PriorityCritical: 3.0,
}

// TTLCalculator maps importance and priority to an expiry offset. It is pure:
// the same inputs and configuration always give the same result.
type TTLCalculator struct {
	cfg config.WorkingMemoryConfig
}

// NewTTLCalculator creates a calculator for the given policy.
func NewTTLCalculator(cfg config.WorkingMemoryConfig) TTLCalculator {
	return TTLCalculator{cfg: cfg}
}

// ComputeTTL returns the TTL in minutes. A non-positive base falls back to
// the configured default. The importance and priority factors compound and
// the result is clamped to [min, max].
func (c TTLCalculator) ComputeTTL(baseMinutes, importance float64, p model.Priority) float64 {
	ttl := baseMinutes
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTLMinutes
	}

	switch {
	case importance >= c.cfg.HighImportanceThreshold:
		ttl *= 2
	case importance < c.cfg.LowImportanceThreshold:
		ttl *= 0.5
	}

	if mult, ok := priorityTTLMultiplier[p]; ok {
		ttl *= mult
	}

	return clamp(ttl, c.cfg.MinTTLMinutes, c.cfg.MaxTTLMinutes)
}

// PriorityFromImportance derives a priority when the caller supplies none.
func (c TTLCalculator) PriorityFromImportance(importance float64) model.Priority {
	switch {
	case importance >= criticalImportance:
		return model.PriorityCritical
	case importance >= c.cfg.HighImportanceThreshold:
		return model.PriorityHigh
	case importance >= mediumImportance:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// MaxTTL is the longest lifetime any entry may have, measured from creation.
func (c TTLCalculator) MaxTTL() time.Duration {
	return minutesToDuration(c.cfg.MaxTTLMinutes)
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
