package workingmem

import (
	"errors"
	"fmt"
	"math"

	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/store"
)

// ErrNotFound is returned when an operation references an entry that does not exist.
var ErrNotFound = store.ErrNotFound

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

var (
	ErrSweepInProgress  = errors.New("sweep already in progress")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// ValidationError reports input rejected before any state was touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParsePriority parses a priority name, reporting unknown names as a ValidationError.
func ParsePriority(s string) (model.Priority, error) {
	p, err := model.ParsePriority(s)
	if err != nil {
		return 0, invalid("priority", "%v", err)
	}
	return p, nil
}

func validatePriority(p model.Priority) error {
	if !p.Valid() {
		return invalid("priority", "unknown priority %d", int(p))
	}
	return nil
}

func validateUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return invalid(field, "must be within [0, 1], got %v", v)
	}
	return nil
}

// validateMinutes rejects non-finite and negative durations, and zero
// unless allowZero is set.
func validateMinutes(field string, v float64, allowZero bool) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number of minutes, got %v", v)
	}
	if v < 0 || (v == 0 && !allowZero) {
		return invalid(field, "must be positive, got %v minutes", v)
	}
	return nil
}

func validateLimit(limit int) error {
	if limit < 0 {
		return invalid("limit", "must be at least 1, got %d", limit)
	}
	return nil
}
