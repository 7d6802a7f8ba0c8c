// Package store provides the working-memory entry store interface and SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/rcliao/working-memory/internal/model"
)

// Filter selects entries. All non-zero fields are combined with AND.
type Filter struct {
	IDs        []string
	SessionID  string
	Framework  string
	Priorities []model.Priority

	// LiveAt keeps entries whose expiry is at or after the given time.
	LiveAt time.Time
	// ExpiresBefore keeps entries whose expiry lies strictly before the given time.
	ExpiresBefore time.Time
	CreatedBefore time.Time

	ImportanceBelow   *float64
	ImportanceAtLeast *float64

	// Text matches content or tags, case-insensitively.
	Text string

	// Promotable keeps entries meeting at least one promotion criterion.
	Promotable *PromotionCriteria
}

// PromotionCriteria mirrors the promotion rules so that candidates can be
// selected by the backing collection instead of in memory.
type PromotionCriteria struct {
	MinAccessCount int
	MinImportance  float64
}

// IsZero reports whether the filter would match every entry.
func (f Filter) IsZero() bool {
	return len(f.IDs) == 0 && f.SessionID == "" && f.Framework == "" &&
		len(f.Priorities) == 0 && f.LiveAt.IsZero() && f.ExpiresBefore.IsZero() &&
		f.CreatedBefore.IsZero() && f.ImportanceBelow == nil && f.ImportanceAtLeast == nil &&
		f.Text == "" && f.Promotable == nil
}

// SortField names a sortable entry column.
type SortField string

const (
	SortPriority     SortField = "priority"
	SortImportance   SortField = "importance"
	SortCreated      SortField = "created"
	SortLastAccessed SortField = "last_accessed"
	SortExpires      SortField = "expires"
	SortAccessCount  SortField = "access_count"
)

// SortKey is one component of a compound sort.
type SortKey struct {
	Field SortField
	Desc  bool
}

// Asc and Desc build sort keys.
func Asc(f SortField) SortKey  { return SortKey{Field: f} }
func Desc(f SortField) SortKey { return SortKey{Field: f, Desc: true} }

// Patch describes a bulk update. Zero fields are left unchanged.
type Patch struct {
	// AccessIncrement is added atomically to access_count.
	AccessIncrement int
	// ImportanceBoost is added atomically to importance, capped at 1.0.
	// Ignored when Importance is set.
	ImportanceBoost float64
	Importance      *float64
	Priority        *model.Priority
	LastAccessed    time.Time
	// Expires is raised to created when it would fall before it.
	Expires time.Time
	// Metadata replaces the stored metadata when non-nil.
	Metadata model.Metadata
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.AccessIncrement == 0 && p.ImportanceBoost == 0 && p.Importance == nil &&
		p.Priority == nil && p.LastAccessed.IsZero() && p.Expires.IsZero() && p.Metadata == nil
}

// Aggregate summarizes the entries matched by a filter.
type Aggregate struct {
	Count         int            `json:"count"`
	SessionCounts map[string]int `json:"session_counts"`
	// MeanCreated is zero when Count is zero.
	MeanCreated time.Time `json:"mean_created"`
}

// Store defines the working-memory entry storage interface.
// Every failure of the backing collection is reported as a *StorageError.
type Store interface {
	// Insert adds a new entry. The id must be unique.
	Insert(ctx context.Context, e *model.Entry) error

	// Query returns up to limit entries matching f in the given order.
	// A limit <= 0 returns every match.
	Query(ctx context.Context, f Filter, sort []SortKey, limit int) ([]model.Entry, error)

	// BulkUpdate applies p to the entries with the given ids and returns the
	// number of entries changed. Missing ids are ignored.
	BulkUpdate(ctx context.Context, ids []string, p Patch) (int, error)

	// BulkDelete removes the entries matching f and returns how many were removed.
	// An empty filter is rejected.
	BulkDelete(ctx context.Context, f Filter) (int, error)

	// Count returns the number of entries matching f.
	Count(ctx context.Context, f Filter) (int, error)

	// Aggregate returns per-session counts and the mean creation time of the
	// entries matching f.
	Aggregate(ctx context.Context, f Filter) (*Aggregate, error)

	// Close closes the store.
	Close() error
}

// Get fetches a single entry by id, returning ErrNotFound when absent.
func Get(ctx context.Context, s Store, id string) (*model.Entry, error) {
	entries, err := s.Query(ctx, Filter{IDs: []string{id}}, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// Float returns a pointer to v, for the optional float fields of Filter and Patch.
func Float(v float64) *float64 { return &v }
