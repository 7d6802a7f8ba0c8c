// Package longterm provides the durable long-term memory store that receives
// promoted working-memory entries.
package longterm

import (
	"context"
	"errors"

	"github.com/rcliao/working-memory/internal/model"
)

// ErrNotFound is returned when a memory does not exist.
var ErrNotFound = errors.New("memory not found")

// Metadata accompanies content handed to the durable store.
type Metadata struct {
	// SourceID is the working-memory entry id. Storing the same SourceID
	// twice returns the existing memory instead of creating a duplicate.
	SourceID   string
	SessionID  string
	Framework  string
	Importance float64
	Confidence float64
	Tags       []string
	Origin     string
	Extra      model.Metadata
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	SessionID string
	Limit     int
}

// Store is the durable long-term memory collaborator.
type Store interface {
	// StoreMemory persists content and returns the memory id.
	StoreMemory(ctx context.Context, content string, meta Metadata) (string, error)
}

// Reader exposes inspection of stored memories.
type Reader interface {
	Get(ctx context.Context, id string) (*model.Memory, error)
	FindBySource(ctx context.Context, sourceID string) (*model.Memory, error)
	List(ctx context.Context, p ListParams) ([]model.Memory, error)
	Count(ctx context.Context) (int, error)
}
