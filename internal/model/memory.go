package model

import "time"

// OriginWorkingMemory tags long-term memories created by promotion.
const OriginWorkingMemory = "working_memory_promotion"

// Memory is a record in the durable long-term store.
type Memory struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id,omitempty"`
	Content    string    `json:"content"`
	SessionID  string    `json:"session_id,omitempty"`
	Framework  string    `json:"framework,omitempty"`
	Importance float64   `json:"importance"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Meta       Metadata  `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
