// Package model defines the core working-memory data types.
package model

import (
	"fmt"
	"time"
)

// Priority ranks an entry for eviction. Lower ranks are evicted first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the four known levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority maps a priority name to its level.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q (valid: low, medium, high, critical)", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Entry is a short-lived, session-scoped unit of context.
type Entry struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	SessionID    string    `json:"session_id"`
	Framework    string    `json:"framework"`
	Priority     Priority  `json:"priority"`
	Importance   float64   `json:"importance"`
	Confidence   float64   `json:"confidence"`
	Created      time.Time `json:"created"`
	Expires      time.Time `json:"expires"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	Tags         []string  `json:"tags,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// Expired reports whether the entry's expiry lies strictly before now.
func (e *Entry) Expired(now time.Time) bool {
	return e.Expires.Before(now)
}

// Age is the time elapsed since creation.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Created)
}
