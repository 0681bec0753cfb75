// Package journal records tool invocations made through the tools provider.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("journal entry not found")

// Source tells where a tool ran.
type Source string

const (
	SourceLocal Source = "local"
	SourceMCP   Source = "mcp"
)

// Entry is one tool invocation.
type Entry struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id,omitempty"`
	Tool         string          `json:"tool"`
	Source       Source          `json:"source"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Success      bool            `json:"success"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Output       string          `json:"output,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Tool      string
	SessionID string
	Since     time.Time
	// Limit caps the number of entries returned, newest first. Zero means no limit.
	Limit int
}

func (f Filter) matches(e Entry) bool {
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// Recorder stores journal entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Close() error
}
