package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRecorder keeps entries in process memory.
type InMemoryRecorder struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// NewInMemoryRecorder creates an empty InMemoryRecorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{byID: make(map[string]int)}
}

// Record stores entry, assigning an ID and start time when missing.
func (r *InMemoryRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.Tool == "" {
		return fmt.Errorf("journal entry has no tool name")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[entry.ID]; exists {
		return fmt.Errorf("journal entry %s already exists", entry.ID)
	}
	r.byID[entry.ID] = len(r.entries)
	r.entries = append(r.entries, entry)
	return nil
}

func (r *InMemoryRecorder) Get(ctx context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := r.entries[idx]
	return &e, nil
}

// List returns matching entries, newest first.
func (r *InMemoryRecorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *InMemoryRecorder) Close() error {
	return nil
}
