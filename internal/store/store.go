// Package store persists the live session record and the history of finished sessions.
package store

import (
	"context"

	"github.com/joss/clash/internal/domain"
)

// Store is the minimal interface all stores implement.
type Store interface {
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// StateStore holds the single recoverable session record.
type StateStore interface {
	// LoadState returns the persisted session, or ErrNotFound.
	LoadState(ctx context.Context) (*domain.Session, error)
	// SaveState replaces the persisted session.
	SaveState(ctx context.Context, s *domain.Session) error
	// ClearState removes the persisted session.
	ClearState(ctx context.Context) error
}

// HistoryStore keeps finished sessions.
type HistoryStore interface {
	SaveHistory(ctx context.Context, h domain.HistoryEntry) error
	GetHistory(ctx context.Context, id string) (*domain.HistoryEntry, error)
	ListHistory(ctx context.Context, filter Filter) ([]domain.HistoryEntry, error)
	DeleteHistory(ctx context.Context, id string) error
}

// Filter defines query parameters for listing history.
type Filter struct {
	Limit  int               // Maximum results (0 = no limit)
	Offset int               // Skip first N results
	Where  map[string]string // Column equality conditions (mode, left_agent, right_agent, status)
}

// DefaultFilter returns a filter with sensible defaults.
func DefaultFilter() Filter {
	return Filter{Limit: 50}
}

// WithLimit returns a copy of the filter with a new limit.
func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f Filter) WithOffset(n int) Filter {
	f.Offset = n
	return f
}

// WithWhere returns a copy of the filter with an added condition.
func (f Filter) WithWhere(field, value string) Filter {
	where := make(map[string]string, len(f.Where)+1)
	for k, v := range f.Where {
		where[k] = v
	}
	where[field] = value
	f.Where = where
	return f
}
