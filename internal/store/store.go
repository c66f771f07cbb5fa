package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by store operations. Storage failures are always
// returned synchronously to the caller; nothing is queued as if it succeeded.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidTransition = errors.New("store: invalid sync status transition")
)

// Store is the single serialized mutation entry point for the entity tables
// and the sync queue. Both the UI-facing services and the sync orchestrator
// funnel every write through it; bypassing it would break the dedup and
// version invariants.
//
// The clock and id generator are injectable so tests can run deterministic,
// fully isolated instances.
type Store struct {
	db    *DB
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the entity/queue id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New wraps an opened, migrated DB in a serialized Store.
func New(db *DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowMilli() int64 {
	return s.now().UnixMilli()
}

// tableFor maps a queue kind to the entity table holding its sync columns.
func tableFor(kind QueueKind) string {
	switch kind {
	case KindAction:
		return "field_actions"
	case KindMedia:
		return "media_assets"
	case KindLocation:
		return "location_pings"
	}
	return ""
}
