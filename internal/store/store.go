// Package store holds the appointment collection the rest of the agent reads from.
//
// The collection is only ever replaced wholesale, one writer at a time. The
// live-update manager merges pushed updates through Update and the REST
// refresher swaps in fresh listings through Reset.
package store

import (
	"sync"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/model"
)

// ChangeBufferSize is the capacity of the Change channel.
const ChangeBufferSize = 1000

// Change describes one replacement of the collection.
type Change struct {
	Revision uint64             // Revision after the replacement
	Size     int                // Collection length after the replacement
	Cause    *model.Appointment // Pushed update that produced it (nil for Reset)
	At       time.Time
}

// Store is a thread-safe ordered appointment collection.
type Store struct {
	mu       sync.RWMutex
	list     []model.Appointment
	revision uint64
	updated  time.Time

	changes chan Change
}

// New creates an empty store.
func New() *Store {
	return NewWithBuffer(ChangeBufferSize)
}

// NewWithBuffer creates an empty store whose change feed holds up to size
// entries before the oldest are dropped.
func NewWithBuffer(size int) *Store {
	if size <= 0 {
		size = ChangeBufferSize
	}
	return &Store{
		changes: make(chan Change, size),
	}
}

// Snapshot returns a copy of the current collection.
func (s *Store) Snapshot() []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Appointment, len(s.list))
	copy(out, s.list)
	return out
}

// Replace swaps in next as the collection. cause is the update that produced it.
func (s *Store) Replace(next []model.Appointment, cause model.Appointment) {
	c := cause
	s.update(&c, func([]model.Appointment) []model.Appointment { return next })
}

// Update merges cause into the collection. merge receives a private copy of
// the current collection and returns its replacement; it runs under the store
// lock, so concurrent Reset calls cannot land between the read and the write.
func (s *Store) Update(cause model.Appointment, merge func(current []model.Appointment) []model.Appointment) {
	c := cause
	s.update(&c, func(current []model.Appointment) []model.Appointment {
		cp := make([]model.Appointment, len(current))
		copy(cp, current)
		return merge(cp)
	})
}

// Reset swaps in a full listing (e.g. from a REST refresh).
func (s *Store) Reset(list []model.Appointment) {
	s.update(nil, func([]model.Appointment) []model.Appointment { return list })
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (model.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.list {
		if a.ID == id {
			return a, true
		}
	}
	return model.Appointment{}, false
}

// Len returns the collection length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Revision returns the number of replacements so far and when the last one happened.
func (s *Store) Revision() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, s.updated
}

// Changes returns the channel of collection replacements.
func (s *Store) Changes() <-chan Change {
	return s.changes
}

func (s *Store) update(cause *model.Appointment, next func([]model.Appointment) []model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	produced := next(s.list)
	owned := make([]model.Appointment, len(produced))
	copy(owned, produced)

	now := time.Now()
	s.list = owned
	s.revision++
	s.updated = now

	s.notifyChange(Change{
		Revision: s.revision,
		Size:     len(owned),
		Cause:    cause,
		At:       now,
	})
}

// notifyChange queues a change without blocking, dropping the oldest entry
// when the feed is full. Callers hold s.mu so changes queue in revision order.
func (s *Store) notifyChange(change Change) {
	select {
	case s.changes <- change:
		return
	default:
	}

	select {
	case <-s.changes:
	default:
	}

	select {
	case s.changes <- change:
	default:
	}
}
