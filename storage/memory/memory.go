// Package memory provides an in-memory implementation of renew.LedgerStore
// and renew.Deduper. It is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// Storage implements renew.LedgerStore and renew.Deduper using in-memory maps
type Storage struct {
	mu     sync.RWMutex
	rows   []entry
	seq    int64
	claims map[string]time.Time
	now    func() time.Time
}

type entry struct {
	event renew.PaymentEvent
	seq   int64
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		claims: make(map[string]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewWithClock creates a storage adapter stamping rows with now.
func NewWithClock(now func() time.Time) *Storage {
	s := New()
	s.now = now
	return s
}

// InsertEvent implements renew.LedgerStore. A zero CreatedAt is stamped
// with the storage clock; a preset one is kept so tests can seed history.
func (s *Storage) InsertEvent(_ context.Context, ev *renew.PaymentEvent) (*renew.PaymentEvent, error) {
	if ev == nil || ev.TransactionKey == "" {
		return nil, fmt.Errorf("invalid payment event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutations
	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.seq++
	s.rows = append(s.rows, entry{event: stored, seq: s.seq})

	out := stored
	return &out, nil
}

// QueryEvents implements renew.LedgerStore
func (s *Storage) QueryEvents(_ context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	s.mu.RLock()
	matched := make([]entry, 0, len(s.rows))
	for i := range s.rows {
		if q.Matches(&s.rows[i].event) {
			matched = append(matched, s.rows[i])
		}
	}
	s.mu.RUnlock()

	// Latest first; insertion order breaks CreatedAt ties
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.event.CreatedAt.Equal(b.event.CreatedAt) {
			return a.event.CreatedAt.After(b.event.CreatedAt)
		}
		return a.seq > b.seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	events := make([]renew.PaymentEvent, len(matched))
	for i := range matched {
		events[i] = matched[i].event
	}
	return events, nil
}

// Claim implements renew.Deduper
func (s *Storage) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.claims[key]; ok && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return false, nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	s.claims[key] = expiresAt
	return true, nil
}

// Release implements renew.Deduper
func (s *Storage) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}

// Len returns the number of ledger rows.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = nil
	s.seq = 0
	s.claims = make(map[string]time.Time)
}
