// Package store provides the journal persistence backends. Neither backend
// exposes an update or delete operation; the journal is append-only by
// construction, not by convention.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aidantsconnect/internal/journal"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps journal entries in memory for tests and development.
// Entries are stored and returned as copies so no caller can mutate an
// appended row.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []journal.Entry
	nextID  int64
}

// NewInMemory constructs an empty in-memory journal store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

// Append assigns the entry id and creation timestamp and persists a copy.
// An entry that already carries an id is an attempted edit and is refused.
func (s *InMemoryStore) Append(_ context.Context, entry *journal.Entry) error {
	if entry.ID != 0 {
		return fmt.Errorf("journal entry %d already persisted: %w", entry.ID, sentinel.ErrImmutable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID
	entry.CreationDate = time.Now()
	s.nextID++
	s.entries = append(s.entries, *entry)
	return nil
}

// ByInitiator returns all entries written by the initiator, oldest first.
func (s *InMemoryStore) ByInitiator(_ context.Context, initiator string) ([]*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*journal.Entry
	for i := range s.entries {
		if s.entries[i].Initiator == initiator {
			e := s.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

// LastByInitiator returns the most recent entry by the initiator, or nil.
func (s *InMemoryStore) LastByInitiator(_ context.Context, initiator string) (*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Initiator == initiator {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

// FindAttestation returns the latest create_attestation entry matching the
// initiator and access token, or nil.
func (s *InMemoryStore) FindAttestation(_ context.Context, initiator, accessToken string) (*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Action == journal.ActionCreateAttestation && e.Initiator == initiator && e.AccessToken == accessToken {
			return &e, nil
		}
	}
	return nil, nil
}

// ByAction returns all entries with the given action, oldest first.
func (s *InMemoryStore) ByAction(_ context.Context, action journal.Action) ([]*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*journal.Entry
	for i := range s.entries {
		if s.entries[i].Action == action {
			e := s.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

// ExcludingInitiator returns all entries whose initiator does not contain
// the fragment, oldest first. An empty fragment excludes nothing.
func (s *InMemoryStore) ExcludingInitiator(_ context.Context, fragment string) ([]*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*journal.Entry
	for i := range s.entries {
		if fragment != "" && strings.Contains(s.entries[i].Initiator, fragment) {
			continue
		}
		e := s.entries[i]
		out = append(out, &e)
	}
	return out, nil
}
