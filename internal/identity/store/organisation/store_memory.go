package organisation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"aidantsconnect/internal/identity/models"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps organisations in a map. Used in tests and when no
// database is configured.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]models.Organisation
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{rows: make(map[uuid.UUID]models.Organisation)}
}

func (s *InMemoryStore) Create(_ context.Context, org *models.Organisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[org.ID]; ok {
		return fmt.Errorf("organisation %s: %w", org.ID, sentinel.ErrConflict)
	}
	s.rows[org.ID] = *org
	return nil
}

func (s *InMemoryStore) ByID(_ context.Context, id uuid.UUID) (*models.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("organisation %s: %w", id, sentinel.ErrNotFound)
	}
	return &org, nil
}

func (s *InMemoryStore) ByName(_ context.Context, name string) (*models.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, org := range s.rows {
		if strings.EqualFold(org.Name, name) {
			o := org
			return &o, nil
		}
	}
	return nil, fmt.Errorf("organisation %q: %w", name, sentinel.ErrNotFound)
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Organisation, 0, len(s.rows))
	for _, org := range s.rows {
		o := org
		out = append(out, &o)
	}
	return out, nil
}

// Delete removes the organisation. Reference checks happen at the service
// boundary for the in-memory case; the database enforces them itself.
func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("organisation %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}
