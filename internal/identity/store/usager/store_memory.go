package usager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"aidantsconnect/internal/identity/models"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps usagers in a map with a unique index on the external
// subject identifier.
type InMemoryStore struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]models.Usager
	bySub map[string]uuid.UUID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		rows:  make(map[uuid.UUID]models.Usager),
		bySub: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, usager *models.Usager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySub[usager.Sub]; ok {
		return fmt.Errorf("usager sub %s: %w", usager.Sub, sentinel.ErrConflict)
	}
	if _, ok := s.rows[usager.ID]; ok {
		return fmt.Errorf("usager %s: %w", usager.ID, sentinel.ErrConflict)
	}
	s.rows[usager.ID] = *usager
	s.bySub[usager.Sub] = usager.ID
	return nil
}

func (s *InMemoryStore) ByID(_ context.Context, id uuid.UUID) (*models.Usager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("usager %s: %w", id, sentinel.ErrNotFound)
	}
	return &u, nil
}

func (s *InMemoryStore) BySub(_ context.Context, sub string) (*models.Usager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySub[sub]
	if !ok {
		return nil, fmt.Errorf("usager sub %s: %w", sub, sentinel.ErrNotFound)
	}
	u := s.rows[id]
	return &u, nil
}

func (s *InMemoryStore) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("usager %s: %w", id, sentinel.ErrNotFound)
	}
	u.Email = email
	s.rows[id] = u
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Usager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Usager, 0, len(s.rows))
	for _, u := range s.rows {
		usager := u
		out = append(out, &usager)
	}
	return out, nil
}
