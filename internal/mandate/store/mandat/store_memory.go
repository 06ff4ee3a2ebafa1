package mandat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"aidantsconnect/internal/mandate/models"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps mandats in a map.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]models.Mandat
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{rows: make(map[uuid.UUID]models.Mandat)}
}

func (s *InMemoryStore) Create(_ context.Context, mandat *models.Mandat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[mandat.ID]; ok {
		return fmt.Errorf("mandat %s: %w", mandat.ID, sentinel.ErrConflict)
	}
	s.rows[mandat.ID] = *mandat
	return nil
}

func (s *InMemoryStore) ByID(_ context.Context, id uuid.UUID) (*models.Mandat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("mandat %s: %w", id, sentinel.ErrNotFound)
	}
	return &m, nil
}

func (s *InMemoryStore) ByOrganisation(_ context.Context, organisationID uuid.UUID) ([]*models.Mandat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Mandat
	for _, m := range s.rows {
		if m.OrganisationID == organisationID {
			mandat := m
			out = append(out, &mandat)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountByOrganisation(_ context.Context, organisationID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.rows {
		if m.OrganisationID == organisationID {
			count++
		}
	}
	return count, nil
}
