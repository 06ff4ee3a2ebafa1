package aidant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"aidantsconnect/internal/identity/models"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps aidants in a map, with email uniqueness enforced the
// way the database unique index does.
type InMemoryStore struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]models.Aidant
	byEmail map[string]uuid.UUID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		rows:    make(map[uuid.UUID]models.Aidant),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, aidant *models.Aidant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(aidant.Email)
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("aidant email %s: %w", aidant.Email, sentinel.ErrConflict)
	}
	if _, ok := s.rows[aidant.ID]; ok {
		return fmt.Errorf("aidant %s: %w", aidant.ID, sentinel.ErrConflict)
	}
	s.rows[aidant.ID] = *aidant
	s.byEmail[email] = aidant.ID
	return nil
}

func (s *InMemoryStore) ByID(_ context.Context, id uuid.UUID) (*models.Aidant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("aidant %s: %w", id, sentinel.ErrNotFound)
	}
	return &a, nil
}

func (s *InMemoryStore) ByEmail(_ context.Context, email string) (*models.Aidant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("aidant email %s: %w", email, sentinel.ErrNotFound)
	}
	a := s.rows[id]
	return &a, nil
}

func (s *InMemoryStore) ByOrganisation(_ context.Context, organisationID uuid.UUID) ([]*models.Aidant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Aidant
	for _, a := range s.rows {
		if a.OrganisationID != nil && *a.OrganisationID == organisationID {
			aidant := a
			out = append(out, &aidant)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, aidant *models.Aidant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rows[aidant.ID]
	if !ok {
		return fmt.Errorf("aidant %s: %w", aidant.ID, sentinel.ErrNotFound)
	}
	newEmail := strings.ToLower(aidant.Email)
	oldEmail := strings.ToLower(current.Email)
	if newEmail != oldEmail {
		if _, taken := s.byEmail[newEmail]; taken {
			return fmt.Errorf("aidant email %s: %w", aidant.Email, sentinel.ErrConflict)
		}
		delete(s.byEmail, oldEmail)
		s.byEmail[newEmail] = aidant.ID
	}
	s.rows[aidant.ID] = *aidant
	return nil
}
