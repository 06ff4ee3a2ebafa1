// Package autorisation persists autorisations and answers the derived-state
// queries. Activity is never a column; every query derives it from the
// caller-supplied instant, so a row flips from active to expired with no
// write ever happening.
package autorisation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aidantsconnect/internal/mandate/models"
	"aidantsconnect/pkg/platform/sentinel"
)

// Status selects a derived-state bucket in a Query.
type Status string

const (
	// StatusAny applies no activity filter.
	StatusAny Status = ""
	// StatusActive selects not expired and not revoked.
	StatusActive Status = "active"
	// StatusInactive selects the complement of active.
	StatusInactive Status = "inactive"
	// StatusExpired selects lapsed mandats, revoked or not.
	StatusExpired Status = "expired"
	// StatusRevoked selects revoked but not expired. Expiry supersedes
	// revocation for reporting.
	StatusRevoked Status = "revoked"
)

// Query filters autorisations. Now is required whenever Status is set; the
// derived buckets are meaningless without an instant.
type Query struct {
	Status         Status
	OrganisationID uuid.UUID
	UsagerID       uuid.UUID
	Demarche       string
	Now            time.Time
}

func (q Query) matches(a *models.Autorisation) bool {
	if q.OrganisationID != uuid.Nil && a.Mandat.OrganisationID != q.OrganisationID {
		return false
	}
	if q.UsagerID != uuid.Nil && a.Mandat.UsagerID != q.UsagerID {
		return false
	}
	if q.Demarche != "" && a.Demarche != q.Demarche {
		return false
	}
	switch q.Status {
	case StatusActive:
		return a.IsActive(q.Now)
	case StatusInactive:
		return a.IsInactive(q.Now)
	case StatusExpired:
		return a.IsExpired(q.Now)
	case StatusRevoked:
		return a.IsRevokedReporting(q.Now)
	}
	return true
}

// MandatLookup resolves the owning mandat when reading rows back out.
type MandatLookup interface {
	ByID(ctx context.Context, id uuid.UUID) (*models.Mandat, error)
}

// InMemoryStore keeps autorisations in a map, enforcing active-duplicate
// uniqueness under its own lock the way the database does in a transaction.
type InMemoryStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]models.Autorisation
	mandats MandatLookup
}

func NewInMemory(mandats MandatLookup) *InMemoryStore {
	return &InMemoryStore{
		rows:    make(map[uuid.UUID]models.Autorisation),
		mandats: mandats,
	}
}

// CreateIfNoActiveDuplicate inserts the autorisation unless another active
// one already grants the same demarche for the same organisation and usager
// pair. The check and the insert happen under one lock.
func (s *InMemoryStore) CreateIfNoActiveDuplicate(ctx context.Context, a *models.Autorisation, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range s.rows {
		if row.Demarche != a.Demarche {
			continue
		}
		existing, err := s.resolve(ctx, row, id)
		if err != nil {
			return err
		}
		if existing.Mandat.OrganisationID != a.Mandat.OrganisationID ||
			existing.Mandat.UsagerID != a.Mandat.UsagerID {
			continue
		}
		if existing.IsActive(now) {
			return fmt.Errorf("active autorisation for demarche %q already exists: %w", a.Demarche, sentinel.ErrConflict)
		}
	}

	if _, ok := s.rows[a.ID]; ok {
		return fmt.Errorf("autorisation %s: %w", a.ID, sentinel.ErrConflict)
	}
	stored := *a
	stored.Mandat = nil
	s.rows[a.ID] = stored
	return nil
}

func (s *InMemoryStore) ByID(ctx context.Context, id uuid.UUID) (*models.Autorisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("autorisation %s: %w", id, sentinel.ErrNotFound)
	}
	return s.resolve(ctx, row, id)
}

// Find returns all autorisations matching the query, owning mandats
// populated.
func (s *InMemoryStore) Find(ctx context.Context, q Query) ([]*models.Autorisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Autorisation
	for id, row := range s.rows {
		a, err := s.resolve(ctx, row, id)
		if err != nil {
			return nil, err
		}
		if q.matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// SetRevocationDate records the revocation instant. Monotonic: a second
// revocation is refused.
func (s *InMemoryStore) SetRevocationDate(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("autorisation %s: %w", id, sentinel.ErrNotFound)
	}
	if row.RevocationDate != nil {
		return fmt.Errorf("autorisation %s already revoked: %w", id, sentinel.ErrConflict)
	}
	revokedAt := now
	row.RevocationDate = &revokedAt
	s.rows[id] = row
	return nil
}

func (s *InMemoryStore) resolve(ctx context.Context, row models.Autorisation, id uuid.UUID) (*models.Autorisation, error) {
	mandat, err := s.mandats.ByID(ctx, row.MandatID)
	if err != nil {
		return nil, fmt.Errorf("autorisation %s mandat: %w", id, err)
	}
	a := row
	a.Mandat = mandat
	return &a, nil
}
