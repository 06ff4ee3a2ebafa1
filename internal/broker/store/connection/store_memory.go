// Package connection persists broker connections. The records are
// short-lived by construction, which is why the production backend is redis
// with a TTL rather than the database.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"aidantsconnect/internal/broker"
	"aidantsconnect/pkg/platform/sentinel"
)

// InMemoryStore keeps connections in maps indexed the three ways the broker
// looks them up. Expired rows are not reaped; the service checks expiry on
// every read and the process is short-lived in the setups that use this
// store.
type InMemoryStore struct {
	mu            sync.RWMutex
	rows          map[uuid.UUID]broker.Connection
	byState       map[string]uuid.UUID
	byCode        map[string]uuid.UUID
	byAccessToken map[string]uuid.UUID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		rows:          make(map[uuid.UUID]broker.Connection),
		byState:       make(map[string]uuid.UUID),
		byCode:        make(map[string]uuid.UUID),
		byAccessToken: make(map[string]uuid.UUID),
	}
}

// Save inserts or replaces the connection and refreshes all indexes.
func (s *InMemoryStore) Save(_ context.Context, conn *broker.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.rows[conn.ID]; ok {
		delete(s.byState, old.State)
		delete(s.byCode, old.Code)
		delete(s.byAccessToken, old.AccessToken)
	}
	s.rows[conn.ID] = *conn
	s.byState[conn.State] = conn.ID
	if conn.Code != "" {
		s.byCode[conn.Code] = conn.ID
	}
	if conn.AccessToken != "" {
		s.byAccessToken[conn.AccessToken] = conn.ID
	}
	return nil
}

func (s *InMemoryStore) ByState(_ context.Context, state string) (*broker.Connection, error) {
	return s.lookup(s.byState, state, "state")
}

func (s *InMemoryStore) ByCode(_ context.Context, code string) (*broker.Connection, error) {
	return s.lookup(s.byCode, code, "code")
}

func (s *InMemoryStore) ByAccessToken(_ context.Context, token string) (*broker.Connection, error) {
	return s.lookup(s.byAccessToken, token, "access token")
}

func (s *InMemoryStore) lookup(index map[string]uuid.UUID, key, kind string) (*broker.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, fmt.Errorf("connection by %s: %w", kind, sentinel.ErrNotFound)
	}
	conn := s.rows[id]
	return &conn, nil
}
