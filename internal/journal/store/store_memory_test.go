package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aidantsconnect/internal/journal"
	"aidantsconnect/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
}

func (s *MemoryStoreSuite) TestAppendAssignsIDAndTimestamp() {
	ctx := context.Background()
	entry := &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "A - Org - a@org.fr"}

	s.Require().NoError(s.store.Append(ctx, entry))
	s.NotZero(entry.ID)
	s.False(entry.CreationDate.IsZero(), "creation date is storage-assigned")
}

func (s *MemoryStoreSuite) TestAppendRefusesPersistedEntry() {
	ctx := context.Background()
	entry := &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "A - Org - a@org.fr"}
	s.Require().NoError(s.store.Append(ctx, entry))

	entry.Demarche = "papiers"
	err := s.store.Append(ctx, entry)
	s.Require().ErrorIs(err, sentinel.ErrImmutable)

	// The persisted row is untouched by the failed re-append.
	stored, err := s.store.ByInitiator(ctx, entry.Initiator)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal("", stored[0].Demarche)
}

func (s *MemoryStoreSuite) TestReadsReturnCopies() {
	ctx := context.Background()
	entry := &journal.Entry{Action: journal.ActionUseAutorisation, Initiator: "A - Org - a@org.fr", Demarche: "papiers"}
	s.Require().NoError(s.store.Append(ctx, entry))

	first, err := s.store.LastByInitiator(ctx, entry.Initiator)
	s.Require().NoError(err)
	first.Demarche = "mutated"

	second, err := s.store.LastByInitiator(ctx, entry.Initiator)
	s.Require().NoError(err)
	s.Equal("papiers", second.Demarche, "stored rows must not be reachable for mutation")
}

func (s *MemoryStoreSuite) TestLastByInitiator() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "A"}))
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{Action: journal.ActionActivityCheckAidant, Initiator: "A"}))
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "B"}))

	last, err := s.store.LastByInitiator(ctx, "A")
	s.Require().NoError(err)
	s.Equal(journal.ActionActivityCheckAidant, last.Action)

	none, err := s.store.LastByInitiator(ctx, "unknown")
	s.Require().NoError(err)
	s.Nil(none)
}

func (s *MemoryStoreSuite) TestFindAttestation() {
	ctx := context.Background()
	autorisationID := uuid.New()
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{
		Action:         journal.ActionCreateAttestation,
		Initiator:      "A",
		AccessToken:    "tok-1",
		AutorisationID: &autorisationID,
	}))

	found, err := s.store.FindAttestation(ctx, "A", "tok-1")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal("tok-1", found.AccessToken)

	missing, err := s.store.FindAttestation(ctx, "A", "tok-2")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *MemoryStoreSuite) TestExcludingInitiator() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "Ann Agent - BetaGouv - ann@beta.gouv.fr"}))
	s.Require().NoError(s.store.Append(ctx, &journal.Entry{Action: journal.ActionConnectAidant, Initiator: "Thierry Martin - MAIRIE DE HOULBEC - thierry@mairie.fr"}))

	entries, err := s.store.ExcludingInitiator(ctx, " - BetaGouv - ")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Contains(entries[0].Initiator, "MAIRIE DE HOULBEC")

	all, err := s.store.ExcludingInitiator(ctx, "")
	s.Require().NoError(err)
	s.Len(all, 2)
}
