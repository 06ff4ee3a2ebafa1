package journal_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aidantsconnect/internal/journal"
	"aidantsconnect/internal/journal/store"
	dErrors "aidantsconnect/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	svc   *journal.Service
	store *store.InMemoryStore
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.svc = journal.New(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const initiator = "Thierry Martin - MAIRIE - thierry@mairie.fr"

func stamp() journal.IdentityStamp {
	return journal.IdentityStamp{Name: "Joséphine ST-PIERRE", ID: uuid.New(), Email: "jo@exemple.fr"}
}

func (s *ServiceSuite) TestRequiresInitiator() {
	_, err := s.svc.LogConnection(context.Background(), "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestConnectionThenLastActionTime() {
	ctx := context.Background()
	entry, err := s.svc.LogConnection(ctx, initiator)
	s.Require().NoError(err)
	s.NotZero(entry.ID)

	last, err := s.svc.LastActionTime(ctx, initiator)
	s.Require().NoError(err)
	s.Equal(entry.CreationDate, last)

	none, err := s.svc.LastActionTime(ctx, "someone else")
	s.Require().NoError(err)
	s.True(none.IsZero())
}

func (s *ServiceSuite) TestAttestationJoinsDemarches() {
	ctx := context.Background()
	usager := stamp()
	entry, err := s.svc.LogAttestationCreation(ctx, initiator, usager,
		[]string{"papiers", "famille", "transports"}, 366, false, "tok-abc", "deadbeef")
	s.Require().NoError(err)

	s.Equal("papiers,famille,transports", entry.Demarche)
	s.Equal(366, entry.Duree)
	s.Equal(usager.String(), entry.Usager)
	s.Empty(entry.AdditionalInformation)
	s.False(entry.IsRemoteMandat)
}

func (s *ServiceSuite) TestRemoteAttestationCarriesNotice() {
	entry, err := s.svc.LogAttestationCreation(context.Background(), initiator, stamp(),
		[]string{"papiers"}, 110, true, "tok-abc", "deadbeef")
	s.Require().NoError(err)

	s.True(entry.IsRemoteMandat)
	s.Equal(journal.RemoteMandateNotice, entry.AdditionalInformation)
}

func (s *ServiceSuite) TestAutorisationCreationAndCancel() {
	ctx := context.Background()
	rec := journal.AutorisationRecord{
		ID:       uuid.New(),
		Demarche: "logement",
		Duree:    2,
		IsRemote: true,
		Usager:   stamp(),
	}

	created, err := s.svc.LogAutorisationCreation(ctx, initiator, rec)
	s.Require().NoError(err)
	s.Equal(journal.ActionCreateAutorisation, created.Action)
	s.Require().NotNil(created.AutorisationID)
	s.Equal(rec.ID, *created.AutorisationID)
	s.Equal(journal.RemoteMandateNotice, created.AdditionalInformation)

	cancelled, err := s.svc.LogAutorisationCancel(ctx, initiator, rec)
	s.Require().NoError(err)
	s.Equal(journal.ActionCancelAutorisation, cancelled.Action)
	s.Require().NotNil(cancelled.AutorisationID)
	s.Equal(rec.ID, *cancelled.AutorisationID)
}

func (s *ServiceSuite) TestUseAutorisationFindableAsAttestationIsNot() {
	ctx := context.Background()
	_, err := s.svc.LogAutorisationUse(ctx, initiator, stamp(), "papiers", "tok-use", uuid.New())
	s.Require().NoError(err)

	// Only create_attestation entries are attestations.
	found, err := s.svc.AttestationEntry(ctx, initiator, "tok-use")
	s.Require().NoError(err)
	s.Nil(found)
}

func (s *ServiceSuite) TestPersistedEntriesCannotBeResubmitted() {
	ctx := context.Background()
	entry, err := s.svc.LogConnection(ctx, initiator)
	s.Require().NoError(err)

	err = s.store.Append(ctx, entry)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestReportingEntriesLeaveOutStaff() {
	ctx := context.Background()
	svc := journal.New(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		journal.WithStaffOrganisation("BetaGouv"))

	_, err := svc.LogConnection(ctx, "Ann Agent - BetaGouv - ann@beta.gouv.fr")
	s.Require().NoError(err)
	_, err = svc.LogConnection(ctx, initiator)
	s.Require().NoError(err)

	entries, err := svc.ReportingEntries(ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(initiator, entries[0].Initiator)

	// Without a configured staff organisation nothing is excluded.
	all, err := s.svc.ReportingEntries(ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}
