package mandate_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aidantsconnect/internal/identity"
	identitymodels "aidantsconnect/internal/identity/models"
	aidantstore "aidantsconnect/internal/identity/store/aidant"
	organisationstore "aidantsconnect/internal/identity/store/organisation"
	usagerstore "aidantsconnect/internal/identity/store/usager"
	"aidantsconnect/internal/journal"
	journalstore "aidantsconnect/internal/journal/store"
	"aidantsconnect/internal/mandate"
	"aidantsconnect/internal/mandate/models"
	autorisationstore "aidantsconnect/internal/mandate/store/autorisation"
	mandatstore "aidantsconnect/internal/mandate/store/mandat"
	dErrors "aidantsconnect/pkg/domain-errors"
)

type stubSessions struct{}

func (stubSessions) IssueSessionToken(aidantID uuid.UUID, email string, _ time.Time) (string, error) {
	return "session-" + aidantID.String(), nil
}

type ServiceSuite struct {
	suite.Suite
	svc          *mandate.Service
	identitySvc  *identity.Service
	journalStore *journalstore.InMemoryStore
	mandats      *mandatstore.InMemoryStore
	now          time.Time

	aidant *identitymodels.Aidant
	usager *identitymodels.Usager
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2020, 5, 12, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	s.journalStore = journalstore.NewInMemory()
	journalSvc := journal.New(s.journalStore, logger)
	s.mandats = mandatstore.NewInMemory()

	s.identitySvc = identity.New(
		organisationstore.NewInMemory(),
		aidantstore.NewInMemory(),
		usagerstore.NewInMemory(),
		s.mandats,
		journalSvc,
		stubSessions{},
		logger,
		identity.WithClock(clock),
	)
	s.svc = mandate.New(
		s.mandats,
		autorisationstore.NewInMemory(s.mandats),
		s.identitySvc,
		journalSvc,
		"test-salt",
		logger,
		mandate.WithClock(clock),
	)

	ctx := context.Background()
	org, err := s.identitySvc.RegisterOrganisation(ctx, "MAIRIE DE HOULBEC", 123456789000011, "")
	s.Require().NoError(err)
	s.aidant, err = s.identitySvc.RegisterAidant(ctx, "thierry@mairie.fr", "Thierry", "Martin", "Mediateur", "motdepasse", &org.ID)
	s.Require().NoError(err)

	candidate, err := identitymodels.NewUsager(uuid.New(), "sub-abc", "Joséphine", "ST-PIERRE", identitymodels.GenderFemale,
		time.Date(1969, 12, 15, 0, 0, 0, 0, time.UTC), "70447", "", "", s.now)
	s.Require().NoError(err)
	s.usager, err = s.identitySvc.FindOrCreateUsager(ctx, s.aidant, candidate)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestCreateMandatJournalsEverything() {
	ctx := context.Background()
	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID,
		[]string{"papiers", "famille", " papiers ", ""}, models.DureeLong, false)
	s.Require().NoError(err)

	s.Len(result.Autorisations, 2, "demarches are deduplicated and trimmed")
	s.NotEmpty(result.AccessToken)
	s.NotEmpty(result.AttestationHash)
	s.Equal(366, result.Mandat.DurationForHumans())

	creations, err := s.journalStore.ByAction(ctx, journal.ActionCreateAutorisation)
	s.Require().NoError(err)
	s.Len(creations, 2)

	attestations, err := s.journalStore.ByAction(ctx, journal.ActionCreateAttestation)
	s.Require().NoError(err)
	s.Require().Len(attestations, 1)
	s.Equal("papiers,famille", attestations[0].Demarche)
	s.Equal(result.AccessToken, attestations[0].AccessToken)
	s.Equal(result.AttestationHash, attestations[0].AttestationHash)
	s.Equal("Thierry Martin - MAIRIE DE HOULBEC - thierry@mairie.fr", attestations[0].Initiator)
}

func (s *ServiceSuite) TestRemoteMandatStampsNotice() {
	ctx := context.Background()
	_, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeEUS0320, true)
	s.Require().NoError(err)

	attestations, err := s.journalStore.ByAction(ctx, journal.ActionCreateAttestation)
	s.Require().NoError(err)
	s.Require().Len(attestations, 1)
	s.True(attestations[0].IsRemoteMandat)
	s.Equal(journal.RemoteMandateNotice, attestations[0].AdditionalInformation)
}

func (s *ServiceSuite) TestCreateMandatRejectsEmptyDemarches() {
	_, err := s.svc.CreateMandat(context.Background(), s.aidant.ID, s.usager.ID,
		[]string{" ", ""}, models.DureeShort, false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCreateMandatRejectsUnknownDuree() {
	_, err := s.svc.CreateMandat(context.Background(), s.aidant.ID, s.usager.ID,
		[]string{"papiers"}, models.DureeKeyword("FOREVER"), false)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestNewMandatSupersedesActiveAutorisation() {
	ctx := context.Background()
	first, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeShort, false)
	s.Require().NoError(err)

	second, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeLong, false)
	s.Require().NoError(err)

	valid, err := s.svc.ValidAutorisation(ctx, *s.aidant.OrganisationID, s.usager.ID, "papiers")
	s.Require().NoError(err)
	s.Require().NotNil(valid)
	s.Equal(second.Autorisations[0].ID, valid.ID, "the new grant replaced the old one")

	cancels, err := s.journalStore.ByAction(ctx, journal.ActionCancelAutorisation)
	s.Require().NoError(err)
	s.Require().Len(cancels, 1)
	s.Equal(first.Autorisations[0].ID, *cancels[0].AutorisationID)
}

func (s *ServiceSuite) TestValidAutorisationNilWhenNoneActive() {
	ctx := context.Background()
	valid, err := s.svc.ValidAutorisation(ctx, *s.aidant.OrganisationID, s.usager.ID, "papiers")
	s.Require().NoError(err)
	s.Nil(valid)

	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeShort, false)
	s.Require().NoError(err)

	// The grant lapses with the mandat; nothing is written to make it so.
	s.now = s.now.AddDate(0, 0, 2)
	valid, err = s.svc.ValidAutorisation(ctx, *s.aidant.OrganisationID, s.usager.ID, "papiers")
	s.Require().NoError(err)
	s.Nil(valid)
	_ = result
}

func (s *ServiceSuite) TestRevokeAutorisation() {
	ctx := context.Background()
	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeLong, false)
	s.Require().NoError(err)

	revoked, err := s.svc.RevokeAutorisation(ctx, s.aidant.ID, result.Autorisations[0].ID)
	s.Require().NoError(err)
	s.Require().NotNil(revoked.RevocationDate)

	valid, err := s.svc.ValidAutorisation(ctx, *s.aidant.OrganisationID, s.usager.ID, "papiers")
	s.Require().NoError(err)
	s.Nil(valid)

	cancels, err := s.journalStore.ByAction(ctx, journal.ActionCancelAutorisation)
	s.Require().NoError(err)
	s.Len(cancels, 1)

	_, err = s.svc.RevokeAutorisation(ctx, s.aidant.ID, result.Autorisations[0].ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRevokeAutorisationForbiddenAcrossOrganisations() {
	ctx := context.Background()
	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeLong, false)
	s.Require().NoError(err)

	otherOrg, err := s.identitySvc.RegisterOrganisation(ctx, "CCAS", 987654321000012, "")
	s.Require().NoError(err)
	outsider, err := s.identitySvc.RegisterAidant(ctx, "karine@ccas.fr", "Karine", "Dupont", "Mediateur", "motdepasse", &otherOrg.ID)
	s.Require().NoError(err)

	_, err = s.svc.RevokeAutorisation(ctx, outsider.ID, result.Autorisations[0].ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestUsagersVisibleByIsOrganisationWide() {
	ctx := context.Background()
	_, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeLong, false)
	s.Require().NoError(err)

	// A colleague in the same organisation sees the usager too.
	colleague, err := s.identitySvc.RegisterAidant(ctx, "colleague@mairie.fr", "Anne", "Bretin", "Mediateur", "motdepasse", s.aidant.OrganisationID)
	s.Require().NoError(err)
	visible, err := s.svc.UsagersVisibleBy(ctx, colleague.ID)
	s.Require().NoError(err)
	s.Require().Len(visible, 1)
	s.Equal(s.usager.ID, visible[0].ID)

	// An aidant of another organisation sees nothing.
	otherOrg, err := s.identitySvc.RegisterOrganisation(ctx, "CCAS", 987654321000012, "")
	s.Require().NoError(err)
	outsider, err := s.identitySvc.RegisterAidant(ctx, "karine@ccas.fr", "Karine", "Dupont", "Mediateur", "motdepasse", &otherOrg.ID)
	s.Require().NoError(err)
	visible, err = s.svc.UsagersVisibleBy(ctx, outsider.ID)
	s.Require().NoError(err)
	s.Empty(visible)
}

func (s *ServiceSuite) TestAutorisationsForUsagerStatusFilter() {
	ctx := context.Background()
	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers", "famille"}, models.DureeLong, false)
	s.Require().NoError(err)
	_, err = s.svc.RevokeAutorisation(ctx, s.aidant.ID, result.Autorisations[0].ID)
	s.Require().NoError(err)

	active, err := s.svc.AutorisationsForUsager(ctx, s.aidant.ID, s.usager.ID, autorisationstore.StatusActive)
	s.Require().NoError(err)
	s.Len(active, 1)

	revoked, err := s.svc.AutorisationsForUsager(ctx, s.aidant.ID, s.usager.ID, autorisationstore.StatusRevoked)
	s.Require().NoError(err)
	s.Len(revoked, 1)

	all, err := s.svc.AutorisationsForUsager(ctx, s.aidant.ID, s.usager.ID, autorisationstore.StatusAny)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *ServiceSuite) TestUsagersWithActiveAutorisation() {
	ctx := context.Background()
	// SHORT lapses after a day; the usager stays visible but is no longer
	// actionable once the clock moves past expiry.
	_, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"papiers"}, models.DureeShort, false)
	s.Require().NoError(err)

	actionable, err := s.svc.UsagersWithActiveAutorisation(ctx, s.aidant.ID)
	s.Require().NoError(err)
	s.Require().Len(actionable, 1)

	s.now = s.now.AddDate(0, 0, 2)

	actionable, err = s.svc.UsagersWithActiveAutorisation(ctx, s.aidant.ID)
	s.Require().NoError(err)
	s.Empty(actionable)

	visible, err := s.svc.UsagersVisibleBy(ctx, s.aidant.ID)
	s.Require().NoError(err)
	s.Len(visible, 1)
}

func (s *ServiceSuite) TestActiveDemarchesForUsager() {
	ctx := context.Background()
	result, err := s.svc.CreateMandat(ctx, s.aidant.ID, s.usager.ID, []string{"transports", "papiers", "famille"}, models.DureeLong, false)
	s.Require().NoError(err)

	var papiers *models.Autorisation
	for _, a := range result.Autorisations {
		if a.Demarche == "papiers" {
			papiers = a
		}
	}
	s.Require().NotNil(papiers)
	_, err = s.svc.RevokeAutorisation(ctx, s.aidant.ID, papiers.ID)
	s.Require().NoError(err)

	demarches, err := s.svc.ActiveDemarchesForUsager(ctx, s.aidant.ID, s.usager.ID)
	s.Require().NoError(err)
	s.Equal([]string{"famille", "transports"}, demarches)
}
