//go:build integration

package autorisation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	identitymodels "aidantsconnect/internal/identity/models"
	organisationstore "aidantsconnect/internal/identity/store/organisation"
	usagerstore "aidantsconnect/internal/identity/store/usager"
	"aidantsconnect/internal/mandate/models"
	"aidantsconnect/internal/mandate/store/autorisation"
	mandatstore "aidantsconnect/internal/mandate/store/mandat"
	"aidantsconnect/pkg/platform/sentinel"
	"aidantsconnect/pkg/platform/tx"
	"aidantsconnect/pkg/testutil/containers"
)

type PostgresAutorisationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *autorisation.PostgresStore
	mandats  *mandatstore.PostgresStore

	organisationID uuid.UUID
	usagerID       uuid.UUID
}

func TestPostgresAutorisationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAutorisationSuite))
}

func (s *PostgresAutorisationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = autorisation.NewPostgres(s.postgres.DB)
	s.mandats = mandatstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresAutorisationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"autorisations", "mandats", "aidants", "usagers", "organisations"))

	org, err := identitymodels.NewOrganisation(uuid.New(), "MAIRIE DE HOULBEC", 12345678901234, "1 place de la Mairie")
	s.Require().NoError(err)
	s.Require().NoError(organisationstore.NewPostgres(s.postgres.DB).Create(ctx, org))
	s.organisationID = org.ID

	usager, err := identitymodels.NewUsager(uuid.New(), "sub-1", "Jo", "ST-PIERRE", "female",
		time.Date(1969, time.December, 25, 0, 0, 0, 0, time.UTC), "70447", "99100", "jo@exemple.fr", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(usagerstore.NewPostgres(s.postgres.DB).Create(ctx, usager))
	s.usagerID = usager.ID
}

func (s *PostgresAutorisationSuite) newMandat(duree models.DureeKeyword, now time.Time) *models.Mandat {
	mandat, err := models.NewMandat(uuid.New(), s.organisationID, s.usagerID, duree, false, now)
	s.Require().NoError(err)
	s.Require().NoError(s.mandats.Create(context.Background(), mandat))
	return mandat
}

func (s *PostgresAutorisationSuite) create(mandat *models.Mandat, demarche string, now time.Time) (*models.Autorisation, error) {
	a, err := models.NewAutorisation(uuid.New(), mandat, demarche, "renewal-token")
	s.Require().NoError(err)
	err = tx.RunInTx(context.Background(), s.postgres.DB, func(ctx context.Context) error {
		return s.store.CreateIfNoActiveDuplicate(ctx, a, now)
	})
	return a, err
}

func (s *PostgresAutorisationSuite) TestActiveDuplicateRefusedAcrossMandats() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	first := s.newMandat(models.DureeLong, now)

	_, err := s.create(first, "papiers", now)
	s.Require().NoError(err)

	// A second mandat for the same usager and organisation does not help:
	// uniqueness is per (organisation, usager, demarche).
	second := s.newMandat(models.DureeLong, now)
	_, err = s.create(second, "papiers", now)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	_, err = s.create(second, "famille", now)
	s.Require().NoError(err)
}

func (s *PostgresAutorisationSuite) TestRevokedDuplicateAllowed() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	mandat := s.newMandat(models.DureeLong, now)

	a, err := s.create(mandat, "papiers", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.SetRevocationDate(context.Background(), a.ID, now))

	replacement := s.newMandat(models.DureeLong, now)
	_, err = s.create(replacement, "papiers", now)
	s.Require().NoError(err)
}

func (s *PostgresAutorisationSuite) TestStatusBucketsDeriveFromDates() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// SHORT expires after a day; query it two days later and it has lapsed
	// without any write.
	shortMandat := s.newMandat(models.DureeShort, now.AddDate(0, 0, -2))
	_, err := s.create(shortMandat, "transports", now)
	s.Require().NoError(err)

	longMandat := s.newMandat(models.DureeLong, now)
	active, err := s.create(longMandat, "papiers", now)
	s.Require().NoError(err)
	revoked, err := s.create(longMandat, "famille", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.SetRevocationDate(ctx, revoked.ID, now))

	find := func(status autorisation.Status) []uuid.UUID {
		found, err := s.store.Find(ctx, autorisation.Query{
			OrganisationID: s.organisationID,
			UsagerID:       s.usagerID,
			Status:         status,
			Now:            now,
		})
		s.Require().NoError(err)
		ids := make([]uuid.UUID, 0, len(found))
		for _, a := range found {
			ids = append(ids, a.ID)
		}
		return ids
	}

	s.ElementsMatch([]uuid.UUID{active.ID}, find(autorisation.StatusActive))
	s.ElementsMatch([]uuid.UUID{revoked.ID}, find(autorisation.StatusRevoked))
	s.Len(find(autorisation.StatusExpired), 1)
	s.Len(find(autorisation.StatusInactive), 2)
}

func (s *PostgresAutorisationSuite) TestRevocationIsMonotonic() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	mandat := s.newMandat(models.DureeLong, now)
	a, err := s.create(mandat, "papiers", now)
	s.Require().NoError(err)

	s.Require().NoError(s.store.SetRevocationDate(ctx, a.ID, now))
	err = s.store.SetRevocationDate(ctx, a.ID, now.Add(time.Hour))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	got, err := s.store.ByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.RevocationDate)
	s.WithinDuration(now, *got.RevocationDate, time.Millisecond)
}
