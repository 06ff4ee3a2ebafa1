// Package identity manages the reference records of the system and aidant
// authentication. Mandate lifecycle is deliberately elsewhere; this package
// only answers "who is who" and keeps the journal informed of identity
// events.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aidantsconnect/internal/identity/models"
	"aidantsconnect/internal/journal"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/sentinel"
	"aidantsconnect/pkg/secrets"
)

// OrganisationStore persists organisations.
type OrganisationStore interface {
	Create(ctx context.Context, org *models.Organisation) error
	ByID(ctx context.Context, id uuid.UUID) (*models.Organisation, error)
	ByName(ctx context.Context, name string) (*models.Organisation, error)
	List(ctx context.Context) ([]*models.Organisation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AidantStore persists aidants.
type AidantStore interface {
	Create(ctx context.Context, aidant *models.Aidant) error
	ByID(ctx context.Context, id uuid.UUID) (*models.Aidant, error)
	ByEmail(ctx context.Context, email string) (*models.Aidant, error)
	ByOrganisation(ctx context.Context, organisationID uuid.UUID) ([]*models.Aidant, error)
	Update(ctx context.Context, aidant *models.Aidant) error
}

// UsagerStore persists usagers.
type UsagerStore interface {
	Create(ctx context.Context, usager *models.Usager) error
	ByID(ctx context.Context, id uuid.UUID) (*models.Usager, error)
	BySub(ctx context.Context, sub string) (*models.Usager, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	List(ctx context.Context) ([]*models.Usager, error)
}

// MandatCounter reports how many mandates reference an organisation. Used to
// refuse organisation deletion while mandates remain; the database enforces
// the same rule with RESTRICT foreign keys.
type MandatCounter interface {
	CountByOrganisation(ctx context.Context, organisationID uuid.UUID) (int, error)
}

// SessionIssuer signs session tokens for authenticated aidants.
type SessionIssuer interface {
	IssueSessionToken(aidantID uuid.UUID, email string, now time.Time) (string, error)
}

type Service struct {
	organisations OrganisationStore
	aidants       AidantStore
	usagers       UsagerStore
	mandats       MandatCounter
	journal       *journal.Service
	sessions      SessionIssuer
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	organisations OrganisationStore,
	aidants AidantStore,
	usagers UsagerStore,
	mandats MandatCounter,
	journalSvc *journal.Service,
	sessions SessionIssuer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		organisations: organisations,
		aidants:       aidants,
		usagers:       usagers,
		mandats:       mandats,
		journal:       journalSvc,
		sessions:      sessions,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOrganisation creates an accredited organisation.
func (s *Service) RegisterOrganisation(ctx context.Context, name string, siret int64, address string) (*models.Organisation, error) {
	org, err := models.NewOrganisation(uuid.New(), name, siret, address)
	if err != nil {
		return nil, err
	}
	if err := s.organisations.Create(ctx, org); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "organisation already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create organisation")
	}
	s.logger.InfoContext(ctx, "organisation registered", "organisation_id", org.ID, "name", org.Name)
	return org, nil
}

// DeleteOrganisation removes an organisation unless aidants or mandates
// still reference it.
func (s *Service) DeleteOrganisation(ctx context.Context, id uuid.UUID) error {
	members, err := s.aidants.ByOrganisation(ctx, id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list organisation aidants")
	}
	if len(members) > 0 {
		return dErrors.New(dErrors.CodeConflict, "organisation still has aidants")
	}
	if s.mandats != nil {
		count, err := s.mandats.CountByOrganisation(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count organisation mandats")
		}
		if count > 0 {
			return dErrors.New(dErrors.CodeConflict, "organisation still has mandats")
		}
	}
	if err := s.organisations.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "organisation not found")
		case errors.Is(err, sentinel.ErrRestricted):
			return dErrors.New(dErrors.CodeConflict, "organisation is still referenced")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete organisation")
	}
	return nil
}

// RegisterAidant creates an aidant with a hashed password.
func (s *Service) RegisterAidant(ctx context.Context, email, firstName, lastName, profession, password string, organisationID *uuid.UUID) (*models.Aidant, error) {
	if password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if organisationID != nil {
		if _, err := s.organisations.ByID(ctx, *organisationID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "organisation not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
		}
	}
	hash, err := secrets.HashPassword(password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	aidant, err := models.NewAidant(uuid.New(), email, firstName, lastName, profession, hash, organisationID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.aidants.Create(ctx, aidant); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an aidant with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create aidant")
	}
	s.logger.InfoContext(ctx, "aidant registered", "aidant_id", aidant.ID, "email", aidant.Email)
	return aidant, nil
}

// Authenticate verifies the aidant credentials, journals the connection, and
// returns a signed session token. A wrong email and a wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, *models.Aidant, error) {
	aidant, err := s.aidants.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load aidant")
	}
	if !secrets.VerifyPassword(aidant.PasswordHash, password) {
		return "", nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	initiator, err := s.Initiator(ctx, aidant)
	if err != nil {
		return "", nil, err
	}
	if _, err := s.journal.LogConnection(ctx, initiator); err != nil {
		return "", nil, err
	}

	token, err := s.sessions.IssueSessionToken(aidant.ID, aidant.Email, s.now())
	if err != nil {
		return "", nil, err
	}
	return token, aidant, nil
}

// ActivityCheck journals an aidant re-confirming their presence mid-session.
func (s *Service) ActivityCheck(ctx context.Context, aidantID uuid.UUID) error {
	aidant, err := s.AidantByID(ctx, aidantID)
	if err != nil {
		return err
	}
	initiator, err := s.Initiator(ctx, aidant)
	if err != nil {
		return err
	}
	_, err = s.journal.LogActivityCheck(ctx, initiator)
	return err
}

// AidantByID loads an aidant, translating store errors.
func (s *Service) AidantByID(ctx context.Context, id uuid.UUID) (*models.Aidant, error) {
	aidant, err := s.aidants.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "aidant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load aidant")
	}
	return aidant, nil
}

// Initiator renders the denormalized initiator string journal entries carry
// for this aidant.
func (s *Service) Initiator(ctx context.Context, aidant *models.Aidant) (string, error) {
	organisationName := ""
	if aidant.OrganisationID != nil {
		org, err := s.organisations.ByID(ctx, *aidant.OrganisationID)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
			}
		} else {
			organisationName = org.Name
		}
	}
	return aidant.FullStringIdentifier(organisationName), nil
}

// FindOrCreateUsager resolves a usager by the external immutable sub,
// creating the record on first sight and journaling the identity event. The
// record is never duplicated for a known sub.
func (s *Service) FindOrCreateUsager(ctx context.Context, aidant *models.Aidant, candidate *models.Usager) (*models.Usager, error) {
	existing, err := s.usagers.BySub(ctx, candidate.Sub)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up usager")
	}

	if err := s.usagers.Create(ctx, candidate); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a race with a concurrent create for the same sub.
			return s.UsagerBySub(ctx, candidate.Sub)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create usager")
	}

	initiator, err := s.Initiator(ctx, aidant)
	if err != nil {
		return nil, err
	}
	stamp := journal.IdentityStamp{Name: candidate.FullName(), ID: candidate.ID, Email: candidate.Email}
	if _, err := s.journal.LogFranceConnectionUsager(ctx, initiator, stamp); err != nil {
		return nil, err
	}
	return candidate, nil
}

// UsagerByID loads a usager, translating store errors.
func (s *Service) UsagerByID(ctx context.Context, id uuid.UUID) (*models.Usager, error) {
	usager, err := s.usagers.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "usager not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load usager")
	}
	return usager, nil
}

// UsagerBySub loads a usager by their external subject identifier.
func (s *Service) UsagerBySub(ctx context.Context, sub string) (*models.Usager, error) {
	usager, err := s.usagers.BySub(ctx, sub)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "usager not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load usager")
	}
	return usager, nil
}

// UpdateUsagerEmail changes a usager email and journals the change with the
// new address in the snapshot.
func (s *Service) UpdateUsagerEmail(ctx context.Context, aidantID, usagerID uuid.UUID, email string) (*models.Usager, error) {
	if email == "" {
		email = models.EmailNotProvided
	}
	aidant, err := s.AidantByID(ctx, aidantID)
	if err != nil {
		return nil, err
	}
	usager, err := s.UsagerByID(ctx, usagerID)
	if err != nil {
		return nil, err
	}
	if err := s.usagers.UpdateEmail(ctx, usagerID, email); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "usager not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update usager email")
	}
	usager.Email = email

	initiator, err := s.Initiator(ctx, aidant)
	if err != nil {
		return nil, err
	}
	stamp := journal.IdentityStamp{Name: usager.FullName(), ID: usager.ID, Email: usager.Email}
	if _, err := s.journal.LogUpdateEmailUsager(ctx, initiator, stamp); err != nil {
		return nil, err
	}
	return usager, nil
}
