// Package mandate implements the consent lifecycle: concluding a mandat with
// its autorisations and attestation, revoking autorisations, and answering
// the derived-state queries aidants see. Every transition lands in the
// journal inside the same operation.
package mandate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	identitymodels "aidantsconnect/internal/identity/models"
	"aidantsconnect/internal/journal"
	"aidantsconnect/internal/mandate/models"
	autorisationstore "aidantsconnect/internal/mandate/store/autorisation"
	"aidantsconnect/internal/platform/metrics"
	"aidantsconnect/pkg/attestation"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/sentinel"
	pkgstrings "aidantsconnect/pkg/platform/strings"
	"aidantsconnect/pkg/secrets"
)

// MandatStore persists mandats.
type MandatStore interface {
	Create(ctx context.Context, mandat *models.Mandat) error
	ByID(ctx context.Context, id uuid.UUID) (*models.Mandat, error)
	CountByOrganisation(ctx context.Context, organisationID uuid.UUID) (int, error)
}

// AutorisationStore persists autorisations and answers derived-state
// queries.
type AutorisationStore interface {
	CreateIfNoActiveDuplicate(ctx context.Context, a *models.Autorisation, now time.Time) error
	ByID(ctx context.Context, id uuid.UUID) (*models.Autorisation, error)
	Find(ctx context.Context, q autorisationstore.Query) ([]*models.Autorisation, error)
	SetRevocationDate(ctx context.Context, id uuid.UUID, now time.Time) error
}

// IdentityDirectory is the slice of the identity service the lifecycle
// needs: resolving aidants and usagers and rendering initiator strings.
type IdentityDirectory interface {
	AidantByID(ctx context.Context, id uuid.UUID) (*identitymodels.Aidant, error)
	UsagerByID(ctx context.Context, id uuid.UUID) (*identitymodels.Usager, error)
	Initiator(ctx context.Context, aidant *identitymodels.Aidant) (string, error)
}

// TxRunner runs fn atomically. The postgres wiring binds this to a real
// database transaction; in memory the store lock suffices and fn runs as is.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	mandats       MandatStore
	autorisations AutorisationStore
	directory     IdentityDirectory
	journal       *journal.Service
	runTx         TxRunner
	salt          string
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTxRunner binds lifecycle writes to a transactional boundary.
func WithTxRunner(run TxRunner) Option {
	return func(s *Service) { s.runTx = run }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	mandats MandatStore,
	autorisations AutorisationStore,
	directory IdentityDirectory,
	journalSvc *journal.Service,
	attestationSalt string,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		mandats:       mandats,
		autorisations: autorisations,
		directory:     directory,
		journal:       journalSvc,
		runTx:         passthroughTx,
		salt:          attestationSalt,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMandatResult is what concluding a mandate produces: the mandat, its
// autorisations, and the attestation access token handed to the usager.
type CreateMandatResult struct {
	Mandat          *models.Mandat         `json:"mandat"`
	Autorisations   []*models.Autorisation `json:"autorisations"`
	AccessToken     string                 `json:"access_token"`
	AttestationHash string                 `json:"attestation_hash"`
}

// CreateMandat concludes a mandate between the aidant's organisation and the
// usager for the given demarches. An existing active autorisation for the
// same demarche and pair is revoked first; the new grant supersedes it. The
// whole conclusion, including its journal entries, is one atomic operation.
func (s *Service) CreateMandat(ctx context.Context, aidantID, usagerID uuid.UUID, demarches []string, duree models.DureeKeyword, isRemote bool) (*CreateMandatResult, error) {
	demarches = pkgstrings.DedupeAndTrim(demarches)
	if len(demarches) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one demarche is required")
	}

	aidant, err := s.directory.AidantByID(ctx, aidantID)
	if err != nil {
		return nil, err
	}
	if aidant.OrganisationID == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "aidant has no organisation")
	}
	usager, err := s.directory.UsagerByID(ctx, usagerID)
	if err != nil {
		return nil, err
	}
	initiator, err := s.directory.Initiator(ctx, aidant)
	if err != nil {
		return nil, err
	}

	now := s.now()
	mandat, err := models.NewMandat(uuid.New(), *aidant.OrganisationID, usagerID, duree, isRemote, now)
	if err != nil {
		return nil, err
	}

	accessToken, err := secrets.GenerateToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate access token")
	}
	stamp := journal.IdentityStamp{Name: usager.FullName(), ID: usager.ID, Email: usager.Email}
	hash := s.attestationHash(usager, mandat, demarches)

	result := &CreateMandatResult{Mandat: mandat, AccessToken: accessToken, AttestationHash: hash}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.mandats.Create(ctx, mandat); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create mandat")
		}

		for _, demarche := range demarches {
			if err := s.supersedeActive(ctx, initiator, mandat, usager, demarche, now); err != nil {
				return err
			}

			renewalToken, err := secrets.GenerateShortToken()
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate renewal token")
			}
			autorisation, err := models.NewAutorisation(uuid.New(), mandat, demarche, renewalToken)
			if err != nil {
				return err
			}
			if err := s.autorisations.CreateIfNoActiveDuplicate(ctx, autorisation, now); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("an active autorisation for %q already exists", demarche))
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create autorisation")
			}
			result.Autorisations = append(result.Autorisations, autorisation)

			if _, err := s.journal.LogAutorisationCreation(ctx, initiator, journal.AutorisationRecord{
				ID:       autorisation.ID,
				Demarche: demarche,
				Duree:    mandat.DurationForHumans(),
				IsRemote: isRemote,
				Usager:   stamp,
			}); err != nil {
				return err
			}
		}

		_, err := s.journal.LogAttestationCreation(ctx, initiator, stamp, demarches,
			mandat.DurationForHumans(), isRemote, accessToken, hash)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "mandat created",
		"mandat_id", mandat.ID,
		"organisation_id", mandat.OrganisationID,
		"demarches", len(demarches),
		"duree", string(duree),
	)
	if s.metrics != nil {
		s.metrics.MandatsCreated.Inc()
	}
	return result, nil
}

// supersedeActive revokes an active autorisation for the same demarche and
// pair, journaling the cancellation, so the new grant can take its place.
func (s *Service) supersedeActive(ctx context.Context, initiator string, mandat *models.Mandat, usager *identitymodels.Usager, demarche string, now time.Time) error {
	existing, err := s.autorisations.Find(ctx, autorisationstore.Query{
		Status:         autorisationstore.StatusActive,
		OrganisationID: mandat.OrganisationID,
		UsagerID:       mandat.UsagerID,
		Demarche:       demarche,
		Now:            now,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing autorisations")
	}
	for _, old := range existing {
		if err := s.autorisations.SetRevocationDate(ctx, old.ID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede autorisation")
		}
		if _, err := s.journal.LogAutorisationCancel(ctx, initiator, journal.AutorisationRecord{
			ID:       old.ID,
			Demarche: old.Demarche,
			Duree:    old.DurationForHumans(),
			Usager:   journal.IdentityStamp{Name: usager.FullName(), ID: usager.ID, Email: usager.Email},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) attestationHash(usager *identitymodels.Usager, mandat *models.Mandat, demarches []string) string {
	sorted := append([]string(nil), demarches...)
	sort.Strings(sorted)
	value := fmt.Sprintf("%s;%s;%s;%s;%s",
		usager.Sub,
		mandat.OrganisationID,
		mandat.CreationDate.UTC().Format(time.RFC3339),
		mandat.ExpirationDate.UTC().Format(time.RFC3339),
		strings.Join(sorted, journal.DemarcheDelimiter),
	)
	return attestation.Hash(value, s.salt)
}

// ValidAutorisation returns the single active autorisation granting demarche
// for the organisation and usager pair, or nil when none exists. More than
// one active grant means the write-boundary uniqueness was violated and is
// reported as such rather than silently picking one.
func (s *Service) ValidAutorisation(ctx context.Context, organisationID, usagerID uuid.UUID, demarche string) (*models.Autorisation, error) {
	found, err := s.autorisations.Find(ctx, autorisationstore.Query{
		Status:         autorisationstore.StatusActive,
		OrganisationID: organisationID,
		UsagerID:       usagerID,
		Demarche:       demarche,
		Now:            s.now(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query autorisations")
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}
	return nil, dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("%d active autorisations for demarche %q, expected at most one", len(found), demarche))
}

// RevokeAutorisation revokes an autorisation on behalf of an aidant. Only
// aidants of the owning organisation may revoke; others get forbidden, not
// not-found, since the id was plainly valid.
func (s *Service) RevokeAutorisation(ctx context.Context, aidantID, autorisationID uuid.UUID) (*models.Autorisation, error) {
	aidant, err := s.directory.AidantByID(ctx, aidantID)
	if err != nil {
		return nil, err
	}
	autorisation, err := s.autorisations.ByID(ctx, autorisationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "autorisation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load autorisation")
	}
	if aidant.OrganisationID == nil || *aidant.OrganisationID != autorisation.Mandat.OrganisationID {
		return nil, dErrors.New(dErrors.CodeForbidden, "autorisation belongs to another organisation")
	}

	now := s.now()
	if err := s.autorisations.SetRevocationDate(ctx, autorisationID, now); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "autorisation is already revoked")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke autorisation")
	}
	revokedAt := now
	autorisation.RevocationDate = &revokedAt

	usager, err := s.directory.UsagerByID(ctx, autorisation.Mandat.UsagerID)
	if err != nil {
		return nil, err
	}
	initiator, err := s.directory.Initiator(ctx, aidant)
	if err != nil {
		return nil, err
	}
	if _, err := s.journal.LogAutorisationCancel(ctx, initiator, journal.AutorisationRecord{
		ID:       autorisation.ID,
		Demarche: autorisation.Demarche,
		Duree:    autorisation.DurationForHumans(),
		IsRemote: autorisation.Mandat.IsRemote,
		Usager:   journal.IdentityStamp{Name: usager.FullName(), ID: usager.ID, Email: usager.Email},
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AutorisationsRevoked.Inc()
	}
	return autorisation, nil
}

// UsagersVisibleBy lists the usagers the aidant's organisation ever held a
// mandate for. Visibility is organisation-wide, never per aidant.
func (s *Service) UsagersVisibleBy(ctx context.Context, aidantID uuid.UUID) ([]*identitymodels.Usager, error) {
	return s.usagersMatching(ctx, aidantID, autorisationstore.StatusAny)
}

// UsagersWithActiveAutorisation narrows the visible usagers to those the
// organisation can currently act for.
func (s *Service) UsagersWithActiveAutorisation(ctx context.Context, aidantID uuid.UUID) ([]*identitymodels.Usager, error) {
	return s.usagersMatching(ctx, aidantID, autorisationstore.StatusActive)
}

func (s *Service) usagersMatching(ctx context.Context, aidantID uuid.UUID, status autorisationstore.Status) ([]*identitymodels.Usager, error) {
	aidant, err := s.directory.AidantByID(ctx, aidantID)
	if err != nil {
		return nil, err
	}
	if aidant.OrganisationID == nil {
		return nil, nil
	}
	all, err := s.autorisations.Find(ctx, autorisationstore.Query{
		OrganisationID: *aidant.OrganisationID,
		Status:         status,
		Now:            s.now(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query autorisations")
	}

	seen := make(map[uuid.UUID]struct{})
	var out []*identitymodels.Usager
	for _, a := range all {
		usagerID := a.Mandat.UsagerID
		if _, ok := seen[usagerID]; ok {
			continue
		}
		seen[usagerID] = struct{}{}
		usager, err := s.directory.UsagerByID(ctx, usagerID)
		if err != nil {
			return nil, err
		}
		out = append(out, usager)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FamilyName == out[j].FamilyName {
			return out[i].GivenName < out[j].GivenName
		}
		return out[i].FamilyName < out[j].FamilyName
	})
	return out, nil
}

// AutorisationsForUsager lists the aidant-visible autorisations of one
// usager, optionally filtered to a derived-state bucket.
func (s *Service) AutorisationsForUsager(ctx context.Context, aidantID, usagerID uuid.UUID, status autorisationstore.Status) ([]*models.Autorisation, error) {
	aidant, err := s.directory.AidantByID(ctx, aidantID)
	if err != nil {
		return nil, err
	}
	if aidant.OrganisationID == nil {
		return nil, nil
	}
	found, err := s.autorisations.Find(ctx, autorisationstore.Query{
		Status:         status,
		OrganisationID: *aidant.OrganisationID,
		UsagerID:       usagerID,
		Now:            s.now(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query autorisations")
	}
	return found, nil
}

// ActiveDemarchesForUsager lists the demarche names the organisation can
// currently act on for one usager, sorted.
func (s *Service) ActiveDemarchesForUsager(ctx context.Context, aidantID, usagerID uuid.UUID) ([]string, error) {
	active, err := s.AutorisationsForUsager(ctx, aidantID, usagerID, autorisationstore.StatusActive)
	if err != nil {
		return nil, err
	}
	demarches := make([]string, 0, len(active))
	for _, a := range active {
		demarches = append(demarches, a.Demarche)
	}
	sort.Strings(demarches)
	return demarches, nil
}
