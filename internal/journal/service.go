package journal

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"aidantsconnect/internal/platform/metrics"
	dErrors "aidantsconnect/pkg/domain-errors"
)

// Store persists journal entries. Implementations expose no update or delete
// operations; the interface is the write-once contract.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ByInitiator(ctx context.Context, initiator string) ([]*Entry, error)
	LastByInitiator(ctx context.Context, initiator string) (*Entry, error)
	FindAttestation(ctx context.Context, initiator, accessToken string) (*Entry, error)
	ByAction(ctx context.Context, action Action) ([]*Entry, error)
	ExcludingInitiator(ctx context.Context, fragment string) ([]*Entry, error)
}

// Service provides the typed logging operations. Every state-changing action
// in the system goes through exactly one of these; callers never build
// entries by hand.
type Service struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	staffOrg string
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStaffOrganisation names the internal staff organisation whose entries
// reporting queries leave out.
func WithStaffOrganisation(name string) Option {
	return func(s *Service) { s.staffOrg = name }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogConnection records an aidant signing in.
func (s *Service) LogConnection(ctx context.Context, initiator string) (*Entry, error) {
	return s.append(ctx, &Entry{Action: ActionConnectAidant, Initiator: initiator})
}

// LogActivityCheck records an aidant re-confirming their presence.
func (s *Service) LogActivityCheck(ctx context.Context, initiator string) (*Entry, error) {
	return s.append(ctx, &Entry{Action: ActionActivityCheckAidant, Initiator: initiator})
}

// LogFranceConnectionUsager records a usager identity being vouched for
// through the broker.
func (s *Service) LogFranceConnectionUsager(ctx context.Context, initiator string, usager IdentityStamp) (*Entry, error) {
	return s.append(ctx, &Entry{
		Action:    ActionFranceConnectUsager,
		Initiator: initiator,
		Usager:    usager.String(),
	})
}

// LogUpdateEmailUsager records a usager email change.
func (s *Service) LogUpdateEmailUsager(ctx context.Context, initiator string, usager IdentityStamp) (*Entry, error) {
	return s.append(ctx, &Entry{
		Action:    ActionUpdateEmailUsager,
		Initiator: initiator,
		Usager:    usager.String(),
	})
}

// LogAttestationCreation records the attestation produced when a mandate is
// concluded. The demarche list is stored joined; remote mandates carry the
// fixed legal notice.
func (s *Service) LogAttestationCreation(ctx context.Context, initiator string, usager IdentityStamp, demarches []string, duree int, isRemote bool, accessToken, attestationHash string) (*Entry, error) {
	entry := &Entry{
		Action:          ActionCreateAttestation,
		Initiator:       initiator,
		Usager:          usager.String(),
		Demarche:        strings.Join(demarches, DemarcheDelimiter),
		Duree:           duree,
		AccessToken:     accessToken,
		AttestationHash: attestationHash,
		IsRemoteMandat:  isRemote,
	}
	if isRemote {
		entry.AdditionalInformation = RemoteMandateNotice
	}
	return s.append(ctx, entry)
}

// AutorisationRecord carries the fields pulled from an autorisation and its
// owning mandat when journaling creation or cancellation.
type AutorisationRecord struct {
	ID       uuid.UUID
	Demarche string
	Duree    int
	IsRemote bool
	Usager   IdentityStamp
}

// LogAutorisationCreation records one autorisation being granted.
func (s *Service) LogAutorisationCreation(ctx context.Context, initiator string, rec AutorisationRecord) (*Entry, error) {
	autorisationID := rec.ID
	entry := &Entry{
		Action:         ActionCreateAutorisation,
		Initiator:      initiator,
		Usager:         rec.Usager.String(),
		Demarche:       rec.Demarche,
		Duree:          rec.Duree,
		AutorisationID: &autorisationID,
		IsRemoteMandat: rec.IsRemote,
	}
	if rec.IsRemote {
		entry.AdditionalInformation = RemoteMandateNotice
	}
	return s.append(ctx, entry)
}

// LogAutorisationUse records one use of an active autorisation.
func (s *Service) LogAutorisationUse(ctx context.Context, initiator string, usager IdentityStamp, demarche, accessToken string, autorisationID uuid.UUID) (*Entry, error) {
	return s.append(ctx, &Entry{
		Action:         ActionUseAutorisation,
		Initiator:      initiator,
		Usager:         usager.String(),
		Demarche:       demarche,
		AccessToken:    accessToken,
		AutorisationID: &autorisationID,
	})
}

// LogAutorisationCancel records an autorisation being revoked.
func (s *Service) LogAutorisationCancel(ctx context.Context, initiator string, rec AutorisationRecord) (*Entry, error) {
	autorisationID := rec.ID
	return s.append(ctx, &Entry{
		Action:         ActionCancelAutorisation,
		Initiator:      initiator,
		Usager:         rec.Usager.String(),
		Demarche:       rec.Demarche,
		Duree:          rec.Duree,
		AutorisationID: &autorisationID,
	})
}

// LastActionTime returns when the initiator last did anything, or zero time.
func (s *Service) LastActionTime(ctx context.Context, initiator string) (time.Time, error) {
	entry, err := s.store.LastByInitiator(ctx, initiator)
	if err != nil {
		return time.Time{}, err
	}
	if entry == nil {
		return time.Time{}, nil
	}
	return entry.CreationDate, nil
}

// AttestationEntry returns the create_attestation entry an initiator wrote
// for the given access token, or nil when none exists.
func (s *Service) AttestationEntry(ctx context.Context, initiator, accessToken string) (*Entry, error) {
	return s.store.FindAttestation(ctx, initiator, accessToken)
}

// ReportingEntries returns all entries minus those initiated from the staff
// organisation. Initiator strings carry the organisation name, so the
// exclusion works on the snapshot, not on live records.
func (s *Service) ReportingEntries(ctx context.Context) ([]*Entry, error) {
	if s.staffOrg == "" {
		return s.store.ExcludingInitiator(ctx, "")
	}
	return s.store.ExcludingInitiator(ctx, " - "+s.staffOrg+" - ")
}

func (s *Service) append(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry.ID != 0 {
		// Editing journal rows is a programming error, never user input.
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "journal entries cannot be edited")
	}
	if entry.Initiator == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "journal entry requires an initiator")
	}

	if err := s.store.Append(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append journal entry")
	}

	s.logger.InfoContext(ctx, "journal entry",
		"action", string(entry.Action),
		"entry_id", entry.ID,
	)
	if s.metrics != nil {
		s.metrics.JournalEntriesWritten.WithLabelValues(string(entry.Action)).Inc()
	}
	return entry, nil
}
