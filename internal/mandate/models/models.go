// Package models holds the consent-lifecycle aggregates: the Mandat, a
// time-boxed grant from one usager to one organisation, and its
// Autorisations, one per authorized demarche. Validity is never stored; it
// is always derived from the fixed dates and the caller's clock.
package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "aidantsconnect/pkg/domain-errors"
)

// DureeKeyword names the duration of a mandate as presented to the usager.
type DureeKeyword string

const (
	DureeShort   DureeKeyword = "SHORT"
	DureeLong    DureeKeyword = "LONG"
	DureeEUS0320 DureeKeyword = "EUS_03_20"
)

// EmergencyLastDay is the end of the 2020 sanitary state of emergency, the
// fixed expiry of EUS_03_20 mandates.
var EmergencyLastDay = time.Date(2020, time.July, 10, 23, 59, 59, 0, time.UTC)

// Label renders the human-facing duration wording used on attestations.
func (k DureeKeyword) Label() string {
	switch k {
	case DureeShort:
		return "pour une durée de 1 jour"
	case DureeLong:
		return "pour une durée de 1 an"
	case DureeEUS0320:
		return "jusqu’à la fin de l’état d’urgence sanitaire"
	default:
		return string(k)
	}
}

// ExpirationFrom computes the expiration timestamp of a mandate created now.
// Durations are absolute: a SHORT mandat lasts exactly 24 hours whatever the
// local calendar does, so DurationForHumans stays stable across zone quirks.
func (k DureeKeyword) ExpirationFrom(now time.Time) (time.Time, error) {
	switch k {
	case DureeShort:
		return now.Add(24 * time.Hour), nil
	case DureeLong:
		return now.Add(365 * 24 * time.Hour), nil
	case DureeEUS0320:
		return EmergencyLastDay, nil
	default:
		return time.Time{}, dErrors.Newf(dErrors.CodeValidation, "unknown duree keyword %q", string(k))
	}
}

// Mandat is the time-boxed consent grant. ExpirationDate is set once at
// creation and never mutated; whether the mandat is usable is a pure
// function of the clock.
type Mandat struct {
	ID             uuid.UUID    `json:"id"`
	OrganisationID uuid.UUID    `json:"organisation_id"`
	UsagerID       uuid.UUID    `json:"usager_id"`
	CreationDate   time.Time    `json:"creation_date"`
	ExpirationDate time.Time    `json:"expiration_date"`
	DureeKeyword   DureeKeyword `json:"duree_keyword"`
	IsRemote       bool         `json:"is_remote"`
}

// NewMandat validates and builds a Mandat expiring per the duree keyword.
func NewMandat(id, organisationID, usagerID uuid.UUID, duree DureeKeyword, isRemote bool, now time.Time) (*Mandat, error) {
	if organisationID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "mandat organisation is required")
	}
	if usagerID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "mandat usager is required")
	}
	expiration, err := duree.ExpirationFrom(now)
	if err != nil {
		return nil, err
	}
	return &Mandat{
		ID:             id,
		OrganisationID: organisationID,
		UsagerID:       usagerID,
		CreationDate:   now,
		ExpirationDate: expiration,
		DureeKeyword:   duree,
		IsRemote:       isRemote,
	}, nil
}

// IsExpired reports whether the mandat has lapsed at the given instant.
func (m *Mandat) IsExpired(now time.Time) bool {
	return now.After(m.ExpirationDate)
}

// DurationForHumans returns the mandate length in days, inclusive of the
// creation day: one day between now and tomorrow reads as 2. This is the
// human-facing rounding rule used on attestations and journal entries.
func (m *Mandat) DurationForHumans() int {
	return int(m.ExpirationDate.Sub(m.CreationDate).Hours()/24) + 1
}

// Autorisation is one permitted demarche within a mandat, independently
// revocable. Creation and expiration read through to the owning mandat
// rather than being stored redundantly.
type Autorisation struct {
	ID               uuid.UUID  `json:"id"`
	MandatID         uuid.UUID  `json:"mandat_id"`
	Demarche         string     `json:"demarche"`
	RevocationDate   *time.Time `json:"revocation_date,omitempty"`
	LastRenewalToken string     `json:"-"`

	// Mandat is the owning mandate, populated by stores on read so the
	// derived accessors below have their inputs.
	Mandat *Mandat `json:"-"`
}

// NewAutorisation validates and builds an Autorisation under mandat.
func NewAutorisation(id uuid.UUID, mandat *Mandat, demarche, renewalToken string) (*Autorisation, error) {
	if mandat == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "autorisation mandat is required")
	}
	if demarche == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "autorisation demarche is required")
	}
	return &Autorisation{
		ID:               id,
		MandatID:         mandat.ID,
		Demarche:         demarche,
		LastRenewalToken: renewalToken,
		Mandat:           mandat,
	}, nil
}

// CreationDate reads through to the owning mandat.
func (a *Autorisation) CreationDate() time.Time { return a.Mandat.CreationDate }

// ExpirationDate reads through to the owning mandat.
func (a *Autorisation) ExpirationDate() time.Time { return a.Mandat.ExpirationDate }

// IsExpired reads through to the owning mandat.
func (a *Autorisation) IsExpired(now time.Time) bool { return a.Mandat.IsExpired(now) }

// IsRevoked reports whether a revocation has been recorded.
func (a *Autorisation) IsRevoked() bool { return a.RevocationDate != nil }

// IsActive reports whether the autorisation may be acted under at the given
// instant: the mandat has not lapsed and no revocation was recorded.
func (a *Autorisation) IsActive(now time.Time) bool {
	return !a.IsExpired(now) && !a.IsRevoked()
}

// IsInactive is the complement of IsActive within everything ever issued.
func (a *Autorisation) IsInactive(now time.Time) bool {
	return !a.IsActive(now)
}

// IsRevokedReporting classifies revoked-but-not-expired, the reporting bucket
// distinct from plain expiry. An autorisation both expired and revoked counts
// as expired only; expiry supersedes revocation for reporting.
func (a *Autorisation) IsRevokedReporting(now time.Time) bool {
	return !a.IsExpired(now) && a.IsRevoked()
}

// DurationForHumans reads through to the owning mandat.
func (a *Autorisation) DurationForHumans() int { return a.Mandat.DurationForHumans() }

// Revoke records the revocation instant. Revocation is monotonic: once set
// it is never cleared, and revoking twice is a contract violation.
func (a *Autorisation) Revoke(now time.Time) error {
	if a.RevocationDate != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "autorisation is already revoked")
	}
	a.RevocationDate = &now
	return nil
}
