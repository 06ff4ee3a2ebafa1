// Package models holds the reference identities of the system: the
// organisations accredited to carry mandates, the aidants who act, and the
// usagers represented. Lifecycle logic (mandates, journal) lives elsewhere;
// these records stay mostly passive.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "aidantsconnect/pkg/domain-errors"
)

// Gender values follow the FranceConnect pivot identity.
const (
	GenderFemale = "female"
	GenderMale   = "male"
)

// BirthcountryFrance is the INSEE country code for France, the default
// birthcountry of the pivot identity.
const BirthcountryFrance = "99100"

// EmailNotProvided is the sentinel stored when a usager has no known email.
const EmailNotProvided = "noemailprovided@aidantconnect.beta.gouv.fr"

// Organisation is an accredited structure. It owns aidants and mandates and
// cannot be deleted while either still references it.
type Organisation struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	SIRET   int64     `json:"siret"`
	Address string    `json:"address"`
}

// NewOrganisation validates and builds an Organisation.
func NewOrganisation(id uuid.UUID, name string, siret int64, address string) (*Organisation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organisation name is required")
	}
	if siret <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organisation siret must be positive")
	}
	return &Organisation{ID: id, Name: name, SIRET: siret, Address: address}, nil
}

// Aidant is an accredited helper. An aidant belongs to at most one
// organisation and initiates every journaled action.
type Aidant struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Profession     string     `json:"profession"`
	PasswordHash   string     `json:"-"`
	OrganisationID *uuid.UUID `json:"organisation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewAidant validates and builds an Aidant. OrganisationID may be nil at
// creation; an aidant without an organisation sees no mandates.
func NewAidant(id uuid.UUID, email, firstName, lastName, profession, passwordHash string, organisationID *uuid.UUID, now time.Time) (*Aidant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "aidant email is required")
	}
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "aidant name is required")
	}
	if profession == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "aidant profession is required")
	}
	return &Aidant{
		ID:             id,
		Email:          email,
		FirstName:      strings.TrimSpace(firstName),
		LastName:       strings.TrimSpace(lastName),
		Profession:     profession,
		PasswordHash:   passwordHash,
		OrganisationID: organisationID,
		CreatedAt:      now,
	}, nil
}

// FullName renders "First Last".
func (a *Aidant) FullName() string {
	return fmt.Sprintf("%s %s", a.FirstName, a.LastName)
}

// FullStringIdentifier renders the denormalized initiator string written to
// journal entries: "First Last - Organisation - email". The string survives
// later mutation or deletion of the aidant record.
func (a *Aidant) FullStringIdentifier(organisationName string) string {
	return fmt.Sprintf("%s - %s - %s", a.FullName(), organisationName, a.Email)
}

// Usager is the represented end user, durably identified by the external
// immutable subject identifier Sub.
type Usager struct {
	ID                uuid.UUID `json:"-"`
	Sub               string    `json:"sub"`
	GivenName         string    `json:"given_name"`
	FamilyName        string    `json:"family_name"`
	PreferredUsername string    `json:"preferred_username"`
	Gender            string    `json:"gender"`
	Birthdate         time.Time `json:"-"`
	Birthplace        string    `json:"birthplace"`
	Birthcountry      string    `json:"birthcountry"`
	Email             string    `json:"email"`
	CreationDate      time.Time `json:"-"`
}

// NewUsager validates and builds a Usager, applying pivot-identity defaults
// for gender, birthcountry, and the email sentinel.
func NewUsager(id uuid.UUID, sub, givenName, familyName, gender string, birthdate time.Time, birthplace, birthcountry, email string, now time.Time) (*Usager, error) {
	if strings.TrimSpace(sub) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "usager sub is required")
	}
	if strings.TrimSpace(givenName) == "" || strings.TrimSpace(familyName) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "usager name is required")
	}
	if birthdate.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "usager birthdate is required")
	}
	if gender == "" {
		gender = GenderFemale
	}
	if gender != GenderFemale && gender != GenderMale {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "usager gender is invalid")
	}
	if birthcountry == "" {
		birthcountry = BirthcountryFrance
	}
	if email == "" {
		email = EmailNotProvided
	}
	u := &Usager{
		ID:           id,
		Sub:          sub,
		GivenName:    strings.TrimSpace(givenName),
		FamilyName:   strings.TrimSpace(familyName),
		Gender:       gender,
		Birthdate:    birthdate,
		Birthplace:   birthplace,
		Birthcountry: birthcountry,
		Email:        email,
		CreationDate: now,
	}
	u.NormalizeBirthplace()
	return u, nil
}

// FullName renders "Given Family".
func (u *Usager) FullName() string {
	return fmt.Sprintf("%s %s", u.GivenName, u.FamilyName)
}

// NormalizeBirthplace zero-pads the INSEE commune code to 5 digits. Returns
// the normalized value, empty when no birthplace is known.
func (u *Usager) NormalizeBirthplace() string {
	if u.Birthplace == "" {
		return ""
	}
	for len(u.Birthplace) < 5 {
		u.Birthplace = "0" + u.Birthplace
	}
	return u.Birthplace
}

// Profile is the flat identity document served by the user-info endpoint.
// The internal primary key is deliberately absent.
func (u *Usager) Profile() map[string]string {
	return map[string]string{
		"sub":                u.Sub,
		"given_name":         u.GivenName,
		"family_name":        u.FamilyName,
		"preferred_username": u.PreferredUsername,
		"gender":             u.Gender,
		"birthdate":          u.Birthdate.Format("2006-01-02"),
		"birthplace":         u.Birthplace,
		"birthcountry":       u.Birthcountry,
		"email":              u.Email,
	}
}
