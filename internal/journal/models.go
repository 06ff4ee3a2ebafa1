// Package journal is the append-only audit log. Every lifecycle transition
// and every use of an autorisation lands here exactly once, snapshotted with
// denormalized identity strings so history stays readable after the
// referenced records change or disappear. Entries are write-once: there is
// no update or delete path anywhere in this package.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action names a journaled event.
type Action string

const (
	ActionConnectAidant        Action = "connect_aidant"
	ActionActivityCheckAidant  Action = "activity_check_aidant"
	ActionFranceConnectUsager  Action = "franceconnect_usager"
	ActionUpdateEmailUsager    Action = "update_email_usager"
	ActionCreateAttestation    Action = "create_attestation"
	ActionCreateAutorisation   Action = "create_autorisation"
	ActionUseAutorisation      Action = "use_autorisation"
	ActionCancelAutorisation   Action = "cancel_autorisation"
)

// RemoteMandateNotice is the fixed legal disclaimer stamped into entries for
// mandates concluded remotely during the sanitary state of emergency.
const RemoteMandateNotice = "Mandat conclu à distance pendant l'état d'urgence sanitaire (23 mars 2020)"

// DemarcheDelimiter joins multiple demarches into the single demarche column
// of an attestation entry.
const DemarcheDelimiter = ","

// IdentityStamp is the structured identity snapshot written into an entry.
// It is copied at write time, never a live reference, so a journal row stays
// meaningful even if the usager or aidant record is later altered or removed.
type IdentityStamp struct {
	Name  string
	ID    uuid.UUID
	Email string
}

// String renders the durable "name - id - email" form stored in the entry.
func (s IdentityStamp) String() string {
	return fmt.Sprintf("%s - %s - %s", s.Name, s.ID, s.Email)
}

// ParseIdentityStamp parses the stored string form back into a stamp. A
// malformed string yields an error; callers degrade to the zero stamp rather
// than failing the read path.
func ParseIdentityStamp(s string) (IdentityStamp, error) {
	parts := strings.Split(s, " - ")
	if len(parts) != 3 {
		return IdentityStamp{}, fmt.Errorf("malformed identity stamp %q", s)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return IdentityStamp{}, fmt.Errorf("malformed identity stamp id: %w", err)
	}
	return IdentityStamp{Name: parts[0], ID: id, Email: parts[2]}, nil
}

// Entry is one immutable journal row. ID and CreationDate are assigned by
// the store at insert; a non-zero ID on Append is rejected.
type Entry struct {
	ID        int64  `json:"id"`
	Action    Action `json:"action"`
	Initiator string `json:"initiator"`

	// Usager is the stored snapshot string of the represented usager,
	// empty for aidant-only actions.
	Usager string `json:"usager,omitempty"`

	Demarche              string     `json:"demarche,omitempty"`
	Duree                 int        `json:"duree,omitempty"`
	AccessToken           string     `json:"-"`
	AutorisationID        *uuid.UUID `json:"autorisation_id,omitempty"`
	AttestationHash       string     `json:"attestation_hash,omitempty"`
	AdditionalInformation string     `json:"additional_information,omitempty"`
	IsRemoteMandat        bool       `json:"is_remote_mandat"`
	CreationDate          time.Time  `json:"creation_date"`
}

// UsagerID extracts the usager id embedded in the stored snapshot string.
// Malformed or absent snapshots degrade to uuid.Nil instead of failing.
func (e *Entry) UsagerID() uuid.UUID {
	stamp, err := ParseIdentityStamp(e.Usager)
	if err != nil {
		return uuid.Nil
	}
	return stamp.ID
}
