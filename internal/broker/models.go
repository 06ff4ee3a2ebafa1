// Package broker implements the FranceConnect-compatible identity-provider
// side of the system: the authorize, token, and user-info endpoints, and the
// short-lived Connection tracking one exchange from authorize to user info.
package broker

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"aidantsconnect/internal/mandate/models"
)

// BearerPattern is the exact shape an Authorization header must have at the
// user-info endpoint. Issued tokens are url-safe, so a valid token always
// matches.
var BearerPattern = regexp.MustCompile(`^Bearer\s([A-Za-z0-9_/-]+)$`)

// StatePattern bounds the state and nonce parameters the relying party
// submits at authorize time.
var StatePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Connection is one broker exchange. It is created at authorize, enriched
// when the aidant picks the usager and demarche, consumed at token exchange,
// and read a final time at user info. Past ExpiresOn every step refuses it.
type Connection struct {
	ID    uuid.UUID `json:"id"`
	State string    `json:"state"`
	Nonce string    `json:"nonce"`

	// Code is the single-use authorization code handed back on the
	// redirect.
	Code string `json:"code"`

	// AidantID and UsagerSub are filled when the aidant chooses who they
	// are acting for.
	AidantID  uuid.UUID `json:"aidant_id"`
	UsagerSub string    `json:"usager_sub"`

	// Demarche and the mandate facts are carried so the user-info step can
	// journal the autorisation use without re-asking.
	Demarche       string              `json:"demarche"`
	DureeKeyword   models.DureeKeyword `json:"duree_keyword"`
	MandatIsRemote bool                `json:"mandat_is_remote"`

	// AccessToken is issued at token exchange.
	AccessToken string `json:"access_token"`

	ExpiresOn time.Time `json:"expires_on"`
}

// IsExpired reports whether the exchange is past its window.
func (c *Connection) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresOn)
}
