// Package idtoken signs and validates the two JWT flavors the system
// issues: the HS256 identity assertion handed to the service provider at
// code exchange, and the aidant session token guarding authenticated routes.
package idtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aidantsconnect/internal/platform/middleware"
	dErrors "aidantsconnect/pkg/domain-errors"
)

// IdentityClaims is the assertion payload. The claim set is fixed: audience,
// expiry, issue time, issuer, subject, and the nonce echoed from the
// authorize request.
type IdentityClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issuer signs identity assertions with the shared client secret.
type Issuer struct {
	clientID     string
	clientSecret []byte
	issuer       string
	ttl          time.Duration
}

func NewIssuer(clientID, clientSecret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		clientID:     clientID,
		clientSecret: []byte(clientSecret),
		issuer:       issuer,
		ttl:          ttl,
	}
}

// IdentityAssertion signs an assertion for the given subject and nonce.
func (i *Issuer) IdentityAssertion(sub, nonce string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  []string{i.clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Subject:   sub,
		},
	})
	signed, err := token.SignedString(i.clientSecret)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign identity assertion")
	}
	return signed, nil
}

// ParseIdentityAssertion validates a signed assertion. Mostly exercised by
// tests and by relying parties; the server itself never re-reads assertions.
func (i *Issuer) ParseIdentityAssertion(tokenString string) (*IdentityClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, i.keyFunc,
		jwt.WithAudience(i.clientID),
		jwt.WithIssuer(i.issuer),
	)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid identity assertion")
	}
	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid identity assertion")
	}
	return claims, nil
}

func (i *Issuer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return i.clientSecret, nil
}

// SessionClaims is the aidant session payload.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionService issues and validates aidant session tokens. It satisfies
// middleware.SessionValidator.
type SessionService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewSessionService(signingKey, issuer string, ttl time.Duration) *SessionService {
	return &SessionService{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl}
}

// IssueSessionToken signs a session token for an authenticated aidant.
func (s *SessionService) IssueSessionToken(aidantID uuid.UUID, email string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   aidantID.String(),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session token")
	}
	return signed, nil
}

// ValidateSessionToken checks the signature and expiry and returns the
// aidant identity.
func (s *SessionService) ValidateSessionToken(tokenString string) (*middleware.SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	return &middleware.SessionClaims{AidantID: claims.Subject, Email: claims.Email}, nil
}
