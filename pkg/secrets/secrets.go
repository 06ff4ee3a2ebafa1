// Package secrets covers credential hashing for aidants and generation of
// unguessable url-safe tokens (authorization codes, access tokens).
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenBytes is the entropy of generated codes and access tokens. 64 bytes
// matches the url-safe token length the FranceConnect broker contract was
// built against.
const TokenBytes = 64

// GenerateToken returns a url-safe random token. Output characters stay
// within [A-Za-z0-9_-], which keeps issued tokens valid under the bearer
// header pattern enforced by the user-info endpoint.
func GenerateToken() (string, error) {
	return generate(TokenBytes)
}

// GenerateShortToken returns a smaller random token for renewal tracking.
func GenerateShortToken() (string, error) {
	return generate(16)
}

func generate(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword hashes an aidant password with bcrypt at default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
