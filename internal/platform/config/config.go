// Package config loads server configuration from the environment so main
// stays lean. Defaults suit local development; production deployments
// override everything secret-bearing.
package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr        string
	MetricsAddr string

	// DatabaseURL enables the postgres stores; empty keeps in-memory stores.
	DatabaseURL string
	// RedisURL enables the redis connection store; empty keeps in-memory.
	RedisURL string

	// Issuer is the public host of this identity provider, used as the iss
	// claim of issued identity assertions.
	Issuer string

	// FranceConnect relying-party expectations for the token endpoint. All
	// four submitted parameters must match exactly.
	FCClientID     string
	FCClientSecret string
	FCCallbackURL  string

	// ConnectionTTL bounds the life of a broker Connection; past it, the
	// exchange is dead regardless of state.
	ConnectionTTL time.Duration
	// IDTokenTTL bounds the signed identity assertion.
	IDTokenTTL time.Duration

	// SessionSigningKey signs aidant session tokens.
	SessionSigningKey string
	SessionTTL        time.Duration

	// AttestationSalt peppers attestation hashes written to the journal.
	AttestationSalt string

	// StaffOrganisationName marks internal staff entries excluded from
	// journal reporting queries.
	StaffOrganisationName string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:        envOr("AC_ADDR", ":8080"),
		MetricsAddr: envOr("AC_METRICS_ADDR", ":9090"),

		DatabaseURL: os.Getenv("AC_DATABASE_URL"),
		RedisURL:    os.Getenv("AC_REDIS_URL"),

		Issuer: envOr("AC_HOST", "http://localhost:8080"),

		FCClientID:     envOr("FC_AS_FI_ID", "dev-fc-client-id"),
		FCClientSecret: envOr("FC_AS_FI_SECRET", "dev-fc-client-secret"),
		FCCallbackURL:  envOr("FC_AS_FI_CALLBACK_URL", "http://localhost:3000/callback"),

		ConnectionTTL: envSecondsOr("FC_CONNECTION_AGE", 600),
		IDTokenTTL:    envSecondsOr("AC_ID_TOKEN_AGE", 600),

		SessionSigningKey: envOr("AC_SESSION_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SessionTTL:        envSecondsOr("AC_SESSION_AGE", 8*3600),

		AttestationSalt: envOr("ATTESTATION_SALT", ""),

		StaffOrganisationName: envOr("STAFF_ORGANISATION_NAME", "BetaGouv"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSecondsOr(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(fallback) * time.Second
}
