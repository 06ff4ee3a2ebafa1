package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// SessionValidator validates an aidant session token.
type SessionValidator interface {
	ValidateSessionToken(tokenString string) (*SessionClaims, error)
}

// SessionClaims identifies the authenticated aidant on a request.
type SessionClaims struct {
	AidantID string
	Email    string
}

type contextKeyAidantID struct{}
type contextKeyAidantEmail struct{}

// GetAidantID retrieves the authenticated aidant id from the context.
func GetAidantID(ctx context.Context) string {
	aidantID, ok := ctx.Value(contextKeyAidantID{}).(string)
	if !ok {
		return ""
	}
	return aidantID
}

// GetAidantEmail retrieves the authenticated aidant email from the context.
func GetAidantEmail(ctx context.Context) string {
	email, ok := ctx.Value(contextKeyAidantEmail{}).(string)
	if !ok {
		return ""
	}
	return email
}

// RequireAidant guards routes that act on behalf of an authenticated aidant.
// It accepts a session token in the X-Session-Token header or an
// "Authorization: Bearer" header and stores the aidant identity in context.
func RequireAidant(validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if token == "" {
				unauthorized(w, r, logger, "missing session token")
				return
			}

			claims, err := validator.ValidateSessionToken(token)
			if err != nil {
				unauthorized(w, r, logger, "invalid session token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, contextKeyAidantID{}, claims.AidantID)
			ctx = context.WithValue(ctx, contextKeyAidantEmail{}, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	ctx := r.Context()
	logger.WarnContext(ctx, "unauthorized access",
		"reason", reason,
		"path", r.URL.Path,
		"request_id", GetRequestID(ctx),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Missing or invalid session token"}`))
}
