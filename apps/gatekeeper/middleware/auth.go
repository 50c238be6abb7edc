// Package middleware holds the HTTP middleware wrapped around the gatekeeper API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pitabwire/frame/security"
	"github.com/pitabwire/util"
)

type contextKey string

const (
	subjectContextKey contextKey = "authenticated_subject"

	authHeaderParts = 2
	bearerScheme    = "bearer"
	authRealm       = `Bearer realm="quality-gate"`
)

// AuthMiddleware requires a valid bearer token and records its subject on the
// request context.
type AuthMiddleware struct {
	authenticator security.Authenticator
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(authenticator security.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

// Middleware rejects requests without a valid bearer token.
func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := util.Log(ctx)

		token, reason := bearerToken(r)
		if reason != "" {
			log.Debug("rejecting request", "reason", reason, "path", r.URL.Path)
			unauthorized(w, reason)
			return
		}

		authCtx, err := am.authenticator.Authenticate(ctx, token)
		if err != nil {
			log.Debug("token validation failed", "error", err.Error())
			unauthorized(w, "Invalid or expired token")
			return
		}

		subject := ""
		if claims := security.ClaimsFromContext(authCtx); claims != nil {
			subject, _ = claims.GetSubject()
		}
		if subject == "" {
			// Some authenticators carry identity only in our own key.
			subject = SubjectFromContext(authCtx)
		}

		log.Info("authenticated request", "user_id", subject, "path", r.URL.Path)

		next.ServeHTTP(w, r.WithContext(WithSubject(authCtx, subject)))
	})
}

// bearerToken extracts the token, or a rejection reason when the header is unusable.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Missing authorization header"
	}

	parts := strings.SplitN(header, " ", authHeaderParts)
	if len(parts) != authHeaderParts || !strings.EqualFold(parts[0], bearerScheme) {
		return "", "Invalid authorization header format. Expected: Bearer <token>"
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Empty token"
	}
	return token, ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", authRealm)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", message, nil)
}

// WithSubject stores the authenticated subject on ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// SubjectFromContext returns the authenticated subject, or "" when the request
// was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectContextKey).(string)
	return subject
}
