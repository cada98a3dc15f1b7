package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/contextkeys"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/policy"
)

// AccountSource re-reads the account behind a session. The session record is
// only a pointer to the account; the account row stays authoritative for
// active status, role, and tenant.
type AccountSource interface {
	GetUserByID(ctx context.Context, id string, pred policy.Predicate) (*auth.User, error)
}

// AuthMiddleware authenticates requests with a session bearer token and
// installs the principal and its tenant in the request context. The principal
// is rebuilt from the account on every request, so a deactivation or role
// change takes effect immediately instead of when the session expires.
func AuthMiddleware(sessions *auth.SessionStore, accounts AccountSource, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			principal, err := sessions.Resolve(r.Context(), token)
			if err != nil {
				logger.WithError(err).Debug("session resolution failed")
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			user, err := accounts.GetUserByID(r.Context(), principal.ID, policy.Predicate{All: true})
			if err != nil || !user.IsActive {
				if err != nil {
					logger.WithError(err).Debug("session account lookup failed")
				}
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			principal = user.Principal()

			ctx := contextkeys.WithPrincipal(r.Context(), principal)
			ctx = contextkeys.WithTenant(ctx, principal.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal returns the authenticated principal from the request context, or
// nil on an unauthenticated request.
func Principal(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	return p
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
