package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openctemio/scangate/pkg/apierror"
	"github.com/openctemio/scangate/pkg/logger"
)

// AdminAPIKeyHeader is the header name for admin API key authentication.
const AdminAPIKeyHeader = "X-Admin-API-Key"

// ActorHeader names the operator on whose behalf an admin call is made.
// It is recorded on whitelist rules and incident activity.
const ActorHeader = "X-Actor"

type actorKey struct{}

// DefaultActor is recorded when the caller does not name itself.
const DefaultActor = "admin"

// AdminAuth guards the admin API with a shared key.
type AdminAuth struct {
	apiKey []byte
	logger *logger.Logger
}

// NewAdminAuth creates the admin guard. An empty key rejects every request.
func NewAdminAuth(apiKey string, log *logger.Logger) *AdminAuth {
	return &AdminAuth{
		apiKey: []byte(apiKey),
		logger: log.With("middleware", "admin_auth"),
	}
}

// Authenticate validates the admin API key and stores the actor in context.
func (m *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())
		key := r.Header.Get(AdminAPIKeyHeader)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			apierror.Unauthorized("missing admin API key").WriteJSON(w, requestID)
			return
		}
		if len(m.apiKey) == 0 || subtle.ConstantTimeCompare([]byte(key), m.apiKey) != 1 {
			m.logger.Warn("admin auth: invalid API key", "remote_addr", ClientIP(r), "correlation_id", requestID)
			apierror.Unauthorized("invalid admin API key").WriteJSON(w, requestID)
			return
		}

		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" || len(actor) > 255 {
			actor = DefaultActor
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor returns the authenticated operator name.
func GetActor(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return DefaultActor
}
