package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/openctemio/scangate/internal/infra/http"
	"github.com/openctemio/scangate/internal/infra/http/handler"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/pkg/logger"
)

func newTestRouter() Router {
	router := infrahttp.NewChiRouter()
	router.Use(middleware.RequestID())
	Register(router, Handlers{Health: handler.NewHealthHandler()},
		WebhookGuards{MaxBodySize: 1 << 20},
		middleware.NewAdminAuth("secret-admin-key", logger.NewNop()))
	return router
}

func TestRegister_Routes(t *testing.T) {
	router := newTestRouter()

	registered := map[string]bool{}
	require.NoError(t, router.Walk(func(method, path string) error {
		registered[method+" "+path] = true
		return nil
	}))

	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /webhook/{vcType}/{vcID}",
		"GET /api/v1/whitelists/",
		"POST /api/v1/whitelists/",
		"PATCH /api/v1/whitelists/{id}",
		"POST /api/v1/whitelists/{id}/comments",
		"GET /api/v1/incidents/{id}",
		"PATCH /api/v1/incidents/{id}/status",
		"POST /api/v1/incidents/{id}/comments",
		"GET /api/v1/scans/{target}/{id}",
		"POST /api/v1/vcs/{vcID}/scans",
		"POST /api/v1/repositories/{repoID}/scans",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}

func TestRegister_AdminRequiresKey(t *testing.T) {
	router := newTestRouter().Handler()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whitelists", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
