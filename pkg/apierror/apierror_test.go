package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ingress validation", event.MissingKey(event.ProviderGitHub, "sender"), http.StatusBadRequest},
		{"domain validation", fmt.Errorf("%w: name required", shared.ErrValidation), http.StatusBadRequest},
		{"bad signature", fmt.Errorf("github: %w", event.ErrInvalidSignature), http.StatusUnauthorized},
		{"not found", fmt.Errorf("%w: whitelist rule", shared.ErrNotFound), http.StatusNotFound},
		{"invalid state", fmt.Errorf("%w: already closed", shared.ErrInvalidState), http.StatusConflict},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, FromError(tt.err).Status)
		})
	}
}

func TestError_WriteJSONHidesInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(errors.New("pq: password authentication failed")).WriteJSON(rec, "req-1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.NotContains(t, rec.Body.String(), "password")

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeInternalError, resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)
}
