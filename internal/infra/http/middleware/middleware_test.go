package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "delivery-42")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "delivery-42", seen)
	assert.Equal(t, "delivery-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "delivery-42", seen)
}

func TestAdminAuth(t *testing.T) {
	auth := NewAdminAuth("k3y-k3y-k3y", logger.NewNop())
	var actor string
	h := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = GetActor(r.Context())
	}))

	tests := []struct {
		name      string
		headers   map[string]string
		wantCode  int
		wantActor string
	}{
		{"missing key", nil, http.StatusUnauthorized, ""},
		{"wrong key", map[string]string{AdminAPIKeyHeader: "nope"}, http.StatusUnauthorized, ""},
		{"header key", map[string]string{AdminAPIKeyHeader: "k3y-k3y-k3y", ActorHeader: "alice"}, http.StatusOK, "alice"},
		{"bearer key", map[string]string{"Authorization": "Bearer k3y-k3y-k3y"}, http.StatusOK, DefaultActor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantActor, actor)
		})
	}

	t.Run("empty configured key rejects everything", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AdminAPIKeyHeader, "")
		rec := httptest.NewRecorder()
		NewAdminAuth("", logger.NewNop()).Authenticate(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimiter_PerVC(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSec: 0.001, Burst: 1, KeyFunc: VCKey}, logger.NewNop())
	defer rl.Stop()

	r := chi.NewRouter()
	r.With(rl.Middleware()).Post("/webhook/{vcType}/{vcID}", okHandler)

	send := func(vc string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/github/"+vc, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("vc-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("vc-a"))
	assert.Equal(t, http.StatusOK, send("vc-b"), "buckets are per vc")
}

func TestDecompress(t *testing.T) {
	var got []byte
	h := Decompress(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
	}))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"zen":"ok"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"zen":"ok"}`, string(got))

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("x"))
	req.Header.Set("Content-Encoding", "br")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("0123456789")))

	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop(), true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
