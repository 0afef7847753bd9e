package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackClient_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewSlackClient(srv.URL, "#security", 0)
	require.NoError(t, err)

	err = c.Send(context.Background(), Message{
		Title:    "2 new secrets in acme/api",
		Severity: SeverityCritical,
		URL:      "https://example.com/incidents",
		Fields:   []Field{{Label: "Critical", Value: "1"}, {Label: "High", Value: "1"}},
		Footer:   "commit abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, "#security", got["channel"])
	attachments := got["attachments"].([]any)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "#dc2626", att["color"])
	assert.Len(t, att["blocks"], 4)
}

func TestSlackClient_SendNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewSlackClient(srv.URL, "", 0)
	require.NoError(t, err)
	err = c.Send(context.Background(), Message{Title: "x"})
	assert.ErrorContains(t, err, "invalid_payload")
}

func TestNewSlackClient_RequiresURL(t *testing.T) {
	_, err := NewSlackClient("", "", 0)
	assert.Error(t, err)
}

func TestNop_IsDisabled(t *testing.T) {
	assert.ErrorIs(t, Nop{}.Send(context.Background(), Message{}), ErrDisabled)
}
