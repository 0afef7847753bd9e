package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/logger"
)

const githubPRBody = `{
  "action": "%s",
  "number": 7,
  "pull_request": {
    "id": 9001,
    "number": 7,
    "html_url": "https://github.com/acme/api/pull/7",
    "user": {"login": "dev"},
    "head": {"ref": "feature/x", "sha": "abc123", "repo": {"statuses_url": "https://api.github.com/repos/acme/api/statuses/{sha}"}},
    "base": {"ref": "main"}
  },
  "repository": {"name": "api", "full_name": "acme/api", "clone_url": "https://github.com/acme/api.git"},
  "sender": {"login": "dev"}
}`

func githubPR(action string) []byte {
	return []byte(fmt.Sprintf(githubPRBody, action))
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) ingress(enforce bool) *IngressService {
	return NewIngressService(f.vcs, f.providers(), f.enqueuer, enforce, logger.NewNop())
}

func (f *fixture) accept(t *testing.T, s *IngressService, body []byte, h http.Header) (*AcceptResult, error) {
	t.Helper()
	if h == nil {
		h = http.Header{}
	}
	return s.Accept(context.Background(), AcceptInput{
		Provider: "github",
		VCID:     f.vc.ID.String(),
		Body:     body,
		Headers:  h,
	})
}

func TestIngress_AcceptsOpenedPR(t *testing.T) {
	f := newFixture()

	res, err := f.accept(t, f.ingress(false), githubPR("opened"), nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, msgAccepted, res.Message)
	assert.NotEmpty(t, res.CorrelationID)
	require.Len(t, f.enqueuer.events, 1)
	queued := f.enqueuer.events[0]
	assert.Equal(t, f.vc.ID.String(), queued.VCID)
	assert.Equal(t, res.CorrelationID, queued.CorrelationID)
	assert.Equal(t, event.ActionPROpened, queued.Event.Action)
	assert.Equal(t, 7, queued.Event.PR.Number)
}

func TestIngress_ActionGating(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		allowed []event.Action
		want    IngressOutcome
	}{
		{"closed pr is unmapped", "closed", nil, OutcomeSkipped},
		{"synchronize not configured", "synchronize", []event.Action{event.ActionPROpened}, OutcomeNotAllowed},
		{"synchronize configured", "synchronize", []event.Action{event.ActionPRUpdated}, OutcomeAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.allowed != nil {
				f.cfg.GitActions = tt.allowed
			}

			res, err := f.accept(t, f.ingress(false), githubPR(tt.action), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			if tt.want != OutcomeAccepted {
				assert.Empty(t, f.enqueuer.events)
			}
			if tt.want == OutcomeSkipped {
				assert.Equal(t, msgSkipped, res.Message)
			}
		})
	}
}

func TestIngress_IssueCommentCreatedIsSkipped(t *testing.T) {
	f := newFixture()
	body := []byte(`{
  "action": "created",
  "issue": {"number": 5},
  "comment": {"id": 1, "body": "+1"},
  "repository": {"name": "newrepo", "full_name": "acme/newrepo", "clone_url": "https://github.com/acme/newrepo.git"},
  "sender": {"login": "dev"}
}`)

	for _, h := range []http.Header{{}, {"X-Github-Event": {"issue_comment"}}} {
		res, err := f.accept(t, f.ingress(false), body, h)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	}
	assert.Empty(t, f.enqueuer.events)
}

func TestIngress_InactiveWebhook(t *testing.T) {
	f := newFixture()
	f.cfg.Active = false

	res, err := f.accept(t, f.ingress(false), githubPR("opened"), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAllowed, res.Outcome)
	assert.Equal(t, msgInactive, res.Message)
	assert.Empty(t, f.enqueuer.events)
}

func TestIngress_SignatureEnforcement(t *testing.T) {
	body := githubPR("opened")

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture()
		f.cfg.Secret = "s3cret"

		_, err := f.accept(t, f.ingress(true), body, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, event.ErrInvalidSignature))
		assert.Empty(t, f.enqueuer.events)
	})

	t.Run("valid signature", func(t *testing.T) {
		f := newFixture()
		f.cfg.Secret = "s3cret"
		h := http.Header{}
		h.Set("X-Hub-Signature-256", sign(body, "s3cret"))

		res, err := f.accept(t, f.ingress(true), body, h)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAccepted, res.Outcome)
	})

	t.Run("not enforced", func(t *testing.T) {
		f := newFixture()
		f.cfg.Secret = "s3cret"

		res, err := f.accept(t, f.ingress(false), body, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAccepted, res.Outcome)
	})
}

func TestIngress_Rejections(t *testing.T) {
	f := newFixture()
	s := f.ingress(false)

	t.Run("unknown provider", func(t *testing.T) {
		_, err := s.Accept(context.Background(), AcceptInput{Provider: "svn", VCID: f.vc.ID.String(), Body: githubPR("opened")})
		var verr *event.ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("malformed vc id", func(t *testing.T) {
		_, err := s.Accept(context.Background(), AcceptInput{Provider: "github", VCID: "nope", Body: githubPR("opened")})
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("unknown vc", func(t *testing.T) {
		_, err := s.Accept(context.Background(), AcceptInput{Provider: "github", VCID: shared.NewID().String(), Body: githubPR("opened")})
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("provider mismatch", func(t *testing.T) {
		_, err := s.Accept(context.Background(), AcceptInput{Provider: "gitlab", VCID: f.vc.ID.String(), Body: githubPR("opened")})
		var verr *event.ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("missing required key", func(t *testing.T) {
		_, err := f.accept(t, s, []byte(`{"pull_request": {"number": 1}, "repository": {}}`), nil)
		var verr *event.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "sender", verr.Field)
	})

	t.Run("unsupported shape", func(t *testing.T) {
		res, err := f.accept(t, s, []byte(`{"zen": "Keep it logically awesome."}`), nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	})

	assert.Empty(t, f.enqueuer.events)
}
