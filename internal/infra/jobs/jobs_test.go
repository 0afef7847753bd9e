package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/logger"
)

func TestRetryDelay_RepositoryScanBacksOffExponentially(t *testing.T) {
	delay := RetryDelay(10 * time.Second)
	task, err := NewRepositoryScanTask(RepositoryScanPayload{ScanID: "s1"}, 15*time.Minute, 3)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, delay(0, errors.New("x"), task))
	assert.Equal(t, 20*time.Second, delay(1, errors.New("x"), task))
	assert.Equal(t, 40*time.Second, delay(2, errors.New("x"), task))
}

func TestBackoff_Clamped(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, -1))
	assert.Equal(t, time.Second*(1<<16), backoff(time.Second, 40))
}

func TestNewWebhookEventTask_PayloadRoundTrip(t *testing.T) {
	p := WebhookEventPayload{
		CorrelationID: "c-1",
		VCID:          "vc",
		Event:         &event.CanonicalEvent{Provider: event.ProviderGitHub, Domain: event.DomainPush, RepoFullName: "acme/api"},
	}
	task, err := NewWebhookEventTask(p)
	require.NoError(t, err)
	assert.Equal(t, TypeWebhookEvent, task.Type())

	var got WebhookEventPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	assert.Equal(t, "acme/api", got.Event.RepoFullName)
	assert.Equal(t, "c-1", got.CorrelationID)
}

type recordingDispatcher struct {
	correlationID string
	payload       WebhookEventPayload
	err           error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, p WebhookEventPayload) error {
	r.correlationID = logger.CorrelationID(ctx)
	r.payload = p
	return r.err
}

type recordingRepublisher struct{ calls int }

func (r *recordingRepublisher) Republish(context.Context, WhitelistRepublishPayload) error {
	r.calls++
	return nil
}

func discardLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTaskHandler_WebhookEventRestoresCorrelationID(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewTaskHandler(d, nil, nil, nil, discardLog())

	task, err := NewWebhookEventTask(WebhookEventPayload{
		CorrelationID: "corr-42",
		Event:         &event.CanonicalEvent{RepoFullName: "acme/api"},
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleWebhookEvent(context.Background(), task))
	assert.Equal(t, "corr-42", d.correlationID)
	assert.Equal(t, "acme/api", d.payload.Event.RepoFullName)
}

func TestTaskHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	h := NewTaskHandler(&recordingDispatcher{}, nil, nil, &recordingRepublisher{}, discardLog())

	err := h.HandleWebhookEvent(context.Background(), asynq.NewTask(TypeWebhookEvent, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.HandleWebhookEvent(context.Background(), asynq.NewTask(TypeWebhookEvent, []byte(`{"vc_id":"x"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry), "missing event is not retryable")
}

func TestTaskHandler_RegistersOnlyConfiguredProcessors(t *testing.T) {
	rp := &recordingRepublisher{}
	h := NewTaskHandler(nil, nil, nil, rp, discardLog())
	mux := asynq.NewServeMux()
	h.RegisterHandlers(mux)

	task, err := NewWhitelistRepublishTask(WhitelistRepublishPayload{PRScanID: "p"})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, rp.calls)

	err = mux.ProcessTask(context.Background(), asynq.NewTask(TypeWebhookEvent, nil))
	assert.Error(t, err, "unregistered task type falls through to NotFound")
}

type countingEnqueuer struct{ n int }

func (c *countingEnqueuer) EnqueueRepositorySweep(context.Context) error {
	c.n++
	return nil
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every ten minutes", &countingEnqueuer{}, logger.NewNop())
	assert.Error(t, err)

	s, err := NewScheduler("*/10 * * * *", &countingEnqueuer{}, logger.NewNop())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
