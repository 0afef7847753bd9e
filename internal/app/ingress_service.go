package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/internal/infra/scm"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/vcs"
	"github.com/openctemio/scangate/pkg/logger"
)

// IngressOutcome is how a delivery was handled. Every outcome answers 200.
type IngressOutcome string

const (
	OutcomeAccepted   IngressOutcome = "accepted"
	OutcomeSkipped    IngressOutcome = "skipped"
	OutcomeNotAllowed IngressOutcome = "not_allowed"
)

// Response messages.
const (
	msgAccepted   = "Payload received. Processing will continue."
	msgSkipped    = "Action not allowed. Skipping processing"
	msgNotAllowed = "Action not allowed %s. Skipping processing"
	msgInactive   = "Webhook is not active. Skipping processing"
)

// AcceptInput is one raw webhook delivery.
type AcceptInput struct {
	Provider      string
	VCID          string
	Body          []byte
	Headers       http.Header
	CorrelationID string
}

// AcceptResult is returned to the provider as {message}.
type AcceptResult struct {
	Outcome       IngressOutcome
	Message       string
	CorrelationID string
	Event         *event.CanonicalEvent
}

// IngressService validates, normalizes and gates webhook deliveries, then hands
// accepted events to the worker queue.
type IngressService struct {
	vcs              vcs.Repository
	providers        Providers
	enqueuer         Enqueuer
	enforceSignature bool
	logger           *logger.Logger
}

// NewIngressService creates an IngressService. When enforceSignature is set, deliveries
// for a webhook config with a secret must carry a valid signature.
func NewIngressService(vcRepo vcs.Repository, providers Providers, enqueuer Enqueuer, enforceSignature bool, log *logger.Logger) *IngressService {
	return &IngressService{
		vcs:              vcRepo,
		providers:        providers,
		enqueuer:         enqueuer,
		enforceSignature: enforceSignature,
		logger:           log.With("service", "ingress"),
	}
}

// Accept processes one delivery. Errors are validation (400), signature (401),
// not found (404) or internal (500) failures.
func (s *IngressService) Accept(ctx context.Context, in AcceptInput) (res *AcceptResult, err error) {
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}
	ctx = logger.WithCorrelationID(ctx, in.CorrelationID)

	provider, perr := event.ParseProvider(in.Provider)
	defer func() {
		metrics.WebhooksTotal.WithLabelValues(string(provider), ingressLabel(res, err)).Inc()
	}()
	if perr != nil {
		return nil, &event.ValidationError{Message: perr.Error()}
	}
	vcID, err := shared.IDFromString(in.VCID)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithContext(ctx).With("vc_id", vcID.String(), "provider", string(provider))

	vc, err := s.vcs.GetByID(ctx, vcID)
	if err != nil {
		return nil, err
	}
	if vc.Provider != provider {
		return nil, &event.ValidationError{Provider: provider, Message: fmt.Sprintf("vc %s is a %s connection", vcID, vc.Provider)}
	}
	cfg, err := s.vcs.GetWebhookConfig(ctx, vcID)
	if errors.Is(err, shared.ErrNotFound) {
		return s.result(OutcomeNotAllowed, msgInactive, in, nil), nil
	}
	if err != nil {
		return nil, err
	}
	if !vc.Active || !cfg.Active {
		return s.result(OutcomeNotAllowed, msgInactive, in, nil), nil
	}

	prov, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}
	if s.enforceSignature && cfg.Secret != "" {
		if err := prov.VerifySignature(in.Body, in.Headers, cfg.Secret); err != nil {
			log.Warn("webhook signature rejected", "error", err)
			if !errors.Is(err, event.ErrInvalidSignature) {
				err = fmt.Errorf("%w: %v", event.ErrInvalidSignature, err)
			}
			return nil, err
		}
	}

	payload, err := scm.DecodePayload(in.Body)
	if err != nil {
		return nil, err
	}
	ev, err := prov.ExtractEvent(payload, in.Headers)
	if errors.Is(err, event.ErrUnsupportedEvent) {
		log.Info("unsupported webhook event skipped")
		return s.result(OutcomeSkipped, msgSkipped, in, nil), nil
	}
	if err != nil {
		log.Warn("invalid webhook payload", "error", err)
		return nil, err
	}
	log = log.With("repo", ev.RepoFullName, "domain", string(ev.Domain), "raw_event", ev.RawEvent)

	// Repository creation has no configurable action and always proceeds.
	if ev.Domain != event.DomainRepoCreate {
		if ev.Action == "" {
			log.Info("unmapped webhook action skipped")
			return s.result(OutcomeSkipped, msgSkipped, in, ev), nil
		}
		if !cfg.Allows(provider, ev.RawEvent) {
			log.Info("webhook action not allowed", "action", string(ev.Action))
			return s.result(OutcomeNotAllowed, fmt.Sprintf(msgNotAllowed, ev.Action), in, ev), nil
		}
	}

	if err := s.enqueuer.EnqueueWebhookEvent(ctx, jobs.WebhookEventPayload{
		CorrelationID:   in.CorrelationID,
		VCID:            vc.ID.String(),
		WebhookConfigID: cfg.ID.String(),
		Event:           ev,
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue webhook event: %w", err)
	}
	log.Info("webhook accepted", "action", string(ev.Action))
	return s.result(OutcomeAccepted, msgAccepted, in, ev), nil
}

func (s *IngressService) result(o IngressOutcome, msg string, in AcceptInput, ev *event.CanonicalEvent) *AcceptResult {
	return &AcceptResult{Outcome: o, Message: msg, CorrelationID: in.CorrelationID, Event: ev}
}

func ingressLabel(res *AcceptResult, err error) string {
	var vErr *event.ValidationError
	switch {
	case err == nil && res != nil:
		return string(res.Outcome)
	case errors.As(err, &vErr), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, event.ErrInvalidSignature):
		return "unauthorized"
	}
	return "error"
}
