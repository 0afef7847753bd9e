package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/pkg/apierror"
	"github.com/openctemio/scangate/pkg/logger"
)

// WebhookHandler receives provider deliveries.
type WebhookHandler struct {
	service *app.IngressService
	logger  *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(svc *app.IngressService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: svc,
		logger:  log.With("handler", "webhook"),
	}
}

// WebhookResponse is the body every accepted, skipped or gated delivery gets.
type WebhookResponse struct {
	Message string `json:"message"`
}

// Receive handles POST /webhook/{vcType}/{vcID}.
// Skipped and gated deliveries still answer 200 so the provider does not retry them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierror.PayloadTooLarge().WriteJSON(w, middleware.GetRequestID(r.Context()))
			return
		}
		apierror.BadRequest("Invalid request body").WriteJSON(w, middleware.GetRequestID(r.Context()))
		return
	}

	res, err := h.service.Accept(r.Context(), app.AcceptInput{
		Provider:      chi.URLParam(r, "vcType"),
		VCID:          chi.URLParam(r, "vcID"),
		Body:          body,
		Headers:       r.Header,
		CorrelationID: middleware.GetRequestID(r.Context()),
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Message: res.Message})
}
