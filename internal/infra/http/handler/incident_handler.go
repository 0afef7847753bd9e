package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/pkg/domain/incident"
	"github.com/openctemio/scangate/pkg/logger"
	"github.com/openctemio/scangate/pkg/validator"
)

// IncidentHandler handles incident admin requests.
type IncidentHandler struct {
	service   *app.IncidentService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewIncidentHandler creates a new incident handler.
func NewIncidentHandler(svc *app.IncidentService, v *validator.Validator, log *logger.Logger) *IncidentHandler {
	return &IncidentHandler{
		service:   svc,
		validator: v,
		logger:    log.With("handler", "incident"),
	}
}

// IncidentResponse represents an incident in API responses.
type IncidentResponse struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Type            string              `json:"type"`
	Status          string              `json:"status"`
	ClosedBy        string              `json:"closed_by,omitempty"`
	Severity        string              `json:"severity,omitempty"`
	SecretID        string              `json:"secret_id,omitempty"`
	VulnerabilityID string              `json:"vulnerability_id,omitempty"`
	Activities      []*incident.Activity `json:"activities,omitempty"`
	Comments        []*incident.Comment  `json:"comments,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toIncidentResponse(inc *incident.Incident) IncidentResponse {
	resp := IncidentResponse{
		ID:        inc.ID().String(),
		Name:      inc.Name(),
		Type:      string(inc.Type()),
		Status:    string(inc.Status()),
		ClosedBy:  string(inc.ClosedBy()),
		Severity:  inc.Severity(),
		CreatedAt: inc.CreatedAt(),
		UpdatedAt: inc.UpdatedAt(),
	}
	if !inc.SecretID().IsZero() {
		resp.SecretID = inc.SecretID().String()
	}
	if !inc.VulnerabilityID().IsZero() {
		resp.VulnerabilityID = inc.VulnerabilityID().String()
	}
	return resp
}

// UpdateIncidentStatusRequest is the body of PATCH /api/v1/incidents/{id}/status.
type UpdateIncidentStatusRequest struct {
	Status string `json:"status" validate:"required,incident_status"`
}

// IncidentCommentRequest is the body of POST /api/v1/incidents/{id}/comments.
type IncidentCommentRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// Get handles GET /api/v1/incidents/{id}
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	resp := toIncidentResponse(detail.Incident)
	resp.Activities = detail.Activities
	resp.Comments = detail.Comments
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PATCH /api/v1/incidents/{id}/status
func (h *IncidentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	inc, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, middleware.GetActor(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toIncidentResponse(inc))
}

// AddComment handles POST /api/v1/incidents/{id}/comments
func (h *IncidentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req IncidentCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	c, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), req.Content, middleware.GetActor(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
