package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/whitelist"
	"github.com/openctemio/scangate/pkg/logger"
	"github.com/openctemio/scangate/pkg/validator"
)

// WhitelistHandler handles whitelist rule admin requests.
type WhitelistHandler struct {
	service   *app.WhitelistService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWhitelistHandler creates a new whitelist handler.
func NewWhitelistHandler(svc *app.WhitelistService, v *validator.Validator, log *logger.Logger) *WhitelistHandler {
	return &WhitelistHandler{
		service:   svc,
		validator: v,
		logger:    log.With("handler", "whitelist"),
	}
}

// WhitelistCommentResponse is one note on a rule.
type WhitelistCommentResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// WhitelistResponse represents a rule in API responses.
type WhitelistResponse struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Name      *string                    `json:"name,omitempty"`
	Repos     []string                   `json:"repos"`
	VCs       []string                   `json:"vcs"`
	Global    bool                       `json:"global"`
	Active    bool                       `json:"active"`
	Comments  []WhitelistCommentResponse `json:"comments,omitempty"`
	CreatedBy string                     `json:"created_by"`
	UpdatedBy string                     `json:"updated_by,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// ReconcileResponse summarises what a mutation changed in the finding population.
type ReconcileResponse struct {
	Tagged            int `json:"tagged"`
	Untagged          int `json:"untagged"`
	IncidentsClosed   int `json:"incidents_closed"`
	IncidentsReopened int `json:"incidents_reopened"`
	PRsRepublished    int `json:"prs_republished"`
}

// WhitelistMutationResponse is returned by create and update.
type WhitelistMutationResponse struct {
	Rule      WhitelistResponse  `json:"rule"`
	Reconcile *ReconcileResponse `json:"reconcile,omitempty"`
}

func toWhitelistResponse(r *whitelist.Rule) WhitelistResponse {
	resp := WhitelistResponse{
		ID:        r.ID().String(),
		Type:      string(r.Type()),
		Name:      r.Name(),
		Repos:     idStrings(r.Repos()),
		VCs:       idStrings(r.VCs()),
		Global:    r.IsGlobal(),
		Active:    r.IsActive(),
		CreatedBy: r.CreatedBy(),
		UpdatedBy: r.UpdatedBy(),
		CreatedAt: r.CreatedAt(),
		UpdatedAt: r.UpdatedAt(),
	}
	for _, c := range r.Comments() {
		resp.Comments = append(resp.Comments, toWhitelistCommentResponse(c))
	}
	return resp
}

func toWhitelistCommentResponse(c whitelist.Comment) WhitelistCommentResponse {
	return WhitelistCommentResponse{ID: c.ID.String(), Text: c.Text, Author: c.Author, CreatedAt: c.CreatedAt}
}

func toMutationResponse(r *whitelist.Rule, res *whitelist.ReconcileResult) WhitelistMutationResponse {
	out := WhitelistMutationResponse{Rule: toWhitelistResponse(r)}
	if res != nil {
		out.Reconcile = &ReconcileResponse{
			Tagged:            res.Tagged,
			Untagged:          res.Untagged,
			IncidentsClosed:   len(res.ClosedIncidents),
			IncidentsReopened: len(res.ReopenedIncidents),
			PRsRepublished:    len(res.AffectedPRScans),
		}
	}
	return out
}

func idStrings(ids []shared.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseIDs(ss []string) ([]shared.ID, error) {
	out := make([]shared.ID, 0, len(ss))
	for _, s := range ss {
		id, err := shared.IDFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// CreateWhitelistRequest is the body of POST /api/v1/whitelists.
type CreateWhitelistRequest struct {
	Type    string   `json:"type" validate:"required,whitelist_type"`
	Name    *string  `json:"name" validate:"omitempty,min=1,max=1000"`
	Repos   []string `json:"repos" validate:"max=500,dive,uuid"`
	VCs     []string `json:"vcs" validate:"max=100,dive,uuid"`
	Global  bool     `json:"global"`
	Comment string   `json:"comment" validate:"max=2000"`
}

// UpdateWhitelistRequest is the body of PATCH /api/v1/whitelists/{id}.
// Absent fields are left unchanged; clear_name drops the name.
type UpdateWhitelistRequest struct {
	Name      *string   `json:"name" validate:"omitempty,min=1,max=1000"`
	ClearName bool      `json:"clear_name"`
	Repos     *[]string `json:"repos" validate:"omitempty,max=500,dive,uuid"`
	VCs       *[]string `json:"vcs" validate:"omitempty,max=100,dive,uuid"`
	Global    *bool     `json:"global"`
	Active    *bool     `json:"active"`
}

// CommentRequest is the body of the comment endpoints.
type CommentRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// Create handles POST /api/v1/whitelists
func (h *WhitelistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWhitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	repos, err := parseIDs(req.Repos)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	vcs, err := parseIDs(req.VCs)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	rule, res, err := h.service.Create(r.Context(), app.CreateWhitelistInput{
		Type:    req.Type,
		Name:    req.Name,
		Repos:   repos,
		VCs:     vcs,
		Global:  req.Global,
		Comment: req.Comment,
	}, middleware.GetActor(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(rule, res))
}

// Update handles PATCH /api/v1/whitelists/{id}
func (h *WhitelistHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateWhitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	in := app.UpdateWhitelistInput{
		Name:      req.Name,
		ClearName: req.ClearName,
		Global:    req.Global,
		Active:    req.Active,
	}
	if req.Repos != nil {
		repos, err := parseIDs(*req.Repos)
		if err != nil {
			handleServiceError(w, r, h.logger, err)
			return
		}
		in.Repos = &repos
	}
	if req.VCs != nil {
		vcs, err := parseIDs(*req.VCs)
		if err != nil {
			handleServiceError(w, r, h.logger, err)
			return
		}
		in.VCs = &vcs
	}

	rule, res, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in, middleware.GetActor(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(rule, res))
}

// Get handles GET /api/v1/whitelists/{id}
func (h *WhitelistHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWhitelistResponse(rule))
}

// List handles GET /api/v1/whitelists
func (h *WhitelistHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := app.ListWhitelistsInput{
		Type:         q.Get("type"),
		Active:       parseQueryBool(q.Get("active")),
		Global:       parseQueryBool(q.Get("global")),
		Name:         q.Get("name"),
		RepositoryID: q.Get("repository_id"),
		VCID:         q.Get("vc_id"),
		Limit:        parseQueryInt(q.Get("limit"), 50),
		Offset:       parseQueryInt(q.Get("offset"), 0),
	}
	if err := h.validator.Validate(in); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	rules, total, err := h.service.List(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	data := make([]WhitelistResponse, 0, len(rules))
	for _, rule := range rules {
		data = append(data, toWhitelistResponse(rule))
	}
	writeJSON(w, http.StatusOK, ListResponse[WhitelistResponse]{
		Data:   data,
		Total:  total,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
}

// AddComment handles POST /api/v1/whitelists/{id}/comments
func (h *WhitelistHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	c, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), req.Text, middleware.GetActor(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWhitelistCommentResponse(c))
}
