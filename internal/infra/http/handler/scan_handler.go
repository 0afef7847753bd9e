package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/pkg/domain/repository"
	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/logger"
)

// ScanHandler exposes scan state and full repository scan triggers.
type ScanHandler struct {
	scans    *app.ScanQueryService
	repoScan *app.RepositoryScanService
	logger   *logger.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(scans *app.ScanQueryService, repoScan *app.RepositoryScanService, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		scans:    scans,
		repoScan: repoScan,
		logger:   log.With("handler", "scan"),
	}
}

// ScanResponse represents a PR or live-commit scan.
type ScanResponse struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	ParentID     string     `json:"parent_id"`
	RepositoryID string     `json:"repository_id"`
	VCID         string     `json:"vc_id"`
	Type         string     `json:"scan_type"`
	Status       string     `json:"status"`
	BlockStatus  bool       `json:"block_status"`
	Findings     int        `json:"findings"`
	Blocking     int        `json:"blocking"`
	New          int        `json:"new"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toScanResponse(s *scan.Scan) ScanResponse {
	o := s.Outcome()
	return ScanResponse{
		ID:           s.ID().String(),
		Target:       string(s.Target()),
		ParentID:     s.ParentID().String(),
		RepositoryID: s.RepositoryID().String(),
		VCID:         s.VCID().String(),
		Type:         string(s.Type()),
		Status:       string(s.Status()),
		BlockStatus:  s.BlockStatus(),
		Findings:     o.Findings,
		Blocking:     o.Blocking,
		New:          o.New,
		Error:        s.Error(),
		StartedAt:    s.StartedAt(),
		CompletedAt:  s.CompletedAt(),
		CreatedAt:    s.CreatedAt(),
	}
}

// RepositoryScanResponse represents a full repository scan.
type RepositoryScanResponse struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`
	VCID         string     `json:"vc_id"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toRepositoryScanResponse(rs *repository.Scan) RepositoryScanResponse {
	return RepositoryScanResponse{
		ID:           rs.ID.String(),
		RepositoryID: rs.RepoID.String(),
		VCID:         rs.VCID.String(),
		Status:       string(rs.Status),
		Attempts:     rs.Attempts,
		Error:        rs.Error,
		StartedAt:    rs.StartedAt,
		CompletedAt:  rs.CompletedAt,
		CreatedAt:    rs.CreatedAt,
	}
}

// Get handles GET /api/v1/scans/{target}/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.scans.Get(r.Context(), chi.URLParam(r, "target"), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(s))
}

// GetRepositoryScan handles GET /api/v1/repository-scans/{id}
func (h *ScanHandler) GetRepositoryScan(w http.ResponseWriter, r *http.Request) {
	rs, err := h.repoScan.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRepositoryScanResponse(rs))
}

// TriggerVC handles POST /api/v1/vcs/{vcID}/scans
func (h *ScanHandler) TriggerVC(w http.ResponseWriter, r *http.Request) {
	scans, err := h.repoScan.TriggerVC(r.Context(), chi.URLParam(r, "vcID"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	data := make([]RepositoryScanResponse, 0, len(scans))
	for _, rs := range scans {
		data = append(data, toRepositoryScanResponse(rs))
	}
	writeJSON(w, http.StatusAccepted, ListResponse[RepositoryScanResponse]{
		Data:  data,
		Total: int64(len(data)),
		Limit: len(data),
	})
}

// TriggerRepository handles POST /api/v1/repositories/{repoID}/scans
func (h *ScanHandler) TriggerRepository(w http.ResponseWriter, r *http.Request) {
	rs, err := h.repoScan.TriggerRepository(r.Context(), chi.URLParam(r, "repoID"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRepositoryScanResponse(rs))
}
