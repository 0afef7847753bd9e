package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openctemio/scangate/internal/infra/http/middleware"
	"github.com/openctemio/scangate/pkg/apierror"
	"github.com/openctemio/scangate/pkg/logger"
	"github.com/openctemio/scangate/pkg/validator"
)

// ListResponse represents a paginated list response.
type ListResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON body into dst, writing the error response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierror.PayloadTooLarge().WriteJSON(w, middleware.GetRequestID(r.Context()))
			return false
		}
		apierror.BadRequest("Invalid request body").WriteJSON(w, middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// handleServiceError maps a service error onto the response and logs 5xx.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		details := make([]apierror.FieldError, 0, len(vErrs))
		for _, e := range vErrs {
			details = append(details, apierror.FieldError{Field: e.Field, Message: e.Message})
		}
		apierror.ValidationFailed("Validation failed", details).WriteJSON(w, requestID)
		return
	}

	apiErr := apierror.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.WithContext(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
	}
	apiErr.WriteJSON(w, requestID)
}

func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

func parseQueryBool(s string) *bool {
	if s == "" {
		return nil
	}
	val := s == "true" || s == "1"
	return &val
}
