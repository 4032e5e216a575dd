package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/snapshot-refresher/internal/errors"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// mapServiceError maps service errors to HTTP status codes. Internal
// failures are logged and hidden behind a generic message.
func mapServiceError(r *http.Request, err error) (int, string, string, map[string]interface{}) {
	catErr := apperrors.Categorize(err)
	if catErr == nil {
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil
	}

	switch {
	case catErr.Category == apperrors.CategoryProvider:
		return http.StatusBadGateway, catErr.Code, catErr.Message, nil
	case apperrors.IsUserError(catErr):
		svcErr := catErr.ToServiceError()
		return catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details
	default:
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil
	}
}

// respondServiceError writes err using mapServiceError
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapServiceError(r, err)
	respondError(w, status, code, message, details)
}
