package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
)

// Error codes returned in API responses
const (
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeProvisioning     = "PROVISIONING_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	var containerErr *kubernetes.ContainerError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		apiErr = APIError{
			Code:    ErrCodeSessionNotFound,
			Message: err.Error(),
		}
		statusCode = http.StatusNotFound

	case errors.Is(err, session.ErrNameRequired):
		apiErr = APIError{
			Code:    ErrCodeInvalidRequest,
			Message: err.Error(),
		}
		statusCode = http.StatusBadRequest

	case errors.Is(err, session.ErrCapacityExceeded):
		apiErr = APIError{
			Code:    ErrCodeCapacityExceeded,
			Message: err.Error(),
		}
		statusCode = http.StatusConflict

	case errors.As(err, &containerErr):
		apiErr = APIError{
			Code:    ErrCodeProvisioning,
			Message: err.Error(),
			Details: map[string]interface{}{
				"session_id": containerErr.SessionID,
				"operation":  containerErr.Op,
			},
		}
		statusCode = http.StatusBadGateway

	default:
		apiErr = APIError{
			Code:    ErrCodeInternalError,
			Message: err.Error(),
		}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
