package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/driver"
	"github.com/Dijker/com.netatmo/internal/netatmo"
	cloudsync "github.com/Dijker/com.netatmo/internal/sync"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeTimeout        = "timeout"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorStatus maps a domain error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnknownAccount),
		errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrCapabilityUnsupported),
		errors.Is(err, driver.ErrUnknownDriver):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, auth.ErrAccountInUse),
		errors.Is(err, auth.ErrIdentityMismatch),
		errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, driver.ErrWrongDriver):
		return http.StatusConflict, ErrCodeConflict

	case errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, device.ErrInvalidDevice),
		driver.IsClientError(err):
		return http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, auth.ErrAuthenticationFailed):
		return http.StatusUnauthorized, ErrCodeUnauthorized

	case errors.Is(err, cloudsync.ErrNotAuthenticated),
		errors.Is(err, driver.ErrNotAuthenticated),
		errors.Is(err, cloudsync.ErrNoValue),
		errors.Is(err, cloudsync.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable

	case errors.Is(err, cloudsync.ErrRetriesExhausted),
		errors.Is(err, netatmo.ErrTransient),
		errors.Is(err, netatmo.ErrUnauthorized):
		return http.StatusBadGateway, ErrCodeUpstream

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout

	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeServiceError answers with the status errorStatus picks. Internal
// errors are logged and their text is not sent to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

var errInvalidLimit = errors.New("limit must be a positive integer")
