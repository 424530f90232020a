package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/al-bashkir/oidc-broker/internal/broker"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every error response
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: headers/status are already written.
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response carrying the request id.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: requestIDFrom(r.Context()),
	})
}

// statusFor maps broker errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrMissingToken):
		return http.StatusPreconditionFailed
	case errors.Is(err, broker.ErrInvalidState),
		errors.Is(err, broker.ErrStateExpired),
		errors.Is(err, broker.ErrTokenVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrUnauthorized),
		errors.Is(err, broker.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, broker.ErrUnknownProvider):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeBrokerError writes err with the status statusFor assigns it. Internal
// errors are logged and reported without detail.
func writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", sanitizeLog(requestIDFrom(r.Context())),
			"path", sanitizeLog(r.URL.Path),
			"error", err,
		)
		writeError(w, r, status, "internal server error")
		return
	}
	writeError(w, r, status, err.Error())
}

// isJSON reports whether the request declares a JSON body.
func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
