package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
)

// maxBodyBytes caps request bodies; trigger options are tiny
const maxBodyBytes = 64 << 10

// envelope is the body of every API response
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeData writes a success envelope around data
func writeData(w http.ResponseWriter, status int, data any) {
	_ = writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError writes a failure envelope
func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeErr maps err to a status code and writes a failure envelope.
// Internal errors are logged and their text is not exposed.
func writeErr(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorw("Request failed", "error", err, "details", errors.GetAllDetails(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsRejected(err), errors.IsStorageUnavailable(err), errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes a request body into v. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}

// parseIntQueryParam reads an integer query parameter clamped to [minVal, maxVal]
func parseIntQueryParam(r *http.Request, name string, defaultVal, minVal, maxVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "%s must be an integer", name)
	}
	return max(minVal, min(n, maxVal)), nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
