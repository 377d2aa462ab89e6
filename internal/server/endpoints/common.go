package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackzampolin/tally/internal/budget"
	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/types"
)

// Task statuses, matching the queue worker's result shape.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// maxBodyBytes bounds request bodies; base64 adds a third to the image cap.
const maxBodyBytes = ingest.MaxImageBytes*4/3 + 1<<20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeBody reads a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidImage), errors.Is(err, types.ErrInvalidCategorySet),
		errors.Is(err, budget.ErrInvalidFinancials), errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrExtractionFailed), errors.Is(err, pipeline.ErrAdviceFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
