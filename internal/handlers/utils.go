package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

// maxBodyBytes bounds request bodies. Backup imports are the largest.
const maxBodyBytes = 32 << 20

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}

// writeJSONResponse writes v with a JSON content type.
func writeJSONResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, v)
}

// statusForError maps the store's error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, database.ErrNotInitialized), errors.Is(err, database.ErrMigrationRequired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Internal failures are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.Error("%s failed: %v", op, err)
		writeJSONError(w, op+" failed", status)
		return
	}

	var verr *database.ValidationError
	if errors.As(err, &verr) {
		writeJSONError(w, verr.Error(), status)
		return
	}
	writeJSONError(w, err.Error(), status)
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
