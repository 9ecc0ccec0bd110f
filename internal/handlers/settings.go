package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"vdotapes/internal/database"
)

// GetSetting returns the stored JSON value of a setting
func (h *Handlers) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var value json.RawMessage
	found, err := h.catalog.GetSetting(r.Context(), key, &value)
	if err != nil {
		writeError(w, "Get setting", err)
		return
	}
	if !found {
		writeJSONError(w, "Setting not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"key": key, "value": value})
}

// PutSetting stores the request body, which must be a JSON value
func (h *Handlers) PutSetting(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		writeError(w, "Set setting", database.NewValidationError("value", "body is not valid JSON"))
		return
	}

	if err := h.catalog.SetSetting(r.Context(), mux.Vars(r)["key"], json.RawMessage(body)); err != nil {
		writeError(w, "Set setting", err)
		return
	}
	writeJSONStatus(w, "ok")
}
