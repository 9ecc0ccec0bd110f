package handlers

import (
	"fmt"
	"net/http"
	"time"

	"vdotapes/internal/catalog"
	"vdotapes/internal/logging"
)

// ExportBackup downloads the annotations of every annotated item
func (h *Handlers) ExportBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := h.catalog.ExportBackup(r.Context())
	if err != nil {
		writeError(w, "Export backup", err)
		return
	}

	filename := fmt.Sprintf("vdotapes-backup-%s.json", backup.ExportedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := catalog.WriteBackup(w, backup); err != nil {
		logging.Error("failed to write backup response: %v", err)
	}
}

// ImportBackup applies an uploaded backup and reports per-entry results
func (h *Handlers) ImportBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := catalog.ReadBackup(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "Import backup", err)
		return
	}

	result, err := h.catalog.ImportBackup(r.Context(), backup)
	if err != nil {
		writeError(w, "Import backup", err)
		return
	}
	writeJSONResponse(w, result)
}

// SyncResponse reports a metadata sync run
type SyncResponse struct {
	RunID      string `json:"runId"`
	Requested  int    `json:"requested"`
	Matched    int    `json:"matched"`
	Skipped    int    `json:"skipped"`
	Synced     int    `json:"synced"`
	DurationMs int64  `json:"durationMs"`
}

// SyncMetadata applies a map of item id to metadata in one transaction
func (h *Handlers) SyncMetadata(w http.ResponseWriter, r *http.Request) {
	var entries map[string]catalog.ItemMetadata
	if !decodeJSON(w, r, &entries) {
		return
	}

	result, err := h.catalog.SyncMetadata(r.Context(), entries)
	if err != nil {
		writeError(w, "Sync metadata", err)
		return
	}
	writeJSONResponse(w, SyncResponse{
		RunID:      result.RunID,
		Requested:  result.Requested,
		Matched:    result.Matched,
		Skipped:    result.Skipped,
		Synced:     result.Synced,
		DurationMs: result.Duration.Round(time.Millisecond).Milliseconds(),
	})
}
