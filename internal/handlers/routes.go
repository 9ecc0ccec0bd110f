package handlers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetrics mounts the Prometheus exposition on /metrics.
func RegisterMetrics(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Register mounts the health probes and the /api routes on r. /metrics is
// mounted separately so it can be disabled.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Items
	api.HandleFunc("/items", h.ListItems).Methods("GET")
	api.HandleFunc("/items", h.UpsertItems).Methods("PUT")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}/view", h.RecordView).Methods("POST")
	api.HandleFunc("/items/{id}/notes", h.SetNotes).Methods("PUT")
	api.HandleFunc("/folders", h.ListFolders).Methods("GET")

	// Annotations
	api.HandleFunc("/items/{id}/favorite/toggle", h.ToggleFavorite).Methods("POST")
	api.HandleFunc("/items/{id}/hidden/toggle", h.ToggleHidden).Methods("POST")
	api.HandleFunc("/items/{id}/rating", h.SetRating).Methods("PUT")
	api.HandleFunc("/items/{id}/rating", h.ClearRating).Methods("DELETE")

	// Tags
	api.HandleFunc("/items/{id}/tags", h.GetItemTags).Methods("GET")
	api.HandleFunc("/items/{id}/tags", h.AddItemTag).Methods("POST")
	api.HandleFunc("/items/{id}/tags", h.RemoveItemTag).Methods("DELETE")
	api.HandleFunc("/tags", h.GetAllTags).Methods("GET")
	api.HandleFunc("/tags/{name}", h.DeleteTag).Methods("DELETE")
	api.HandleFunc("/tags/{name}/rename", h.RenameTag).Methods("POST")
	api.HandleFunc("/tags/{name}/merge", h.MergeTags).Methods("POST")

	// Settings
	api.HandleFunc("/settings/{key}", h.GetSetting).Methods("GET")
	api.HandleFunc("/settings/{key}", h.PutSetting).Methods("PUT")

	// Backup and sync
	api.HandleFunc("/backup", h.ExportBackup).Methods("GET")
	api.HandleFunc("/backup/import", h.ImportBackup).Methods("POST")
	api.HandleFunc("/sync", h.SyncMetadata).Methods("POST")
}
