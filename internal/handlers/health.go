package handlers

import (
	"net/http"
	"runtime"
	"time"

	"vdotapes/internal/database"
	"vdotapes/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Store info
	SchemaVersion       int  `json:"schemaVersion"`
	LatestVersion       int  `json:"latestVersion"`
	CompatibilityWindow bool `json:"compatibilityWindow"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Stats summary
	TotalItems int `json:"totalItems,omitempty"`
	TotalTags  int `json:"totalTags,omitempty"`
}

// HealthCheck returns the health status of the service. A store that is
// behind the latest schema version reports degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ready := h.db.IsInitialized()

	response := HealthResponse{
		Ready:               ready,
		Version:             startup.Version,
		Uptime:              time.Since(h.startTime).Round(time.Second).String(),
		SchemaVersion:       h.db.SchemaVersion(),
		LatestVersion:       database.LatestVersion,
		CompatibilityWindow: h.db.InCompatibilityWindow(),
		GoVersion:           runtime.Version(),
		NumCPU:              runtime.NumCPU(),
		NumGoroutine:        runtime.NumGoroutine(),
	}

	switch {
	case !ready:
		response.Status = statusStarting
	case response.SchemaVersion < database.LatestVersion:
		response.Status = statusDegraded
	default:
		response.Status = statusHealthy
	}

	if ready {
		if stats, err := h.catalog.Stats(r.Context()); err == nil {
			response.TotalItems = stats.TotalItems
			response.TotalTags = stats.TotalTags
		}
	}

	w.Header().Set("Content-Type", "application/json")

	// Return 503 only if not ready at all
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the store is open
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.db.IsInitialized() {
		w.WriteHeader(http.StatusOK)
		writeJSON(w, map[string]string{
			"status": "ready",
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{
			"status": "not_ready",
		})
	}
}

// VersionResponse is the build information plus the schema phase of the
// open store, which can lag the binary after a rollback.
type VersionResponse struct {
	startup.BuildInfo
	StoreSchemaVersion  int  `json:"storeSchemaVersion"`
	CompatibilityWindow bool `json:"compatibilityWindow"`
}

// GetVersion returns the build and schema versions
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, VersionResponse{
		BuildInfo:           startup.GetBuildInfo(),
		StoreSchemaVersion:  h.db.SchemaVersion(),
		CompatibilityWindow: h.db.InCompatibilityWindow(),
	})
}
