package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"vdotapes/internal/catalog"
	"vdotapes/internal/compat"
	"vdotapes/internal/database"
	"vdotapes/internal/querycache"
)

// setupTestServer creates a store holding the items v1 and v2 in folder a
// and v3 in folder b, and a router with every route registered.
func setupTestServer(t *testing.T) (*mux.Router, *catalog.Catalog) {
	t.Helper()

	db := database.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cat := catalog.New(db, querycache.New(0, 0), compat.New(db, compat.Options{Enabled: true}))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []struct{ id, name, folder string }{
		{"v1", "alpha.mp4", "a"},
		{"v2", "beta.mp4", "a"},
		{"v3", "gamma.mp4", "b"},
	} {
		item := &catalog.Item{
			ID:           s.id,
			Name:         s.name,
			Path:         "/media/" + s.folder + "/" + s.name,
			Folder:       s.folder,
			Size:         int64(1000 * (i + 1)),
			LastModified: base.Add(time.Duration(i) * time.Hour),
			Created:      base,
		}
		if err := cat.UpsertItem(context.Background(), item); err != nil {
			t.Fatalf("Failed to seed %s: %v", s.id, err)
		}
	}

	r := mux.NewRouter()
	New(cat).Register(r)
	return r, cat
}

func doRequest(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

// =============================================================================
// Item Tests
// =============================================================================

func TestListItemsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, _ := setupTestServer(t)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantIDs   []string
		wantTotal int
	}{
		{"default order", "", http.StatusOK, []string{"v2", "v1", "v3"}, 3},
		{"folder filter", "?folder=b", http.StatusOK, []string{"v3"}, 1},
		{"paged by size", "?sort=size&desc=true&limit=1", http.StatusOK, []string{"v3"}, 3},
		{"search", "?q=beta", http.StatusOK, []string{"v2"}, 1},
		{"bad limit", "?limit=x", http.StatusBadRequest, nil, 0},
		{"bad sort", "?sort=color", http.StatusBadRequest, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodGet, "/api/items"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp ItemsResponse
			decodeBody(t, w, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("Expected total %d, got %d", tt.wantTotal, resp.Total)
			}
			if len(resp.Items) != len(tt.wantIDs) {
				t.Fatalf("Expected %d items, got %d", len(tt.wantIDs), len(resp.Items))
			}
			for i, id := range tt.wantIDs {
				if resp.Items[i].ID != id {
					t.Errorf("items[%d] = %s, want %s", i, resp.Items[i].ID, id)
				}
			}
		})
	}
}

func TestGetItemAndFoldersIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, _ := setupTestServer(t)

	w := doRequest(t, r, http.MethodGet, "/api/items/v2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var item catalog.Item
	decodeBody(t, w, &item)
	if item.Name != "beta.mp4" || item.Folder != "a" {
		t.Errorf("Unexpected item: %+v", item)
	}

	if w := doRequest(t, r, http.MethodGet, "/api/items/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing item, got %d", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/api/folders", "")
	var folders []string
	decodeBody(t, w, &folders)
	if strings.Join(folders, ",") != "a,b" {
		t.Errorf("Expected folders a,b, got %v", folders)
	}
}

func TestItemWriteEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, cat := setupTestServer(t)
	ctx := context.Background()

	if err := cat.SetFavorite(ctx, "v1", true); err != nil {
		t.Fatalf("SetFavorite() failed: %v", err)
	}

	batch := `{"removeMissing": true, "items": [
		{"id":"v1","name":"alpha.mp4","path":"/media/a/alpha.mp4","folder":"a","size":1000,"lastModified":"2024-05-01T12:00:00Z"},
		{"name":"delta.mp4","path":"/media/c/delta.mp4","folder":"c","size":500,"lastModified":"2024-05-02T00:00:00Z"}
	]}`
	w := doRequest(t, r, http.MethodPut, "/api/items", batch)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 upserting items, got %d: %s", w.Code, w.Body.String())
	}
	var result catalog.UpsertResult
	decodeBody(t, w, &result)
	if result.Upserted != 2 || result.Removed != 2 {
		t.Errorf("Expected 2 upserted and 2 removed, got %+v", result)
	}

	derived := catalog.DeriveID("delta.mp4", 500, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	w = doRequest(t, r, http.MethodGet, "/api/items/"+derived, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected derived id %s to exist, got %d", derived, w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/items/v2", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected unannotated v2 to be removed, got %d", w.Code)
	}
	if kept, err := cat.GetItem(ctx, "v1"); err != nil || !kept.Favorite {
		t.Errorf("GetItem(v1) = %+v, %v; want favorite kept after rescan", kept, err)
	}

	for i := 0; i < 2; i++ {
		if w := doRequest(t, r, http.MethodPost, "/api/items/v1/view", ""); w.Code != http.StatusOK {
			t.Fatalf("Expected 200 recording view, got %d", w.Code)
		}
	}
	if w := doRequest(t, r, http.MethodPut, "/api/items/v1/notes", `{"notes":"opening scene"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 setting notes, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, http.MethodGet, "/api/items/v1", "")
	var item catalog.Item
	decodeBody(t, w, &item)
	if item.ViewCount != 2 || item.LastViewed == nil || item.Notes != "opening scene" {
		t.Errorf("Unexpected item after view and notes: %+v", item)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"item without path", http.MethodPut, "/api/items", `{"items":[{"id":"x","name":"x.mp4","size":1}]}`, http.StatusBadRequest},
		{"null item", http.MethodPut, "/api/items", `{"items":[null]}`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/items", `{"files":[]}`, http.StatusBadRequest},
		{"view missing item", http.MethodPost, "/api/items/nope/view", "", http.StatusNotFound},
		{"notes missing item", http.MethodPut, "/api/items/nope/notes", `{"notes":"x"}`, http.StatusNotFound},
		{"notes bad body", http.MethodPut, "/api/items/v1/notes", `{"note":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doRequest(t, r, tt.method, tt.target, tt.body); w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// =============================================================================
// Annotation Tests
// =============================================================================

func TestAnnotationEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, cat := setupTestServer(t)
	ctx := context.Background()

	w := doRequest(t, r, http.MethodPost, "/api/items/v1/favorite/toggle", "")
	var fav map[string]interface{}
	decodeBody(t, w, &fav)
	if fav["favorite"] != true {
		t.Errorf("Expected favorite=true after first toggle, got %v", fav)
	}

	w = doRequest(t, r, http.MethodPost, "/api/items/v1/hidden/toggle", "")
	var hidden map[string]interface{}
	decodeBody(t, w, &hidden)
	if hidden["hidden"] != true {
		t.Errorf("Expected hidden=true, got %v", hidden)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/items/nope/favorite/toggle", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 toggling a missing item, got %d", w.Code)
	}

	if w := doRequest(t, r, http.MethodPut, "/api/items/v2/rating", `{"rating":6}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for rating 6, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPut, "/api/items/v2/rating", `{"stars":4}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown field, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPut, "/api/items/v2/rating", `{"rating":4}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 setting rating, got %d: %s", w.Code, w.Body.String())
	}
	if rating, err := cat.Rating(ctx, "v2"); err != nil || rating != 4 {
		t.Errorf("Rating(v2) = %d, %v; want 4", rating, err)
	}

	if w := doRequest(t, r, http.MethodDelete, "/api/items/v2/rating", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 clearing rating, got %d", w.Code)
	}
	if rating, _ := cat.Rating(ctx, "v2"); rating != 0 {
		t.Errorf("Expected rating cleared, got %d", rating)
	}

	// v1 is hidden now and drops out of the default listing.
	w = doRequest(t, r, http.MethodGet, "/api/items?favorites=true", "")
	var resp ItemsResponse
	decodeBody(t, w, &resp)
	if resp.Total != 0 {
		t.Errorf("Expected hidden favorite to be excluded, got %d items", resp.Total)
	}
}

// =============================================================================
// Tag Tests
// =============================================================================

func TestTagEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, _ := setupTestServer(t)

	for _, req := range []struct{ id, tag string }{{"v1", "Action"}, {"v2", "action"}, {"v2", "Drama"}} {
		body := `{"tag":"` + req.tag + `"}`
		if w := doRequest(t, r, http.MethodPost, "/api/items/"+req.id+"/tags", body); w.Code != http.StatusOK {
			t.Fatalf("Add tag %s to %s: status %d: %s", req.tag, req.id, w.Code, w.Body.String())
		}
	}

	w := doRequest(t, r, http.MethodGet, "/api/items/v2/tags", "")
	var tags []string
	decodeBody(t, w, &tags)
	if strings.Join(tags, ",") != "Action,Drama" {
		t.Errorf("Expected tags Action,Drama, got %v", tags)
	}

	w = doRequest(t, r, http.MethodGet, "/api/tags", "")
	var all []catalog.TagCount
	decodeBody(t, w, &all)
	counts := map[string]int{}
	for _, tc := range all {
		counts[tc.Name] = tc.Count
	}
	if counts["Action"] != 2 || counts["Drama"] != 1 {
		t.Errorf("Unexpected tag counts: %v", counts)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/tags/Drama/rename", `{"newName":"ACTION"}`); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 renaming onto an existing tag, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/tags/Missing/rename", `{"newName":"X"}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 renaming a missing tag, got %d", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/tags/Drama/merge", `{"target":"Action"}`)
	var merged map[string]int
	decodeBody(t, w, &merged)
	if merged["moved"] != 0 {
		t.Errorf("Expected 0 moved (v2 already carries Action), got %d", merged["moved"])
	}

	if w := doRequest(t, r, http.MethodDelete, "/api/items/v1/tags?tag=action", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 removing tag, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodDelete, "/api/items/v1/tags", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without tag parameter, got %d", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/api/items/v1/tags", "")
	decodeBody(t, w, &tags)
	if len(tags) != 0 {
		t.Errorf("Expected v1 to have no tags, got %v", tags)
	}
}

// =============================================================================
// Settings Tests
// =============================================================================

func TestSettingsEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, _ := setupTestServer(t)

	if w := doRequest(t, r, http.MethodGet, "/api/settings/gridColumns", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unset setting, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPut, "/api/settings/gridColumns", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPut, "/api/settings/gridColumns", `5`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 storing setting, got %d", w.Code)
	}

	w := doRequest(t, r, http.MethodGet, "/api/settings/gridColumns", "")
	var got struct {
		Key   string `json:"key"`
		Value int    `json:"value"`
	}
	decodeBody(t, w, &got)
	if got.Key != "gridColumns" || got.Value != 5 {
		t.Errorf("Unexpected setting response: %+v", got)
	}
}

// =============================================================================
// Backup and Sync Tests
// =============================================================================

func TestBackupEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, cat := setupTestServer(t)
	ctx := context.Background()

	if _, err := cat.ToggleFavorite(ctx, "v1"); err != nil {
		t.Fatalf("ToggleFavorite failed: %v", err)
	}
	if err := cat.SetRating(ctx, "v3", 5); err != nil {
		t.Fatalf("SetRating failed: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/backup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Errorf("Expected attachment disposition, got %q", cd)
	}
	backup, err := catalog.ReadBackup(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Exported backup does not validate: %v", err)
	}
	if len(backup.Items) != 2 {
		t.Errorf("Expected 2 annotated items in backup, got %d", len(backup.Items))
	}

	// Clear state and restore it from the export.
	if _, err := cat.ToggleFavorite(ctx, "v1"); err != nil {
		t.Fatalf("ToggleFavorite failed: %v", err)
	}
	if err := cat.ClearRating(ctx, "v3"); err != nil {
		t.Fatalf("ClearRating failed: %v", err)
	}

	w = doRequest(t, r, http.MethodPost, "/api/backup/import", w.Body.String())
	var result catalog.ImportResult
	decodeBody(t, w, &result)
	if result.Imported != 2 || result.Skipped != 0 || result.Errors != 0 {
		t.Errorf("Unexpected import result: %+v", result)
	}
	if rating, _ := cat.Rating(ctx, "v3"); rating != 5 {
		t.Errorf("Expected rating restored to 5, got %d", rating)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/backup/import", `{"version":1,"items":[{"favorite":true}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for backup entry without path, got %d", w.Code)
	}
}

func TestSyncEndpointIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, cat := setupTestServer(t)

	body := `{
		"v1": {"favorite": true, "hidden": false, "rating": 4, "tags": ["Action"]},
		"unknown": {"favorite": true, "hidden": false, "rating": 0, "tags": []}
	}`
	w := doRequest(t, r, http.MethodPost, "/api/sync", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SyncResponse
	decodeBody(t, w, &resp)
	if resp.Requested != 2 || resp.Matched != 1 || resp.Skipped != 1 || resp.Synced != 3 {
		t.Errorf("Unexpected sync response: %+v", resp)
	}
	if resp.RunID == "" {
		t.Error("Expected a run id")
	}

	item, err := cat.GetItem(context.Background(), "v1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !item.Favorite || item.Rating != 4 {
		t.Errorf("Expected synced annotations on v1, got %+v", item)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/sync", `{"v1": {"rating": 9}}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for rating 9, got %d", w.Code)
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthEndpointsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r, cat := setupTestServer(t)

	w := doRequest(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var health HealthResponse
	decodeBody(t, w, &health)
	if health.Status != statusHealthy || !health.Ready {
		t.Errorf("Expected healthy and ready, got %+v", health)
	}
	if health.SchemaVersion != database.LatestVersion || health.TotalItems != 3 {
		t.Errorf("Unexpected store info: %+v", health)
	}

	w = doRequest(t, r, http.MethodGet, "/version", "")
	var version VersionResponse
	decodeBody(t, w, &version)
	if version.SchemaVersion != database.LatestVersion || version.StoreSchemaVersion != database.LatestVersion {
		t.Errorf("Unexpected version response: %+v", version)
	}
	if w.Header().Get("Cache-Control") != "no-cache" {
		t.Error("Expected /version to be uncached")
	}

	RegisterMetrics(r)
	if w := doRequest(t, r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("Expected Prometheus exposition from /metrics, got %d", w.Code)
	}

	if w := doRequest(t, r, http.MethodHead, "/livez", ""); w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("Expected empty 200 for HEAD /livez, got %d with %d bytes", w.Code, w.Body.Len())
	}

	if w := doRequest(t, r, http.MethodGet, "/api/items/v1", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 reading v1, got %d", w.Code)
	}

	if err := cat.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if w := doRequest(t, r, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /readyz after close, got %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/items/v1", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 reading a closed store instead of a cached item, got %d", w.Code)
	}
	w = doRequest(t, r, http.MethodGet, "/healthz", "")
	var closed HealthResponse
	decodeBody(t, w, &closed)
	if closed.SchemaVersion != 0 || closed.CompatibilityWindow {
		t.Errorf("Expected schema phase reset after close, got v%d window=%v", closed.SchemaVersion, closed.CompatibilityWindow)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/items/v1/favorite/toggle", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 writing to a closed store, got %d", w.Code)
	}
}
