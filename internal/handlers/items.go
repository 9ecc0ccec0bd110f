package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"vdotapes/internal/catalog"
	"vdotapes/internal/database"
)

// ItemsResponse is a page of items plus the total matching the filter.
type ItemsResponse struct {
	Items []catalog.Item `json:"items"`
	Total int            `json:"total"`
}

// RatingRequest sets an item's star rating
type RatingRequest struct {
	Rating int `json:"rating"`
}

// UpsertItemsRequest is a scanner batch. Items without an id get one
// derived from name, size and modification time.
type UpsertItemsRequest struct {
	Items         []*catalog.Item `json:"items"`
	RemoveMissing bool            `json:"removeMissing"`
}

// NotesRequest replaces an item's free-text notes
type NotesRequest struct {
	Notes string `json:"notes"`
}

// parseListOptions reads ListItems filters from the query string.
func parseListOptions(q url.Values) (catalog.ListOptions, error) {
	opts := catalog.ListOptions{
		Folder: q.Get("folder"),
		Tag:    q.Get("tag"),
		Search: q.Get("q"),
		Sort:   catalog.SortKey(q.Get("sort")),
	}

	var err error
	if opts.FavoritesOnly, err = queryBool(q, "favorites"); err != nil {
		return opts, err
	}
	if opts.HiddenOnly, err = queryBool(q, "hiddenOnly"); err != nil {
		return opts, err
	}
	if opts.ShowHidden, err = queryBool(q, "showHidden"); err != nil {
		return opts, err
	}
	if opts.Desc, err = queryBool(q, "desc"); err != nil {
		return opts, err
	}
	if opts.MinRating, err = queryInt(q, "minRating"); err != nil {
		return opts, err
	}
	if opts.Limit, err = queryInt(q, "limit"); err != nil {
		return opts, err
	}
	if opts.Offset, err = queryInt(q, "offset"); err != nil {
		return opts, err
	}
	return opts, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, database.NewValidationError(key, "invalid boolean %q", v)
	}
	return b, nil
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, database.NewValidationError(key, "invalid integer %q", v)
	}
	return n, nil
}

// ListItems returns a filtered page of items
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, "List items", err)
		return
	}

	items, err := h.catalog.ListItems(r.Context(), opts)
	if err != nil {
		writeError(w, "List items", err)
		return
	}
	total, err := h.catalog.CountItems(r.Context(), opts)
	if err != nil {
		writeError(w, "Count items", err)
		return
	}

	if items == nil {
		items = []catalog.Item{}
	}
	writeJSONResponse(w, ItemsResponse{Items: items, Total: total})
}

// GetItem returns a single item with its tags
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Get item", err)
		return
	}
	writeJSONResponse(w, item)
}

// UpsertItems inserts or refreshes a batch of scanned items
func (h *Handlers) UpsertItems(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	for i, item := range req.Items {
		if item == nil {
			writeError(w, "Upsert items", database.NewValidationError("items", "entry %d is null", i))
			return
		}
		if item.ID == "" {
			item.ID = catalog.DeriveID(item.Name, item.Size, item.LastModified)
		}
	}

	result, err := h.catalog.UpsertItems(r.Context(), req.Items, catalog.UpsertOptions{RemoveMissing: req.RemoveMissing})
	if err != nil {
		writeError(w, "Upsert items", err)
		return
	}
	writeJSONResponse(w, result)
}

// RecordView bumps an item's view count
func (h *Handlers) RecordView(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.RecordView(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, "Record view", err)
		return
	}
	writeJSONStatus(w, "ok")
}

// SetNotes replaces an item's notes
func (h *Handlers) SetNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.catalog.SetNotes(r.Context(), id, req.Notes); err != nil {
		writeError(w, "Set notes", err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"id": id, "notes": req.Notes})
}

// ListFolders returns the distinct folders
func (h *Handlers) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.catalog.ListFolders(r.Context())
	if err != nil {
		writeError(w, "List folders", err)
		return
	}
	if folders == nil {
		folders = []string{}
	}
	writeJSONResponse(w, folders)
}

// ToggleFavorite flips the favorite flag and returns the new state
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	favorite, err := h.catalog.ToggleFavorite(r.Context(), id)
	if err != nil {
		writeError(w, "Toggle favorite", err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"id": id, "favorite": favorite})
}

// ToggleHidden flips the hidden flag and returns the new state
func (h *Handlers) ToggleHidden(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hidden, err := h.catalog.ToggleHidden(r.Context(), id)
	if err != nil {
		writeError(w, "Toggle hidden", err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"id": id, "hidden": hidden})
}

// SetRating stores a 1-5 rating
func (h *Handlers) SetRating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.catalog.SetRating(r.Context(), id, req.Rating); err != nil {
		writeError(w, "Set rating", err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"id": id, "rating": req.Rating})
}

// ClearRating removes an item's rating
func (h *Handlers) ClearRating(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.ClearRating(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, "Clear rating", err)
		return
	}
	writeJSONStatus(w, "ok")
}
