package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"vdotapes/internal/catalog"
	"vdotapes/internal/database"
)

// TagRequest names a tag to add to or remove from an item
type TagRequest struct {
	Tag string `json:"tag"`
}

// RenameTagRequest renames the tag in the URL
type RenameTagRequest struct {
	NewName string `json:"newName"`
}

// MergeTagRequest folds the tag in the URL into Target
type MergeTagRequest struct {
	Target string `json:"target"`
}

// GetAllTags returns every tag with its usage count
func (h *Handlers) GetAllTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.catalog.ListTags(r.Context())
	if err != nil {
		writeError(w, "List tags", err)
		return
	}

	if tags == nil {
		tags = []catalog.TagCount{}
	}
	writeJSONResponse(w, tags)
}

// GetItemTags returns tags for a specific item
func (h *Handlers) GetItemTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.catalog.ItemTags(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Get tags", err)
		return
	}

	if tags == nil {
		tags = []string{}
	}
	writeJSONResponse(w, tags)
}

// AddItemTag adds a tag to an item
func (h *Handlers) AddItemTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.catalog.AddTag(r.Context(), mux.Vars(r)["id"], req.Tag); err != nil {
		writeError(w, "Add tag", err)
		return
	}
	writeJSONStatus(w, "ok")
}

// RemoveItemTag removes the tag named by the "tag" query parameter
func (h *Handlers) RemoveItemTag(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, "Remove tag", database.NewValidationError("tag", "query parameter is required"))
		return
	}

	if err := h.catalog.RemoveTag(r.Context(), mux.Vars(r)["id"], tag); err != nil {
		writeError(w, "Remove tag", err)
		return
	}
	writeJSONStatus(w, "ok")
}

// RenameTag renames a tag
func (h *Handlers) RenameTag(w http.ResponseWriter, r *http.Request) {
	var req RenameTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.catalog.RenameTag(r.Context(), mux.Vars(r)["name"], req.NewName); err != nil {
		writeError(w, "Rename tag", err)
		return
	}
	writeJSONStatus(w, "ok")
}

// MergeTags moves every association of a tag onto the target and deletes it
func (h *Handlers) MergeTags(w http.ResponseWriter, r *http.Request) {
	var req MergeTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	moved, err := h.catalog.MergeTags(r.Context(), mux.Vars(r)["name"], req.Target)
	if err != nil {
		writeError(w, "Merge tags", err)
		return
	}
	writeJSONResponse(w, map[string]int{"moved": moved})
}

// DeleteTag removes a tag entirely
func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteTag(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, "Delete tag", err)
		return
	}
	writeJSONStatus(w, "ok")
}
