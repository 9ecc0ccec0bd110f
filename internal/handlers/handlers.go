package handlers

import (
	"time"

	"vdotapes/internal/catalog"
	"vdotapes/internal/database"
)

// Handlers serves the catalog over HTTP.
type Handlers struct {
	catalog   *catalog.Catalog
	db        *database.Database
	startTime time.Time
}

func New(cat *catalog.Catalog) *Handlers {
	return &Handlers{
		catalog:   cat,
		db:        cat.DB(),
		startTime: time.Now(),
	}
}
