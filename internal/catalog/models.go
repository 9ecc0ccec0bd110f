package catalog

import (
	"database/sql"
	"time"

	"vdotapes/internal/database"
)

// Item is a cataloged media file with its user annotations.
//
// LastModified and Created are the file's own timestamps and are stored
// with millisecond precision; the remaining timestamps are record times
// stored in seconds.
type Item struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	RelativePath string     `json:"relativePath,omitempty"`
	Folder       string     `json:"folder,omitempty"`
	Size         int64      `json:"size"`
	Duration     float64    `json:"duration,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	Codec        string     `json:"codec,omitempty"`
	Bitrate      int64      `json:"bitrate,omitempty"`
	LastModified time.Time  `json:"lastModified"`
	Created      time.Time  `json:"created"`
	AddedAt      time.Time  `json:"addedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Favorite     bool       `json:"favorite"`
	Hidden       bool       `json:"hidden"`
	Rating       int        `json:"rating"`
	Notes        string     `json:"notes,omitempty"`
	LastViewed   *time.Time `json:"lastViewed,omitempty"`
	ViewCount    int        `json:"viewCount"`
	Tags         []string   `json:"tags,omitempty"`
}

// SortKey selects the ordering of ListItems.
type SortKey string

// Sort keys
const (
	// SortFolder orders by folder name, newest first within a folder.
	SortFolder SortKey = "folder"
	SortDate   SortKey = "date"
	SortName   SortKey = "name"
	SortSize   SortKey = "size"
	SortRating SortKey = "rating"
	SortViews  SortKey = "views"
	SortAdded  SortKey = "added"
)

// ListOptions filters and orders ListItems and CountItems.
//
// Hidden items are excluded unless ShowHidden or HiddenOnly is set.
type ListOptions struct {
	Folder        string  `json:"folder,omitempty"`
	FavoritesOnly bool    `json:"favoritesOnly,omitempty"`
	HiddenOnly    bool    `json:"hiddenOnly,omitempty"`
	ShowHidden    bool    `json:"showHidden,omitempty"`
	MinRating     int     `json:"minRating,omitempty"`
	Tag           string  `json:"tag,omitempty"`
	Search        string  `json:"search,omitempty"`
	Sort          SortKey `json:"sort,omitempty"`
	Desc          bool    `json:"desc,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Offset        int     `json:"offset,omitempty"`
}

// UpsertOptions controls UpsertItems.
type UpsertOptions struct {
	// RemoveMissing deletes items absent from the batch unless they are
	// favorited, hidden or rated.
	RemoveMissing bool
	BatchSize     int
}

// UpsertResult reports what UpsertItems changed.
type UpsertResult struct {
	Upserted int `json:"upserted"`
	Removed  int `json:"removed"`
}

// TagCount is a tag with the number of items carrying it.
type TagCount struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// annotationExprs are the SQL expressions that read an item's annotations.
// Below AnnotationColumnsVersion the columns on videos are not
// authoritative and the legacy tables are read instead.
type annotationExprs struct {
	favorite, hidden, rating, notes, lastViewed, viewCount string
}

var columnExprs = annotationExprs{
	favorite:   "v.favorite",
	hidden:     "v.hidden",
	rating:     "v.rating",
	notes:      "v.notes",
	lastViewed: "v.last_viewed",
	viewCount:  "v.view_count",
}

var legacyExprs = annotationExprs{
	favorite:   "(CASE WHEN EXISTS (SELECT 1 FROM favorites f WHERE f.video_id = v.id) THEN 1 ELSE 0 END)",
	hidden:     "(CASE WHEN EXISTS (SELECT 1 FROM hidden_files h WHERE h.video_id = v.id) THEN 1 ELSE 0 END)",
	rating:     "COALESCE((SELECT r.rating FROM ratings r WHERE r.video_id = v.id), 0)",
	notes:      "''",
	lastViewed: "NULL",
	viewCount:  "0",
}

func (c *Catalog) exprs() annotationExprs {
	if c.db.SchemaVersion() >= database.AnnotationColumnsVersion {
		return columnExprs
	}
	return legacyExprs
}

func (ex annotationExprs) itemColumns() string {
	return `v.id, v.name, v.path, v.relative_path, v.folder, v.size, v.duration, v.width, v.height,
		v.codec, v.bitrate, v.last_modified, v.created, v.added_at, v.updated_at, ` +
		ex.favorite + ", " + ex.hidden + ", " + ex.rating + ", " + ex.notes + ", " +
		ex.lastViewed + ", " + ex.viewCount
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item                                   Item
		relPath, folder, codec                 sql.NullString
		duration                               sql.NullFloat64
		width, height, bitrate, lastViewed     sql.NullInt64
		lastModified, created, added, updated  int64
		favorite, hidden                       int
	)

	err := row.Scan(&item.ID, &item.Name, &item.Path, &relPath, &folder, &item.Size, &duration,
		&width, &height, &codec, &bitrate, &lastModified, &created, &added, &updated,
		&favorite, &hidden, &item.Rating, &item.Notes, &lastViewed, &item.ViewCount)
	if err != nil {
		return nil, err
	}

	item.RelativePath = relPath.String
	item.Folder = folder.String
	item.Codec = codec.String
	item.Duration = duration.Float64
	item.Width = int(width.Int64)
	item.Height = int(height.Int64)
	item.Bitrate = bitrate.Int64
	item.LastModified = time.UnixMilli(lastModified)
	item.Created = time.UnixMilli(created)
	item.AddedAt = time.Unix(added, 0)
	item.UpdatedAt = time.Unix(updated, 0)
	item.Favorite = favorite == 1
	item.Hidden = hidden == 1
	if lastViewed.Valid {
		t := time.Unix(lastViewed.Int64, 0)
		item.LastViewed = &t
	}
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
