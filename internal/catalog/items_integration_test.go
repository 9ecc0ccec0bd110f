package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"vdotapes/internal/database"
)

func TestUpsertItemPreservesAnnotations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	if err := c.SetFavorite(ctx, "v1", true); err != nil {
		t.Fatalf("SetFavorite() failed: %v", err)
	}
	before, err := c.GetItem(ctx, "v1")
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}

	err = c.UpsertItem(ctx, &Item{ID: "v1", Name: "alpha.mp4", Path: "/moved/alpha.mp4", Folder: "moved", Size: 1000, Codec: "h264"})
	if err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	after, err := c.GetItem(ctx, "v1")
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}
	if after.Path != "/moved/alpha.mp4" || after.Folder != "moved" || after.Codec != "h264" {
		t.Errorf("file facts not refreshed: %+v", after)
	}
	if !after.Favorite {
		t.Error("favorite lost on upsert")
	}
	if !after.AddedAt.Equal(before.AddedAt) {
		t.Errorf("AddedAt changed from %v to %v", before.AddedAt, after.AddedAt)
	}
}

func TestUpsertItemValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	for _, item := range []*Item{
		{Name: "x", Path: "/x"},
		{ID: "x", Name: "x"},
		{ID: "x", Path: "/x"},
		{ID: "x", Name: "x", Path: "/x", Size: -1},
	} {
		if err := c.UpsertItem(context.Background(), item); !errors.Is(err, database.ErrValidation) {
			t.Errorf("UpsertItem(%+v) error = %v, want validation error", item, err)
		}
	}
}

func TestGetItem(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	item, err := c.GetItem(ctx, "v2")
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}
	if item.Name != "beta.mp4" || item.Size != 2000 || item.Folder != "a" {
		t.Errorf("GetItem() = %+v", item)
	}
	want := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	if !item.LastModified.Equal(want) {
		t.Errorf("LastModified = %v, want %v", item.LastModified, want)
	}
	if item.LastViewed != nil {
		t.Error("LastViewed should be nil for an unviewed item")
	}

	if _, err := c.GetItem(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("GetItem(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListItemsFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	if err := c.SetFavorite(ctx, "v2", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetHidden(ctx, "v3", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRating(ctx, "v1", 4); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"default hides hidden", ListOptions{}, []string{"v2", "v1"}},
		{"show hidden", ListOptions{ShowHidden: true}, []string{"v2", "v1", "v3"}},
		{"hidden only", ListOptions{HiddenOnly: true}, []string{"v3"}},
		{"favorites only", ListOptions{FavoritesOnly: true}, []string{"v2"}},
		{"min rating", ListOptions{MinRating: 3}, []string{"v1"}},
		{"folder", ListOptions{Folder: "a", Sort: SortName}, []string{"v1", "v2"}},
		{"search name", ListOptions{Search: "ALPHA"}, []string{"v1"}},
		{"search literal underscore", ListOptions{Search: "a_1", ShowHidden: true}, []string{"v3"}},
		{"search folder", ListOptions{Search: "b", ShowHidden: true, Sort: SortName}, []string{"v2", "v3"}},
		{"size desc", ListOptions{Sort: SortSize, Desc: true, ShowHidden: true}, []string{"v3", "v2", "v1"}},
		{"limit offset", ListOptions{Sort: SortName, ShowHidden: true, Limit: 1, Offset: 1}, []string{"v2"}},
		{"offset only", ListOptions{Sort: SortName, ShowHidden: true, Offset: 2}, []string{"v3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := c.ListItems(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListItems() failed: %v", err)
			}
			if got := itemIDs(items); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ListItems(%+v) = %v, want %v", tt.opts, got, tt.want)
			}
		})
	}

	n, err := c.CountItems(ctx, ListOptions{ShowHidden: true, Limit: 1})
	if err != nil || n != 3 {
		t.Errorf("CountItems() = %d, %v; want 3", n, err)
	}
	if _, err := c.ListItems(ctx, ListOptions{Sort: "nope"}); !errors.Is(err, database.ErrValidation) {
		t.Errorf("ListItems(bad sort) error = %v, want validation error", err)
	}
}

func TestListFolders(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	folders, err := c.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("ListFolders() failed: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(folders, want) {
		t.Errorf("ListFolders() = %v, want %v", folders, want)
	}
}

func TestCacheInvalidatedByWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	favs, err := c.FavoriteIDs(ctx)
	if err != nil || len(favs) != 0 {
		t.Fatalf("FavoriteIDs() = %v, %v", favs, err)
	}
	if _, err := c.ToggleFavorite(ctx, "v3"); err != nil {
		t.Fatal(err)
	}
	favs, err = c.FavoriteIDs(ctx)
	if err != nil || !reflect.DeepEqual(favs, []string{"v3"}) {
		t.Errorf("FavoriteIDs() after toggle = %v, %v; want [v3]", favs, err)
	}

	item, _ := c.GetItem(ctx, "v1")
	item.Name = "mutated"
	again, _ := c.GetItem(ctx, "v1")
	if again.Name != "alpha.mp4" {
		t.Error("cached item was mutated through a returned value")
	}
}

func TestCacheConsistentUnderConcurrentWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()
	const writes = 20

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := c.ListFolders(ctx); err != nil {
				t.Errorf("ListFolders() failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < writes; i++ {
		item := &Item{
			ID:           fmt.Sprintf("w%d", i),
			Name:         fmt.Sprintf("w%d.mp4", i),
			Path:         fmt.Sprintf("/media/f%02d/w%d.mp4", i, i),
			Folder:       fmt.Sprintf("f%02d", i),
			Size:         1,
			LastModified: time.Unix(int64(i), 0),
		}
		if err := c.UpsertItem(ctx, item); err != nil {
			t.Fatalf("UpsertItem() failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	folders, err := c.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders() failed: %v", err)
	}
	if len(folders) != writes+2 {
		t.Errorf("ListFolders() returned %d folders after writes, want %d: %v", len(folders), writes+2, folders)
	}
}

func TestUpsertItemsRemoveMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	if err := c.SetRating(ctx, "v2", 2); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTag(ctx, "v3", "keep?"); err != nil {
		t.Fatal(err)
	}

	scan := []*Item{
		{ID: "v1", Name: "alpha.mp4", Path: "/media/a/alpha.mp4", Folder: "a", Size: 1000},
		{ID: "v4", Name: "delta.mp4", Path: "/media/c/delta.mp4", Folder: "c", Size: 4000},
		{ID: "v5", Name: "eps.mp4", Path: "/media/c/eps.mp4", Folder: "c", Size: 5000},
	}
	res, err := c.UpsertItems(ctx, scan, UpsertOptions{RemoveMissing: true, BatchSize: 2})
	if err != nil {
		t.Fatalf("UpsertItems() failed: %v", err)
	}
	if res.Upserted != 3 || res.Removed != 1 {
		t.Errorf("UpsertItems() = %+v, want 3 upserted, 1 removed", res)
	}

	if _, err := c.GetItem(ctx, "v2"); err != nil {
		t.Errorf("rated item v2 should survive: %v", err)
	}
	if _, err := c.GetItem(ctx, "v3"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("unannotated item v3 should be removed, got %v", err)
	}
	if n := countRows(t, c, "SELECT COUNT(*) FROM video_tags WHERE video_id = 'v3'"); n != 0 {
		t.Errorf("tag associations of removed item remain: %d", n)
	}

	// A second scan reuses the temp table.
	if _, err := c.UpsertItems(ctx, scan, UpsertOptions{RemoveMissing: true}); err != nil {
		t.Fatalf("second UpsertItems() failed: %v", err)
	}
}

func TestUpsertItemsAllOrNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	items := []*Item{
		{ID: "n1", Name: "n1", Path: "/n1"},
		{ID: "n2", Name: "n2", Path: "/n2"},
	}
	conn, _ := c.DB().Conn()
	// Force the second insert to fail.
	if _, err := conn.Exec(`CREATE TRIGGER reject_n2 BEFORE INSERT ON videos WHEN NEW.id = 'n2'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatal(err)
	}

	_, err := c.UpsertItems(ctx, items, UpsertOptions{BatchSize: 1})
	var chunkErr *database.BulkChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("UpsertItems() error = %v, want *BulkChunkError", err)
	}
	if chunkErr.Chunk != 1 || chunkErr.Offset != 1 {
		t.Errorf("failure at chunk %d offset %d, want 1/1", chunkErr.Chunk, chunkErr.Offset)
	}
	if n := countRows(t, c, "SELECT COUNT(*) FROM videos WHERE id LIKE 'n%'"); n != 0 {
		t.Errorf("%d rows from the failed batch persisted", n)
	}
}

func TestDeleteItemRecordViewSetNotes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.RecordView(ctx, "v1"); err != nil {
			t.Fatalf("RecordView() failed: %v", err)
		}
	}
	if err := c.SetNotes(ctx, "v1", "watch later"); err != nil {
		t.Fatalf("SetNotes() failed: %v", err)
	}
	item, err := c.GetItem(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if item.ViewCount != 2 || item.LastViewed == nil || item.Notes != "watch later" {
		t.Errorf("GetItem() = %+v", item)
	}

	if err := c.RecordView(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("RecordView(missing) error = %v, want ErrNotFound", err)
	}

	if err := c.SetFavorite(ctx, "v1", true); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteItem(ctx, "v1"); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}
	if n := countRows(t, c, "SELECT COUNT(*) FROM favorites WHERE video_id = 'v1'"); n != 0 {
		t.Error("favorites shim row should cascade with the item")
	}
	if err := c.DeleteItem(ctx, "v1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second DeleteItem() error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	c := setupCatalog(t)
	ctx := context.Background()

	if err := c.SetFavorite(ctx, "v1", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetRating(ctx, "v2", 5); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTag(ctx, "v2", "x"); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.TotalItems != 3 || stats.TotalFavorites != 1 || stats.TotalRated != 1 ||
		stats.TotalHidden != 0 || stats.TotalFolders != 2 || stats.TotalTags != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}
