package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:moyue_reader_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Settings{}, &Bookmark{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	current := time.Unix(1700000000, 0).UTC()
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			current = current.Add(time.Second)
			return current
		},
	})
	if err != nil {
		t.Fatalf("failed to construct reader service: %v", err)
	}
	return service
}

func TestSettingsDefaultsAndMerge(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	settings, err := service.Settings(ctx)
	if err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if settings != DefaultSettings() {
		t.Fatalf("expected defaults, got %#v", settings)
	}

	saved, err := service.SaveSettings(ctx, Settings{Theme: "sepia", LineHeight: 2.2})
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if saved.Theme != "sepia" || saved.LineHeight != 2.2 || saved.FontSize != "medium" {
		t.Fatalf("unexpected merged settings %#v", saved)
	}

	saved, err = service.SaveSettings(ctx, Settings{FontSize: "large"})
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if saved.Theme != "sepia" || saved.FontSize != "large" {
		t.Fatalf("expected earlier update to persist, got %#v", saved)
	}

	reset, err := service.ResetSettings(ctx)
	if err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}
	if reset != DefaultSettings() {
		t.Fatalf("expected defaults after reset")
	}
	loaded, err := service.Settings(ctx)
	if err != nil || loaded != DefaultSettings() {
		t.Fatalf("expected defaults to load after reset, got %#v %v", loaded, err)
	}
}

func TestSaveSettingsRejectsInvalidValues(t *testing.T) {
	service := newTestService(t)

	testCases := map[string]Settings{
		"theme":       {Theme: "neon"},
		"font-size":   {FontSize: "huge"},
		"spacing":     {Spacing: "loose"},
		"mode":        {ReadingMode: "flip"},
		"margins":     {Margins: "none"},
		"line-height": {LineHeight: 5},
		"font-family": {FontFamily: strings.Repeat("f", 65)},
	}
	for name, update := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := service.SaveSettings(context.Background(), update); !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected invalid settings, got %v", err)
			}
		})
	}
}

func TestToggleBookmark(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	pageText := strings.Repeat("я", 150)

	added, bookmark, err := service.ToggleBookmark(ctx, BookmarkInput{BookID: "book-1", BookTitle: "Book", Page: 3, PageText: pageText})
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !added {
		t.Fatalf("expected bookmark to be added")
	}
	if bookmark.Preview != strings.Repeat("я", 100)+"..." {
		t.Fatalf("unexpected preview %q", bookmark.Preview)
	}

	if _, _, err := service.ToggleBookmark(ctx, BookmarkInput{BookID: "book-2", BookTitle: "Other", Page: 0, PageText: "short"}); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}

	all, err := service.Bookmarks(ctx, "")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(all) != 2 || all[0].BookID != "book-2" {
		t.Fatalf("expected newest bookmark first, got %#v", all)
	}

	added, _, err = service.ToggleBookmark(ctx, BookmarkInput{BookID: "book-1", Page: 3})
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if added {
		t.Fatalf("expected second toggle to remove the bookmark")
	}
	remaining, err := service.Bookmarks(ctx, "book-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no bookmarks for book-1, got %d", len(remaining))
	}

	if err := service.DeleteBookmarks(ctx, "book-2"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	all, err = service.Bookmarks(ctx, "")
	if err != nil || len(all) != 0 {
		t.Fatalf("expected all bookmarks removed, got %d %v", len(all), err)
	}
}

func TestToggleBookmarkValidatesInput(t *testing.T) {
	service := newTestService(t)
	if _, _, err := service.ToggleBookmark(context.Background(), BookmarkInput{BookID: " ", Page: 1}); !errors.Is(err, ErrInvalidBookmark) {
		t.Fatalf("expected invalid bookmark for blank book, got %v", err)
	}
	if _, _, err := service.ToggleBookmark(context.Background(), BookmarkInput{BookID: "b", Page: -1}); !errors.Is(err, ErrInvalidBookmark) {
		t.Fatalf("expected invalid bookmark for negative page, got %v", err)
	}
}
