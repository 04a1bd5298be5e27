package reader

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	settingsKey         = "default"
	maxFontFamilyLength = 64
	minLineHeight       = 1.0
	maxLineHeight       = 3.0
	// BookmarkPreviewRunes bounds the page excerpt stored with a bookmark.
	BookmarkPreviewRunes = 100
)

var (
	// ErrInvalidSettings indicates that a settings value is outside its allowed set.
	ErrInvalidSettings = errors.New("reader: invalid settings")
	// ErrInvalidBookmark indicates that a bookmark lacks its book or has a negative page.
	ErrInvalidBookmark = errors.New("reader: invalid bookmark")

	fontSizes    = []string{"small", "medium", "large", "xlarge"}
	themes       = []string{"dark", "light", "sepia"}
	spacings     = []string{"tight", "normal", "wide"}
	readingModes = []string{"scroll", "page"}
	marginSizes  = []string{"small", "normal", "large"}
)

// Settings holds the reader presentation preferences.
type Settings struct {
	Key         string  `gorm:"column:settings_key;primaryKey;size:32;not null" json:"-"`
	FontSize    string  `gorm:"column:font_size;size:16;not null" json:"fontSize"`
	Theme       string  `gorm:"column:theme;size:16;not null" json:"theme"`
	Spacing     string  `gorm:"column:spacing;size:16;not null" json:"spacing"`
	FontFamily  string  `gorm:"column:font_family;size:64;not null" json:"fontFamily"`
	ReadingMode string  `gorm:"column:reading_mode;size:16;not null" json:"readingMode"`
	LineHeight  float64 `gorm:"column:line_height;not null" json:"lineHeight"`
	Margins     string  `gorm:"column:margins;size:16;not null" json:"margins"`
}

// TableName provides the explicit table binding for GORM.
func (Settings) TableName() string {
	return "reader_settings"
}

// DefaultSettings returns the preferences used until the owner saves their own.
func DefaultSettings() Settings {
	return Settings{
		Key:         settingsKey,
		FontSize:    "medium",
		Theme:       "dark",
		Spacing:     "normal",
		FontFamily:  "Inter",
		ReadingMode: "scroll",
		LineHeight:  1.8,
		Margins:     "normal",
	}
}

// Validate checks every field against its allowed values.
func (s Settings) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{field: "fontSize", value: s.FontSize, allowed: fontSizes},
		{field: "theme", value: s.Theme, allowed: themes},
		{field: "spacing", value: s.Spacing, allowed: spacings},
		{field: "readingMode", value: s.ReadingMode, allowed: readingModes},
		{field: "margins", value: s.Margins, allowed: marginSizes},
	}
	for _, check := range checks {
		if !slices.Contains(check.allowed, check.value) {
			return fmt.Errorf("%w: %s %q", ErrInvalidSettings, check.field, check.value)
		}
	}
	family := strings.TrimSpace(s.FontFamily)
	if family == "" || len(family) > maxFontFamilyLength {
		return fmt.Errorf("%w: fontFamily", ErrInvalidSettings)
	}
	if s.LineHeight < minLineHeight || s.LineHeight > maxLineHeight {
		return fmt.Errorf("%w: lineHeight %.2f", ErrInvalidSettings, s.LineHeight)
	}
	return nil
}

// Merge overlays the non-zero fields of update onto s.
func (s Settings) Merge(update Settings) Settings {
	merged := s
	if update.FontSize != "" {
		merged.FontSize = update.FontSize
	}
	if update.Theme != "" {
		merged.Theme = update.Theme
	}
	if update.Spacing != "" {
		merged.Spacing = update.Spacing
	}
	if update.FontFamily != "" {
		merged.FontFamily = strings.TrimSpace(update.FontFamily)
	}
	if update.ReadingMode != "" {
		merged.ReadingMode = update.ReadingMode
	}
	if update.LineHeight != 0 {
		merged.LineHeight = update.LineHeight
	}
	if update.Margins != "" {
		merged.Margins = update.Margins
	}
	return merged
}

// Bookmark marks a page of a book.
type Bookmark struct {
	BookID           string `gorm:"column:book_id;primaryKey;size:190;not null" json:"bookId"`
	Page             int    `gorm:"column:page;primaryKey;not null" json:"page"`
	BookTitle        string `gorm:"column:book_title;size:512;not null" json:"bookTitle"`
	Preview          string `gorm:"column:preview;size:512;not null" json:"preview"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_bookmarks_created" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Bookmark) TableName() string {
	return "bookmarks"
}

func previewOf(pageText string) string {
	runes := []rune(strings.TrimSpace(pageText))
	if len(runes) <= BookmarkPreviewRunes {
		return string(runes)
	}
	return string(runes[:BookmarkPreviewRunes]) + "..."
}
