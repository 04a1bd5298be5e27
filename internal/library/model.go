package library

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 512
	// UnknownAuthor is stored when neither the caller nor the content names an author.
	UnknownAuthor = "Unknown author"
)

var (
	// ErrInvalidBookID indicates that a book identifier is empty or exceeds storage bounds.
	ErrInvalidBookID = errors.New("library: invalid book id")
	// ErrInvalidBook indicates that a book is missing its title or content.
	ErrInvalidBook = errors.New("library: invalid book")
	// ErrBookNotFound indicates that no book exists for the identifier.
	ErrBookNotFound = errors.New("library: book not found")
	// ErrInvalidSortKey indicates that a sort key is not supported.
	ErrInvalidSortKey = errors.New("library: invalid sort key")
)

// BookID represents a validated book identifier.
type BookID string

// NewBookID validates raw input and returns a BookID.
func NewBookID(rawInput string) (BookID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBookID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBookID, maxIdentifierLength)
	}
	return BookID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BookID) String() string {
	return string(id)
}

// SortKey selects the ordering used when listing books.
type SortKey string

const (
	SortDateDesc     SortKey = "date-desc"
	SortDateAsc      SortKey = "date-asc"
	SortTitleAsc     SortKey = "title-asc"
	SortTitleDesc    SortKey = "title-desc"
	SortProgressDesc SortKey = "progress-desc"
)

// ParseSortKey validates the sort key, defaulting to newest first.
func ParseSortKey(value string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(value))) {
	case "", SortDateDesc:
		return SortDateDesc, nil
	case SortDateAsc:
		return SortDateAsc, nil
	case SortTitleAsc:
		return SortTitleAsc, nil
	case SortTitleDesc:
		return SortTitleDesc, nil
	case SortProgressDesc:
		return SortProgressDesc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, value)
	}
}

// Book models a stored e-book with its reading state.
type Book struct {
	ID                string `gorm:"column:book_id;primaryKey;size:190;not null"`
	Title             string `gorm:"column:title;size:512;not null;index:idx_books_title"`
	Author            string `gorm:"column:author;size:512;not null;default:'';index:idx_books_author"`
	Content           string `gorm:"column:content;type:text;not null"`
	Format            string `gorm:"column:format;size:16;not null;index:idx_books_format"`
	SizeBytes         int64  `gorm:"column:size_bytes;not null;default:0"`
	Characters        int64  `gorm:"column:characters;not null;default:0"`
	Progress          int    `gorm:"column:progress;not null;default:0"`
	PageCount         int    `gorm:"column:page_count;not null;default:0"`
	Description       string `gorm:"column:description;type:text;not null;default:''"`
	AddedAtSeconds    int64  `gorm:"column:added_at_s;not null;index:idx_books_added"`
	ImportedAtSeconds int64  `gorm:"column:imported_at_s;not null;default:0"`
	LastReadAtSeconds int64  `gorm:"column:last_read_at_s;not null;default:0"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Book) TableName() string {
	return "books"
}

// NewBook describes a book to be added to the library.
type NewBook struct {
	Title       string
	Author      string
	Content     string
	Format      string
	SizeBytes   int64
	PageCount   int
	Description string
}

// SharedBook is the portable part of a book carried inside share tokens.
// Identity and timestamps are deliberately absent.
type SharedBook struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Content     string `json:"content"`
	Format      string `json:"format"`
	SizeBytes   int64  `json:"size"`
	Characters  int64  `json:"characters"`
	Progress    int    `json:"progress"`
	PageCount   int    `json:"pageCount,omitempty"`
	Description string `json:"description,omitempty"`
}

// Shared strips identity and timestamp fields from the book.
func (b Book) Shared() SharedBook {
	return SharedBook{
		Title:       b.Title,
		Author:      b.Author,
		Content:     b.Content,
		Format:      b.Format,
		SizeBytes:   b.SizeBytes,
		Characters:  b.Characters,
		Progress:    b.Progress,
		PageCount:   b.PageCount,
		Description: b.Description,
	}
}

// Validate reports whether the shared book carries the fields an import requires.
func (b SharedBook) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidBook)
	}
	if b.Content == "" {
		return fmt.Errorf("%w: missing content", ErrInvalidBook)
	}
	return nil
}

// ListOptions filters and orders library listings.
type ListOptions struct {
	Query string
	Sort  SortKey
}

// Stats summarizes the library.
type Stats struct {
	TotalBooks      int
	TotalCharacters int64
	ReadingHours    int64
	AverageProgress int
	TotalSizeBytes  int64
	TotalSizeHuman  string
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
