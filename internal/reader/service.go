package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("reader: database handle is required")

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists reader settings and bookmarks.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Settings returns the stored preferences, or the defaults when none were saved.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	var stored Settings
	err := s.db.WithContext(ctx).Where("settings_key = ?", settingsKey).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		s.logger.Error("load reader settings", zap.Error(err))
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return stored, nil
}

// SaveSettings merges update into the current preferences and stores the result.
func (s *Service) SaveSettings(ctx context.Context, update Settings) (Settings, error) {
	current, err := s.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	merged := current.Merge(update)
	merged.Key = settingsKey
	if err := merged.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.db.WithContext(ctx).Save(&merged).Error; err != nil {
		s.logger.Error("save reader settings", zap.Error(err))
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return merged, nil
}

// ResetSettings drops the stored preferences and returns the defaults.
func (s *Service) ResetSettings(ctx context.Context) (Settings, error) {
	if err := s.db.WithContext(ctx).Where("settings_key = ?", settingsKey).Delete(&Settings{}).Error; err != nil {
		s.logger.Error("reset reader settings", zap.Error(err))
		return Settings{}, fmt.Errorf("reset settings: %w", err)
	}
	return DefaultSettings(), nil
}

// BookmarkInput identifies the page being toggled.
type BookmarkInput struct {
	BookID    string
	BookTitle string
	Page      int
	PageText  string
}

// ToggleBookmark adds a bookmark for the page, or removes it when one exists.
// It reports whether the page is bookmarked afterwards.
func (s *Service) ToggleBookmark(ctx context.Context, input BookmarkInput) (bool, Bookmark, error) {
	bookID := strings.TrimSpace(input.BookID)
	if bookID == "" || input.Page < 0 {
		return false, Bookmark{}, ErrInvalidBookmark
	}

	var (
		added    bool
		bookmark Bookmark
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("book_id = ? AND page = ?", bookID, input.Page).Delete(&Bookmark{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		bookmark = Bookmark{
			BookID:           bookID,
			Page:             input.Page,
			BookTitle:        input.BookTitle,
			Preview:          previewOf(input.PageText),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		added = true
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bookmark).Error
	})
	if err != nil {
		s.logger.Error("toggle bookmark", zap.String("book_id", bookID), zap.Int("page", input.Page), zap.Error(err))
		return false, Bookmark{}, fmt.Errorf("toggle bookmark: %w", err)
	}
	return added, bookmark, nil
}

// Bookmarks lists bookmarks newest first, optionally limited to one book.
func (s *Service) Bookmarks(ctx context.Context, bookID string) ([]Bookmark, error) {
	query := s.db.WithContext(ctx).Model(&Bookmark{})
	if trimmed := strings.TrimSpace(bookID); trimmed != "" {
		query = query.Where("book_id = ?", trimmed)
	}
	var bookmarks []Bookmark
	if err := query.Order("created_at_s DESC").Order("book_id").Order("page").Find(&bookmarks).Error; err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return bookmarks, nil
}

// DeleteBookmarks removes all bookmarks of a book.
func (s *Service) DeleteBookmarks(ctx context.Context, bookID string) error {
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Delete(&Bookmark{}).Error; err != nil {
		return fmt.Errorf("delete bookmarks: %w", err)
	}
	return nil
}
