package library

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// charactersPerReadingHour approximates 250 words per minute.
const charactersPerReadingHour = 15000

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "library.service.new"
	opAddBook         = "library.add_book"
	opGetBook         = "library.get_book"
	opListBooks       = "library.list_books"
	opUpdateProgress  = "library.update_progress"
	opDeleteBook      = "library.delete_book"
	opStats           = "library.stats"
	opImportShared    = "library.import_shared"
	fieldBookID       = "book_id"
	queryBookID       = "book_id = ?"
	reasonMissingDB   = "missing_database"
	reasonInvalidBook = "invalid_book"
	reasonNotFound    = "not_found"
	reasonQueryFailed = "query_failed"
	reasonIDFailed    = "id_generation_failed"
	reasonInsert      = "insert_failed"
	reasonUpdate      = "update_failed"
	reasonDelete      = "delete_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service owns the book store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// AddBook stores a new book and returns the persisted record.
func (s *Service) AddBook(ctx context.Context, input NewBook) (Book, error) {
	if s.db == nil {
		s.logError(opAddBook, reasonMissingDB, errMissingDatabase)
		return Book{}, newServiceError(opAddBook, reasonMissingDB, errMissingDatabase)
	}
	shared := SharedBook{
		Title:       strings.TrimSpace(input.Title),
		Author:      strings.TrimSpace(input.Author),
		Content:     input.Content,
		Format:      normalizeFormat(input.Format),
		SizeBytes:   input.SizeBytes,
		PageCount:   input.PageCount,
		Description: input.Description,
	}
	if err := shared.Validate(); err != nil {
		return Book{}, newServiceError(opAddBook, reasonInvalidBook, err)
	}
	return s.insert(ctx, opAddBook, shared, false)
}

// ImportShared inserts a book received through a share token. The book gets
// a fresh identifier and its reading progress starts over.
func (s *Service) ImportShared(ctx context.Context, shared SharedBook) (Book, error) {
	if s.db == nil {
		s.logError(opImportShared, reasonMissingDB, errMissingDatabase)
		return Book{}, newServiceError(opImportShared, reasonMissingDB, errMissingDatabase)
	}
	if err := shared.Validate(); err != nil {
		return Book{}, newServiceError(opImportShared, reasonInvalidBook, err)
	}
	shared.Progress = 0
	shared.Format = normalizeFormat(shared.Format)
	return s.insert(ctx, opImportShared, shared, true)
}

func (s *Service) insert(ctx context.Context, operation string, shared SharedBook, imported bool) (Book, error) {
	bookID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDFailed, err)
		return Book{}, newServiceError(operation, reasonIDFailed, err)
	}

	nowSeconds := s.clock().UTC().Unix()
	title := truncateUTF8(shared.Title, maxTitleLength)
	author := shared.Author
	if author == "" {
		author = UnknownAuthor
	}
	sizeBytes := shared.SizeBytes
	if sizeBytes <= 0 {
		sizeBytes = int64(len(shared.Content))
	}

	book := Book{
		ID:               bookID,
		Title:            title,
		Author:           author,
		Content:          shared.Content,
		Format:           shared.Format,
		SizeBytes:        sizeBytes,
		Characters:       int64(len([]rune(shared.Content))),
		Progress:         clampProgress(shared.Progress),
		PageCount:        shared.PageCount,
		Description:      shared.Description,
		AddedAtSeconds:   nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	if imported {
		book.ImportedAtSeconds = nowSeconds
	}

	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		s.logError(operation, reasonInsert, err, zap.String(fieldBookID, bookID))
		return Book{}, newServiceError(operation, reasonInsert, err)
	}

	s.loggerOrDefault().Info("book stored",
		zap.String("operation", operation),
		zap.String(fieldBookID, bookID),
		zap.String("format", book.Format),
		zap.Int64("characters", book.Characters))
	return book, nil
}

// GetBook loads a single book including its content.
func (s *Service) GetBook(ctx context.Context, bookID BookID) (Book, error) {
	if s.db == nil {
		s.logError(opGetBook, reasonMissingDB, errMissingDatabase)
		return Book{}, newServiceError(opGetBook, reasonMissingDB, errMissingDatabase)
	}

	var book Book
	err := s.db.WithContext(ctx).Where(queryBookID, bookID.String()).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, newServiceError(opGetBook, reasonNotFound, ErrBookNotFound)
	}
	if err != nil {
		s.logError(opGetBook, reasonQueryFailed, err, zap.String(fieldBookID, bookID.String()))
		return Book{}, newServiceError(opGetBook, reasonQueryFailed, err)
	}
	return book, nil
}

// ListBooks returns the books matching the query, without their content.
// Books with equal sort values are ordered by identifier so repeated
// listings of an unchanged library are identical.
func (s *Service) ListBooks(ctx context.Context, options ListOptions) ([]Book, error) {
	if s.db == nil {
		s.logError(opListBooks, reasonMissingDB, errMissingDatabase)
		return nil, newServiceError(opListBooks, reasonMissingDB, errMissingDatabase)
	}
	sortKey := options.Sort
	if sortKey == "" {
		sortKey = SortDateDesc
	}

	var books []Book
	if err := s.db.WithContext(ctx).Model(&Book{}).Omit("content").Find(&books).Error; err != nil {
		s.logError(opListBooks, reasonQueryFailed, err)
		return nil, newServiceError(opListBooks, reasonQueryFailed, err)
	}

	// SQLite LOWER and LIKE fold ASCII only, so matching happens here.
	books = filterBooks(books, options.Query)
	sortBooks(books, sortKey)
	return books, nil
}

// UpdateProgress records the reading progress, clamped to 0..100.
func (s *Service) UpdateProgress(ctx context.Context, bookID BookID, progress int) (Book, error) {
	if s.db == nil {
		s.logError(opUpdateProgress, reasonMissingDB, errMissingDatabase)
		return Book{}, newServiceError(opUpdateProgress, reasonMissingDB, errMissingDatabase)
	}

	nowSeconds := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Book{}).
		Where(queryBookID, bookID.String()).
		Updates(map[string]any{
			"progress":       clampProgress(progress),
			"last_read_at_s": nowSeconds,
			"updated_at_s":   nowSeconds,
		})
	if result.Error != nil {
		s.logError(opUpdateProgress, reasonUpdate, result.Error, zap.String(fieldBookID, bookID.String()))
		return Book{}, newServiceError(opUpdateProgress, reasonUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return Book{}, newServiceError(opUpdateProgress, reasonNotFound, ErrBookNotFound)
	}
	return s.GetBook(ctx, bookID)
}

// DeleteBook removes a book from the library.
func (s *Service) DeleteBook(ctx context.Context, bookID BookID) error {
	if s.db == nil {
		s.logError(opDeleteBook, reasonMissingDB, errMissingDatabase)
		return newServiceError(opDeleteBook, reasonMissingDB, errMissingDatabase)
	}
	result := s.db.WithContext(ctx).Where(queryBookID, bookID.String()).Delete(&Book{})
	if result.Error != nil {
		s.logError(opDeleteBook, reasonDelete, result.Error, zap.String(fieldBookID, bookID.String()))
		return newServiceError(opDeleteBook, reasonDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteBook, reasonNotFound, ErrBookNotFound)
	}
	return nil
}

// Stats aggregates counts, reading time, progress and size over all books.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		s.logError(opStats, reasonMissingDB, errMissingDatabase)
		return Stats{}, newServiceError(opStats, reasonMissingDB, errMissingDatabase)
	}

	var books []Book
	if err := s.db.WithContext(ctx).Model(&Book{}).
		Select("book_id", "characters", "progress", "size_bytes").
		Find(&books).Error; err != nil {
		s.logError(opStats, reasonQueryFailed, err)
		return Stats{}, newServiceError(opStats, reasonQueryFailed, err)
	}
	return summarize(books), nil
}

func summarize(books []Book) Stats {
	stats := Stats{TotalBooks: len(books), TotalSizeHuman: humanize.Bytes(0)}
	if len(books) == 0 {
		return stats
	}
	progressSum := 0
	for _, book := range books {
		stats.TotalCharacters += book.Characters
		stats.TotalSizeBytes += book.SizeBytes
		progressSum += book.Progress
	}
	stats.ReadingHours = int64(math.Round(float64(stats.TotalCharacters) / charactersPerReadingHour))
	stats.AverageProgress = int(math.Round(float64(progressSum) / float64(len(books))))
	if stats.TotalSizeBytes > 0 {
		stats.TotalSizeHuman = humanize.Bytes(uint64(stats.TotalSizeBytes))
	}
	return stats
}

func sortBooks(books []Book, key SortKey) {
	collator := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(books, func(i, j int) bool {
		left, right := books[i], books[j]
		switch key {
		case SortDateAsc:
			if left.AddedAtSeconds != right.AddedAtSeconds {
				return left.AddedAtSeconds < right.AddedAtSeconds
			}
		case SortTitleAsc:
			if order := collator.CompareString(left.Title, right.Title); order != 0 {
				return order < 0
			}
		case SortTitleDesc:
			if order := collator.CompareString(left.Title, right.Title); order != 0 {
				return order > 0
			}
		case SortProgressDesc:
			if left.Progress != right.Progress {
				return left.Progress > right.Progress
			}
		default:
			if left.AddedAtSeconds != right.AddedAtSeconds {
				return left.AddedAtSeconds > right.AddedAtSeconds
			}
		}
		return left.ID < right.ID
	})
}

// filterBooks keeps the books whose title, author or format contains query
// under Unicode case folding.
func filterBooks(books []Book, query string) []Book {
	needle := strings.TrimSpace(query)
	if needle == "" {
		return books
	}
	folder := cases.Fold()
	needle = folder.String(needle)
	matched := books[:0]
	for _, book := range books {
		if strings.Contains(folder.String(book.Title), needle) ||
			strings.Contains(folder.String(book.Author), needle) ||
			strings.Contains(folder.String(book.Format), needle) {
			matched = append(matched, book)
		}
	}
	return matched
}

// truncateUTF8 cuts value to at most limit bytes without splitting a rune.
func truncateUTF8(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("library service error", attrs...)
}
