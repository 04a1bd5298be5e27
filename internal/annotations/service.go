package annotations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("annotations: database handle is required")
	errMissingIDProvider = errors.New("annotations: id provider is required")
)

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service stores annotations anchored to book content.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Create validates the anchor against the book content and stores the annotation.
func (s *Service) Create(ctx context.Context, input NewAnnotation) (Annotation, error) {
	if input.Kind == "" {
		input.Kind = KindHighlight
	}
	kind, err := ParseKind(string(input.Kind))
	if err != nil {
		return Annotation{}, err
	}
	input.Kind = kind
	if err := input.validate(); err != nil {
		return Annotation{}, err
	}
	surrounding, err := resolveAnchor(input.Content, input.Chapter, input.Anchor, input.Text)
	if err != nil {
		return Annotation{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Annotation{}, fmt.Errorf("generate annotation id: %w", err)
	}
	color := input.Color
	if color == "" && input.Kind == KindHighlight {
		color = DefaultColor
	}
	annotation := Annotation{
		ID:               id,
		BookID:           strings.TrimSpace(input.BookID),
		Chapter:          input.Chapter,
		Kind:             input.Kind,
		Color:            color,
		Text:             input.Text,
		Note:             strings.TrimSpace(input.Note),
		Context:          surrounding,
		Paragraph:        input.Anchor.Paragraph,
		Offset:           input.Anchor.Offset,
		Length:           input.Anchor.Length,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&annotation).Error; err != nil {
		s.logger.Error("store annotation", zap.String("book_id", annotation.BookID), zap.Error(err))
		return Annotation{}, fmt.Errorf("store annotation: %w", err)
	}
	return annotation, nil
}

// resolveAnchor checks that the anchor selects text and returns the
// surrounding context within the paragraph.
func resolveAnchor(content string, chapterIndex int, anchor Anchor, text string) (string, error) {
	chapters := reader.Chapters(content)
	if chapterIndex < 0 || chapterIndex >= len(chapters) {
		return "", fmt.Errorf("%w: chapter %d out of range", ErrAnchorMismatch, chapterIndex)
	}
	paragraphs := reader.Paragraphs(chapters[chapterIndex].Content)
	if anchor.Paragraph >= len(paragraphs) {
		return "", fmt.Errorf("%w: paragraph %d out of range", ErrAnchorMismatch, anchor.Paragraph)
	}
	runes := []rune(paragraphs[anchor.Paragraph])
	if anchor.Offset > len(runes) || anchor.Length > len(runes)-anchor.Offset {
		return "", fmt.Errorf("%w: selection exceeds paragraph", ErrAnchorMismatch)
	}
	end := anchor.Offset + anchor.Length
	if string(runes[anchor.Offset:end]) != text {
		return "", ErrAnchorMismatch
	}
	start := max(0, anchor.Offset-ContextRunes)
	stop := min(len(runes), end+ContextRunes)
	return string(runes[start:stop]), nil
}

// List returns the annotations of a book in creation order. A non-nil
// chapter restricts the result to that chapter.
func (s *Service) List(ctx context.Context, bookID string, chapter *int) ([]Annotation, error) {
	query := s.db.WithContext(ctx).Where("book_id = ?", bookID)
	if chapter != nil {
		query = query.Where("chapter = ?", *chapter)
	}
	var annotations []Annotation
	if err := query.Order("created_at_s").Order("annotation_id").Find(&annotations).Error; err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return annotations, nil
}

// Search matches the query against annotated text and notes, ignoring case.
func (s *Service) Search(ctx context.Context, bookID, query string) ([]Annotation, error) {
	annotations, err := s.List(ctx, bookID, nil)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return annotations, nil
	}
	matches := make([]Annotation, 0, len(annotations))
	for _, annotation := range annotations {
		if strings.Contains(strings.ToLower(annotation.Text), needle) ||
			strings.Contains(strings.ToLower(annotation.Note), needle) {
			matches = append(matches, annotation)
		}
	}
	return matches, nil
}

// Delete removes one annotation.
func (s *Service) Delete(ctx context.Context, annotationID string) error {
	result := s.db.WithContext(ctx).Where("annotation_id = ?", annotationID).Delete(&Annotation{})
	if result.Error != nil {
		s.logger.Error("delete annotation", zap.String("annotation_id", annotationID), zap.Error(result.Error))
		return fmt.Errorf("delete annotation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForBook removes every annotation of a book.
func (s *Service) DeleteForBook(ctx context.Context, bookID string) error {
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Delete(&Annotation{}).Error; err != nil {
		return fmt.Errorf("delete book annotations: %w", err)
	}
	return nil
}
