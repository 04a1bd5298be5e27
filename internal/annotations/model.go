package annotations

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the visual treatment of an annotation.
type Kind string

const (
	KindHighlight Kind = "highlight"
	KindUnderline Kind = "underline"
	KindNote      Kind = "note"

	// DefaultColor is applied to highlights created without a color.
	DefaultColor = "#ffeb3b"
	// ContextRunes is the amount of surrounding text stored on each side.
	ContextRunes = 50
)

var (
	// ErrInvalidAnnotation indicates malformed input such as an unknown kind or a note without text.
	ErrInvalidAnnotation = errors.New("annotations: invalid annotation")
	// ErrAnchorMismatch indicates that the anchor does not select the given text.
	ErrAnchorMismatch = errors.New("annotations: anchor does not match text")
	// ErrNotFound indicates that no annotation exists for the identifier.
	ErrNotFound = errors.New("annotations: not found")
	// ErrUnsupportedExportFormat indicates an export format other than json or txt.
	ErrUnsupportedExportFormat = errors.New("annotations: unsupported export format")

	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// ParseKind validates an annotation kind.
func ParseKind(value string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case KindHighlight, KindUnderline, KindNote:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidAnnotation, value)
	}
}

// Anchor locates the selected text inside a chapter: the paragraph index
// and a rune offset and length within that paragraph.
type Anchor struct {
	Paragraph int `json:"paragraph"`
	Offset    int `json:"offset"`
	Length    int `json:"length"`
}

// Annotation is a persisted highlight, underline or note.
type Annotation struct {
	ID               string `gorm:"column:annotation_id;primaryKey;size:190;not null" json:"id"`
	BookID           string `gorm:"column:book_id;size:190;not null;index:idx_annotations_book_chapter,priority:1" json:"bookId"`
	Chapter          int    `gorm:"column:chapter;not null;index:idx_annotations_book_chapter,priority:2" json:"chapter"`
	Kind             Kind   `gorm:"column:kind;size:16;not null" json:"type"`
	Color            string `gorm:"column:color;size:16;not null;default:''" json:"color,omitempty"`
	Text             string `gorm:"column:text;type:text;not null" json:"text"`
	Note             string `gorm:"column:note;type:text;not null;default:''" json:"note,omitempty"`
	Context          string `gorm:"column:context;type:text;not null;default:''" json:"context"`
	Paragraph        int    `gorm:"column:anchor_paragraph;not null" json:"-"`
	Offset           int    `gorm:"column:anchor_offset;not null" json:"-"`
	Length           int    `gorm:"column:anchor_length;not null" json:"-"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// Anchor returns the stored position of the annotation.
func (a Annotation) Anchor() Anchor {
	return Anchor{Paragraph: a.Paragraph, Offset: a.Offset, Length: a.Length}
}

// NewAnnotation describes an annotation to create. Content is the full book
// text the anchor refers to.
type NewAnnotation struct {
	BookID  string
	Content string
	Chapter int
	Kind    Kind
	Color   string
	Text    string
	Note    string
	Anchor  Anchor
}

func (n NewAnnotation) validate() error {
	if strings.TrimSpace(n.BookID) == "" {
		return fmt.Errorf("%w: missing book id", ErrInvalidAnnotation)
	}
	if _, err := ParseKind(string(n.Kind)); err != nil {
		return err
	}
	if n.Text == "" {
		return fmt.Errorf("%w: missing text", ErrInvalidAnnotation)
	}
	if n.Kind == KindNote && strings.TrimSpace(n.Note) == "" {
		return fmt.Errorf("%w: note text is required", ErrInvalidAnnotation)
	}
	if n.Color != "" && !colorPattern.MatchString(n.Color) {
		return fmt.Errorf("%w: color %q", ErrInvalidAnnotation, n.Color)
	}
	if n.Anchor.Paragraph < 0 || n.Anchor.Offset < 0 || n.Anchor.Length <= 0 {
		return fmt.Errorf("%w: negative anchor", ErrAnchorMismatch)
	}
	return nil
}
