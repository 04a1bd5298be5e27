package annotations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	ExportJSON = "json"
	ExportText = "txt"

	exportTimeLayout = "2006-01-02 15:04:05 MST"
)

// Export is a rendered annotation file ready to be served for download.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type exportedAnnotation struct {
	ID        string `json:"id"`
	BookID    string `json:"bookId"`
	Chapter   int    `json:"chapter"`
	Kind      Kind   `json:"type"`
	Color     string `json:"color,omitempty"`
	Text      string `json:"text"`
	Note      string `json:"note,omitempty"`
	Context   string `json:"context"`
	Anchor    Anchor `json:"anchor"`
	CreatedAt string `json:"createdAt"`
}

// Export renders every annotation of a book as json or plain text.
func (s *Service) Export(ctx context.Context, bookID, format string) (Export, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportText {
		return Export{}, fmt.Errorf("%w: %q", ErrUnsupportedExportFormat, format)
	}

	annotations, err := s.List(ctx, bookID, nil)
	if err != nil {
		return Export{}, err
	}

	filename := fmt.Sprintf("annotations_%s.%s", bookID, format)
	if format == ExportText {
		return Export{
			Filename:    filename,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(renderText(annotations)),
		}, nil
	}

	entries := make([]exportedAnnotation, 0, len(annotations))
	for _, annotation := range annotations {
		entries = append(entries, exportedAnnotation{
			ID:        annotation.ID,
			BookID:    annotation.BookID,
			Chapter:   annotation.Chapter,
			Kind:      annotation.Kind,
			Color:     annotation.Color,
			Text:      annotation.Text,
			Note:      annotation.Note,
			Context:   annotation.Context,
			Anchor:    annotation.Anchor(),
			CreatedAt: time.Unix(annotation.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
		})
	}
	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("encode annotations: %w", err)
	}
	return Export{Filename: filename, ContentType: "application/json", Body: body}, nil
}

func renderText(annotations []Annotation) string {
	blocks := make([]string, 0, len(annotations))
	for _, annotation := range annotations {
		var block strings.Builder
		fmt.Fprintf(&block, "[%s]\n", time.Unix(annotation.CreatedAtSeconds, 0).UTC().Format(exportTimeLayout))
		fmt.Fprintf(&block, "Text: %s\n", annotation.Text)
		if annotation.Note != "" {
			fmt.Fprintf(&block, "Note: %s\n", annotation.Note)
		}
		fmt.Fprintf(&block, "Context: ...%s...\n---", annotation.Context)
		blocks = append(blocks, block.String())
	}
	return strings.Join(blocks, "\n\n")
}
