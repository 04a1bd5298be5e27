package library

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

// MaxUploadBytes bounds the size of an ingested file.
const MaxUploadBytes = 50 << 20

const (
	FormatText     = "txt"
	FormatMarkdown = "md"
	FormatDocx     = "docx"
	FormatPDF      = "pdf"

	opAddFromFile       = "library.add_from_file"
	titleScanLines      = 10
	authorScanLines     = 20
	minTitleLineLength  = 10
	maxTitleLineLength  = 100
	minCleanTitleLength = 5
	docxDocumentPath    = "word/document.xml"
	wordprocessingNS    = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
)

var (
	// ErrUnsupportedFormat indicates that the file extension cannot be ingested.
	ErrUnsupportedFormat = errors.New("library: unsupported format")
	// ErrFileTooLarge indicates that an upload exceeds MaxUploadBytes.
	ErrFileTooLarge = errors.New("library: file too large")
	// ErrEmptyContent indicates that no text could be extracted from the file.
	ErrEmptyContent = errors.New("library: empty content")

	titleDecorations = regexp.MustCompile(`[#*_\-=]`)
	authorMarkers    = []string{"автор:", "author:"}
)

// DetectFormat derives the book format from a file name.
func DetectFormat(filename string) (string, error) {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch extension {
	case FormatText, FormatMarkdown, FormatDocx:
		return extension, nil
	case FormatPDF:
		return "", fmt.Errorf("%w: pdf text extraction is not available", ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, extension)
	}
}

// AddFromFile extracts text from an uploaded file and stores it as a book.
// Title and author are derived from the first lines of the text, falling
// back to the file name.
func (s *Service) AddFromFile(ctx context.Context, filename string, data []byte) (Book, error) {
	input, err := s.bookFromFile(opAddFromFile, filename, data)
	if err != nil {
		return Book{}, err
	}
	return s.AddBook(ctx, input)
}

func (s *Service) bookFromFile(operation, filename string, data []byte) (NewBook, error) {
	if len(data) > MaxUploadBytes {
		return NewBook{}, newServiceError(operation, "file_too_large", ErrFileTooLarge)
	}
	format, err := DetectFormat(filename)
	if err != nil {
		return NewBook{}, newServiceError(operation, "unsupported_format", err)
	}

	content, err := ExtractText(format, data)
	if err != nil {
		s.logError(operation, "extract_failed", err, zap.String("filename", filename))
		return NewBook{}, newServiceError(operation, "extract_failed", err)
	}
	if strings.TrimSpace(content) == "" {
		return NewBook{}, newServiceError(operation, "empty_content", ErrEmptyContent)
	}

	return NewBook{
		Title:     DeriveTitle(filename, content),
		Author:    DeriveAuthor(content),
		Content:   content,
		Format:    format,
		SizeBytes: int64(len(data)),
	}, nil
}

// ExtractText returns the plain text of a file in the given format.
func ExtractText(format string, data []byte) (string, error) {
	switch format {
	case FormatText, FormatMarkdown:
		return decodeText(data)
	case FormatDocx:
		return extractDocxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// decodeText honors a UTF-8 or UTF-16 byte order mark, keeps valid UTF-8 as
// is and treats anything else as windows-1251.
func decodeText(data []byte) (string, error) {
	if hasBOM(data) {
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", fmt.Errorf("decode text: %w", err)
		}
		return normalizeNewlines(string(decoded)), nil
	}
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	decoded, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decode windows-1251 text: %w", err)
	}
	return normalizeNewlines(string(decoded)), nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE})
}

func normalizeNewlines(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
}

// extractDocxText reads the main document part and joins runs into
// paragraphs separated by newlines.
func extractDocxText(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var document *zip.File
	for _, file := range archive.File {
		if file.Name == docxDocumentPath {
			document = file
			break
		}
	}
	if document == nil {
		return "", fmt.Errorf("open docx: missing %s", docxDocumentPath)
	}
	reader, err := document.Open()
	if err != nil {
		return "", fmt.Errorf("open docx document: %w", err)
	}
	defer reader.Close()

	var builder strings.Builder
	decoder := xml.NewDecoder(io.LimitReader(reader, MaxUploadBytes))
	inText := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx document: %w", err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			if element.Name.Space != wordprocessingNS {
				continue
			}
			switch element.Name.Local {
			case "t":
				inText = true
			case "tab":
				builder.WriteByte('\t')
			case "br":
				builder.WriteByte('\n')
			}
		case xml.EndElement:
			if element.Name.Space != wordprocessingNS {
				continue
			}
			switch element.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				builder.Write(element)
			}
		}
	}
	return strings.TrimRight(builder.String(), "\n"), nil
}

// DeriveTitle picks the first short heading-like line of the content, or a
// title built from the file name.
func DeriveTitle(filename, content string) string {
	lines := strings.SplitN(content, "\n", titleScanLines+1)
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		length := utf8.RuneCountInString(trimmed)
		if length <= minTitleLineLength || length >= maxTitleLineLength {
			continue
		}
		cleaned := strings.TrimSpace(titleDecorations.ReplaceAllString(trimmed, ""))
		if utf8.RuneCountInString(cleaned) > minCleanTitleLength {
			return cleaned
		}
	}
	return titleFromFilename(filename)
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return "Untitled"
	}
	return cases.Title(language.Und, cases.NoLower).String(base)
}

// DeriveAuthor looks for an "author:" line near the top of the content.
func DeriveAuthor(content string) string {
	lines := strings.SplitN(content, "\n", authorScanLines+1)
	if len(lines) > authorScanLines {
		lines = lines[:authorScanLines]
	}
	for _, line := range lines {
		lowered := strings.ToLower(line)
		if len(lowered) != len(line) {
			continue
		}
		for _, marker := range authorMarkers {
			index := strings.Index(lowered, marker)
			if index < 0 {
				continue
			}
			author := strings.TrimSpace(line[index+len(marker):])
			if author != "" {
				return author
			}
		}
	}
	return UnknownAuthor
}

func normalizeFormat(format string) string {
	normalized := strings.ToLower(strings.TrimSpace(format))
	if normalized == "" {
		return FormatText
	}
	return normalized
}
