package reader

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	// WordsPerPage is the page size used by Paginate.
	WordsPerPage = 500
	// SearchContextRunes is the amount of text kept on each side of a match.
	SearchContextRunes = 50

	// EmptyPageText stands in for the only page of a book without text.
	EmptyPageText = "No text available"

	minLinesPerChapter = 100
	maxLinesPerChapter = 500
	chapterDivisor     = 20
)

// Paginate splits content into pages of WordsPerPage words joined by single
// spaces. A book without words has exactly one placeholder page.
func Paginate(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return []string{EmptyPageText}
	}
	pages := make([]string, 0, (len(words)+WordsPerPage-1)/WordsPerPage)
	for start := 0; start < len(words); start += WordsPerPage {
		end := min(start+WordsPerPage, len(words))
		pages = append(pages, strings.Join(words[start:end], " "))
	}
	return pages
}

// Chapter is a fixed-size slice of the book's lines.
type Chapter struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Content   string `json:"content,omitempty"`
}

// LinesPerChapter sizes chapters at a twentieth of the book, kept between
// 100 and 500 lines.
func LinesPerChapter(lineCount int) int {
	return min(maxLinesPerChapter, max(minLinesPerChapter, lineCount/chapterDivisor))
}

// Chapters divides content into chapters by line count.
func Chapters(content string) []Chapter {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	size := LinesPerChapter(len(lines))
	chapters := make([]Chapter, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		chapters = append(chapters, Chapter{
			Index:     len(chapters),
			Title:     fmt.Sprintf("Chapter %d", len(chapters)+1),
			StartLine: start,
			EndLine:   end - 1,
			Content:   strings.Join(lines[start:end], "\n"),
		})
	}
	return chapters
}

// Paragraphs splits chapter text on blank lines, dropping empty paragraphs.
func Paragraphs(chapterContent string) []string {
	var paragraphs []string
	for _, paragraph := range strings.Split(chapterContent, "\n\n") {
		if strings.TrimSpace(paragraph) != "" {
			paragraphs = append(paragraphs, paragraph)
		}
	}
	return paragraphs
}

// ProgressFor reports the percentage reached when position index of total
// is open.
func ProgressFor(index, total int) int {
	if total <= 0 {
		return 0
	}
	index = ClampPage(index, total)
	return int(math.Round(float64(index+1) / float64(total) * 100))
}

// ClampPage keeps a page index inside 0..total-1.
func ClampPage(page, total int) int {
	if total <= 0 || page < 0 {
		return 0
	}
	if page >= total {
		return total - 1
	}
	return page
}

// SearchResult is one occurrence of a query inside a page. Position counts
// runes from the start of the page.
type SearchResult struct {
	Page     int    `json:"page"`
	Position int    `json:"position"`
	Context  string `json:"context"`
}

// Search finds every case-insensitive occurrence of query across pages,
// including overlapping ones.
func Search(pages []string, query string) []SearchResult {
	needle := lowerRunes(strings.TrimSpace(query))
	if len(needle) == 0 {
		return nil
	}
	var results []SearchResult
	for pageIndex, page := range pages {
		original := []rune(page)
		haystack := lowerRunes(page)
		for position := indexRunes(haystack, needle, 0); position >= 0; position = indexRunes(haystack, needle, position+1) {
			start := max(0, position-SearchContextRunes)
			end := min(len(original), position+len(needle)+SearchContextRunes)
			results = append(results, SearchResult{
				Page:     pageIndex,
				Position: position,
				Context:  string(original[start:end]),
			})
		}
	}
	return results
}

func lowerRunes(value string) []rune {
	runes := []rune(value)
	for index, r := range runes {
		runes[index] = unicode.ToLower(r)
	}
	return runes
}

func indexRunes(haystack, needle []rune, from int) int {
	for start := from; start+len(needle) <= len(haystack); start++ {
		matched := true
		for offset, r := range needle {
			if haystack[start+offset] != r {
				matched = false
				break
			}
		}
		if matched {
			return start
		}
	}
	return -1
}
