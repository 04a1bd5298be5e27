package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"github.com/dar-of-the-flame/MoYue/internal/sharecodec"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	uploadFormField      = "file"
	exportPasswordHeader = "X-Moyue-Password"
)

type bookPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Format      string `json:"format"`
	Size        int64  `json:"size"`
	Characters  int64  `json:"characters"`
	Progress    int    `json:"progress"`
	PageCount   int    `json:"pageCount"`
	Description string `json:"description,omitempty"`
	AddedAt     int64  `json:"addedAt"`
	ImportedAt  int64  `json:"importedAt,omitempty"`
	LastReadAt  int64  `json:"lastReadAt,omitempty"`
	Content     string `json:"content,omitempty"`
}

func newBookPayload(book library.Book, includeContent bool) bookPayload {
	payload := bookPayload{
		ID:          book.ID,
		Title:       book.Title,
		Author:      book.Author,
		Format:      book.Format,
		Size:        book.SizeBytes,
		Characters:  book.Characters,
		Progress:    book.Progress,
		PageCount:   book.PageCount,
		Description: book.Description,
		AddedAt:     book.AddedAtSeconds,
		ImportedAt:  book.ImportedAtSeconds,
		LastReadAt:  book.LastReadAtSeconds,
	}
	if includeContent {
		payload.Content = book.Content
	}
	return payload
}

type createBookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Content     string `json:"content"`
	Format      string `json:"format"`
	Description string `json:"description"`
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	sortKey, err := library.ParseSortKey(c.Query("sort"))
	if err != nil {
		h.respondError(c, "books.list", err)
		return
	}
	books, err := h.library.ListBooks(c.Request.Context(), library.ListOptions{
		Query: c.Query("q"),
		Sort:  sortKey,
	})
	if err != nil {
		h.respondError(c, "books.list", err)
		return
	}
	payload := make([]bookPayload, 0, len(books))
	for _, book := range books {
		payload = append(payload, newBookPayload(book, false))
	}
	c.JSON(http.StatusOK, gin.H{"books": payload})
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	var request createBookRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	book, err := h.library.AddBook(c.Request.Context(), library.NewBook{
		Title:       request.Title,
		Author:      request.Author,
		Content:     request.Content,
		Format:      request.Format,
		Description: request.Description,
	})
	if err != nil {
		h.respondError(c, "books.create", err)
		return
	}
	h.publish(c, events.TypeBookAdded, book.ID)
	c.JSON(http.StatusCreated, newBookPayload(book, false))
}

func (h *httpHandler) handleUploadBook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, library.MaxUploadBytes+1<<20)
	header, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, "books.upload", library.ErrFileTooLarge)
			return
		}
		badRequest(c, "missing_file")
		return
	}
	if header.Size > library.MaxUploadBytes {
		h.respondError(c, "books.upload", library.ErrFileTooLarge)
		return
	}
	file, err := header.Open()
	if err != nil {
		h.respondError(c, "books.upload", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, library.MaxUploadBytes+1))
	if err != nil {
		h.respondError(c, "books.upload", err)
		return
	}

	book, err := h.library.AddFromFile(c.Request.Context(), header.Filename, data)
	if err != nil {
		h.respondError(c, "books.upload", err)
		return
	}
	h.publish(c, events.TypeBookAdded, book.ID)
	c.JSON(http.StatusCreated, newBookPayload(book, false))
}

func (h *httpHandler) handleLibraryStats(c *gin.Context) {
	stats, err := h.library.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, "books.stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalBooks":      stats.TotalBooks,
		"totalCharacters": stats.TotalCharacters,
		"readingHours":    stats.ReadingHours,
		"averageProgress": stats.AverageProgress,
		"totalSize":       stats.TotalSizeBytes,
		"totalSizeHuman":  stats.TotalSizeHuman,
	})
}

// loadBook resolves the :id parameter, writing the error response itself.
func (h *httpHandler) loadBook(c *gin.Context, operation string) (library.Book, bool) {
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, operation, err)
		return library.Book{}, false
	}
	book, err := h.library.GetBook(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, operation, err)
		return library.Book{}, false
	}
	return book, true
}

func (h *httpHandler) handleGetBook(c *gin.Context) {
	book, ok := h.loadBook(c, "books.get")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newBookPayload(book, true))
}

// handleDeleteBook removes the book together with its annotations and
// bookmarks. Share sessions keep their own token snapshot.
func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, "books.delete", err)
		return
	}
	ctx := c.Request.Context()
	if err := h.library.DeleteBook(ctx, bookID); err != nil {
		h.respondError(c, "books.delete", err)
		return
	}
	if err := h.annotations.DeleteForBook(ctx, bookID.String()); err != nil {
		h.logger.Warn("failed to delete annotations of removed book", zap.String("book_id", bookID.String()), zap.Error(err))
	}
	if err := h.reader.DeleteBookmarks(ctx, bookID.String()); err != nil {
		h.logger.Warn("failed to delete bookmarks of removed book", zap.String("book_id", bookID.String()), zap.Error(err))
	}
	h.publish(c, events.TypeBookDeleted, bookID.String())
	c.Status(http.StatusNoContent)
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

func (h *httpHandler) handleUpdateProgress(c *gin.Context) {
	var request progressRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Progress == nil {
		badRequest(c, "invalid_request")
		return
	}
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, "books.progress", err)
		return
	}
	book, err := h.library.UpdateProgress(c.Request.Context(), bookID, *request.Progress)
	if err != nil {
		h.respondError(c, "books.progress", err)
		return
	}
	c.JSON(http.StatusOK, newBookPayload(book, false))
}

func (h *httpHandler) handleGetPage(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		badRequest(c, "invalid_page")
		return
	}
	book, ok := h.loadBook(c, "books.page")
	if !ok {
		return
	}
	pages := reader.Paginate(book.Content)
	index := reader.ClampPage(page, len(pages))
	c.JSON(http.StatusOK, gin.H{
		"page":       index,
		"totalPages": len(pages),
		"text":       pages[index],
		"progress":   reader.ProgressFor(index, len(pages)),
	})
}

func (h *httpHandler) handleListChapters(c *gin.Context) {
	book, ok := h.loadBook(c, "books.chapters")
	if !ok {
		return
	}
	includeContent := c.Query("content") == "true"
	chapters := reader.Chapters(book.Content)
	for index := range chapters {
		if !includeContent {
			chapters[index].Content = ""
		}
	}
	c.JSON(http.StatusOK, gin.H{"chapters": chapters})
}

func (h *httpHandler) handleSearchBook(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		badRequest(c, "missing_query")
		return
	}
	book, ok := h.loadBook(c, "books.search")
	if !ok {
		return
	}
	results := reader.Search(reader.Paginate(book.Content), query)
	if results == nil {
		results = []reader.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleExportBook serves a `.moyue` file. A password, passed in a header to
// keep it out of URLs, encrypts the token.
func (h *httpHandler) handleExportBook(c *gin.Context) {
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, "books.export", err)
		return
	}
	data, err := h.shares.ExportFile(c.Request.Context(), shares.InlineRequest{
		BookID:   bookID,
		TTL:      hoursParam(c.Query("ttlHours")),
		Password: c.GetHeader(exportPasswordHeader),
		Compress: c.Query("compress") != "false",
	})
	if err != nil {
		h.respondError(c, "books.export", err)
		return
	}
	filename := fmt.Sprintf("%s%s", bookID.String(), sharecodec.FileExtension)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", data)
}
