package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dar-of-the-flame/MoYue/internal/annotations"
	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"github.com/gin-gonic/gin"
)

type createAnnotationRequest struct {
	Type    string             `json:"type"`
	Color   string             `json:"color"`
	Text    string             `json:"text"`
	Note    string             `json:"note"`
	Chapter int                `json:"chapter"`
	Anchor  annotations.Anchor `json:"anchor"`
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	bookID := c.Param("id")
	var (
		list []annotations.Annotation
		err  error
	)
	if query := strings.TrimSpace(c.Query("q")); query != "" {
		list, err = h.annotations.Search(c.Request.Context(), bookID, query)
	} else {
		var chapter *int
		if raw := c.Query("chapter"); raw != "" {
			value, convErr := strconv.Atoi(raw)
			if convErr != nil || value < 0 {
				badRequest(c, "invalid_chapter")
				return
			}
			chapter = &value
		}
		list, err = h.annotations.List(c.Request.Context(), bookID, chapter)
	}
	if err != nil {
		h.respondError(c, "annotations.list", err)
		return
	}
	if list == nil {
		list = []annotations.Annotation{}
	}
	c.JSON(http.StatusOK, gin.H{"annotations": list})
}

func (h *httpHandler) handleCreateAnnotation(c *gin.Context) {
	var request createAnnotationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	book, ok := h.loadBook(c, "annotations.create")
	if !ok {
		return
	}
	kind := annotations.KindHighlight
	if request.Type != "" {
		parsed, err := annotations.ParseKind(request.Type)
		if err != nil {
			h.respondError(c, "annotations.create", err)
			return
		}
		kind = parsed
	}
	annotation, err := h.annotations.Create(c.Request.Context(), annotations.NewAnnotation{
		BookID:  book.ID,
		Content: book.Content,
		Chapter: request.Chapter,
		Kind:    kind,
		Color:   request.Color,
		Text:    request.Text,
		Note:    request.Note,
		Anchor:  request.Anchor,
	})
	if err != nil {
		h.respondError(c, "annotations.create", err)
		return
	}
	c.JSON(http.StatusCreated, annotation)
}

func (h *httpHandler) handleExportAnnotations(c *gin.Context) {
	export, err := h.annotations.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", annotations.ExportJSON))
	if err != nil {
		h.respondError(c, "annotations.export", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Body)
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	if err := h.annotations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "annotations.delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	settings, err := h.reader.Settings(c.Request.Context())
	if err != nil {
		h.respondError(c, "settings.get", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// handleSaveSettings merges the provided fields into the stored settings.
func (h *httpHandler) handleSaveSettings(c *gin.Context) {
	var update reader.Settings
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	settings, err := h.reader.SaveSettings(c.Request.Context(), update)
	if err != nil {
		h.respondError(c, "settings.save", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleResetSettings(c *gin.Context) {
	settings, err := h.reader.ResetSettings(c.Request.Context())
	if err != nil {
		h.respondError(c, "settings.reset", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleListBookmarks(c *gin.Context) {
	bookmarks, err := h.reader.Bookmarks(c.Request.Context(), strings.TrimSpace(c.Query("bookId")))
	if err != nil {
		h.respondError(c, "bookmarks.list", err)
		return
	}
	if bookmarks == nil {
		bookmarks = []reader.Bookmark{}
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": bookmarks})
}

func (h *httpHandler) handleToggleBookmark(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 0 {
		badRequest(c, "invalid_page")
		return
	}
	book, ok := h.loadBook(c, "bookmarks.toggle")
	if !ok {
		return
	}
	pages := reader.Paginate(book.Content)
	if page >= len(pages) {
		badRequest(c, "invalid_page")
		return
	}
	added, bookmark, err := h.reader.ToggleBookmark(c.Request.Context(), reader.BookmarkInput{
		BookID:    book.ID,
		BookTitle: book.Title,
		Page:      page,
		PageText:  pages[page],
	})
	if err != nil {
		h.respondError(c, "bookmarks.toggle", err)
		return
	}
	response := gin.H{"added": added}
	if added {
		response["bookmark"] = bookmark
	}
	c.JSON(http.StatusOK, response)
}
