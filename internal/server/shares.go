package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/gin-gonic/gin"
)

const maxShareFileBytes = 64 << 20

var errMissingUpload = errors.New("multipart upload lacks the file field")

type sessionPayload struct {
	ID                 string `json:"id"`
	BookID             string `json:"bookId"`
	BookTitle          string `json:"bookTitle"`
	BookAuthor         string `json:"bookAuthor"`
	Format             string `json:"format"`
	CreatedAt          int64  `json:"createdAt"`
	ExpiresAt          int64  `json:"expiresAt"`
	MaxDownloads       int    `json:"maxDownloads"`
	DownloadCount      int    `json:"downloadCount"`
	RemainingDownloads int    `json:"remainingDownloads"`
	PasswordProtected  bool   `json:"passwordProtected"`
	Compressed         bool   `json:"compressed"`
	State              string `json:"state"`
	Link               string `json:"link,omitempty"`
}

func (h *httpHandler) newSessionPayload(session shares.Session) sessionPayload {
	state := session.State(h.clock())
	payload := sessionPayload{
		ID:                 session.ID,
		BookID:             session.BookID,
		BookTitle:          session.BookTitle,
		BookAuthor:         session.BookAuthor,
		Format:             session.Format,
		CreatedAt:          session.CreatedAtSeconds,
		ExpiresAt:          session.ExpiresAtSeconds,
		MaxDownloads:       session.MaxDownloads,
		DownloadCount:      session.DownloadCount,
		RemainingDownloads: session.RemainingDownloads(),
		PasswordProtected:  session.PasswordProtected,
		Compressed:         session.Compressed,
		State:              string(state),
	}
	if state == shares.StateActive {
		payload.Link = h.shares.SessionLink(session)
	}
	return payload
}

// hoursParam reads a whole number of hours; anything else selects the default.
func hoursParam(value string) time.Duration {
	hours, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

type createShareRequest struct {
	TTLHours     int    `json:"ttlHours"`
	MaxDownloads int    `json:"maxDownloads"`
	Password     string `json:"password"`
	Compress     *bool  `json:"compress"`
}

func (r createShareRequest) compress() bool {
	return r.Compress == nil || *r.Compress
}

func (r createShareRequest) ttl() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

func (h *httpHandler) handleCreateShare(c *gin.Context) {
	var request createShareRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if request.TTLHours < 0 {
		badRequest(c, "invalid_request")
		return
	}
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, "shares.create", err)
		return
	}
	created, err := h.shares.CreateSession(c.Request.Context(), shares.CreateRequest{
		BookID:       bookID,
		TTL:          request.ttl(),
		MaxDownloads: request.MaxDownloads,
		Password:     request.Password,
		Compress:     request.compress(),
	})
	if err != nil {
		h.respondError(c, "shares.create", err)
		return
	}
	payload := h.newSessionPayload(created.Session)
	payload.Link = created.Link
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleShareToken(c *gin.Context) {
	var request createShareRequest
	if err := bindOptionalJSON(c, &request); err != nil || request.TTLHours < 0 {
		badRequest(c, "invalid_request")
		return
	}
	bookID, err := library.NewBookID(c.Param("id"))
	if err != nil {
		h.respondError(c, "shares.token", err)
		return
	}
	inline, err := h.shares.InlineToken(c.Request.Context(), shares.InlineRequest{
		BookID:   bookID,
		TTL:      request.ttl(),
		Password: request.Password,
		Compress: request.compress(),
	})
	if err != nil {
		h.respondError(c, "shares.token", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":     inline.Token,
		"link":      inline.Link,
		"expiresAt": inline.ExpiresAt.Unix(),
	})
}

func (h *httpHandler) handleListShares(c *gin.Context) {
	sessions, err := h.shares.ListSessions(c.Request.Context(), shares.ListFilter{
		BookID:          library.BookID(strings.TrimSpace(c.Query("bookId"))),
		IncludeInactive: c.Query("all") == "true",
	})
	if err != nil {
		h.respondError(c, "shares.list", err)
		return
	}
	payload := make([]sessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, h.newSessionPayload(session))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": payload})
}

func (h *httpHandler) handleRevokeShare(c *gin.Context) {
	session, err := h.shares.RevokeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "shares.revoke", err)
		return
	}
	c.JSON(http.StatusOK, h.newSessionPayload(session))
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *httpHandler) handleRegenerateShare(c *gin.Context) {
	var request passwordRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	created, err := h.shares.RegenerateSession(c.Request.Context(), c.Param("id"), request.Password)
	if err != nil {
		h.respondError(c, "shares.regenerate", err)
		return
	}
	payload := h.newSessionPayload(created.Session)
	payload.Link = created.Link
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleDeleteShare(c *gin.Context) {
	if err := h.shares.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "shares.delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleShareDownload is public: the session id and, for protected sessions,
// the password are the only credentials.
func (h *httpHandler) handleShareDownload(c *gin.Context) {
	var request passwordRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	download, err := h.shares.DownloadSession(c.Request.Context(), c.Param("id"), request.Password)
	if err != nil {
		h.respondError(c, "shares.download", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":              download.Token,
		"title":              download.Session.BookTitle,
		"author":             download.Session.BookAuthor,
		"downloadCount":      download.Session.DownloadCount,
		"remainingDownloads": download.Session.RemainingDownloads(),
		"expiresAt":          download.Session.ExpiresAtSeconds,
	})
}

func (h *httpHandler) handleShareQRCode(c *gin.Context) {
	png, err := h.shares.QRCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "shares.qr", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

type importRequest struct {
	Link     string `json:"link"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

// handleImport accepts a JSON body with a link or token, or a multipart
// `.moyue` file upload.
func (h *httpHandler) handleImport(c *gin.Context) {
	var (
		book library.Book
		err  error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		book, err = h.importUploadedFile(c)
	} else {
		var request importRequest
		if bindErr := c.ShouldBindJSON(&request); bindErr != nil {
			badRequest(c, "invalid_request")
			return
		}
		source := strings.TrimSpace(request.Link)
		if source == "" {
			source = strings.TrimSpace(request.Token)
		}
		if source == "" {
			badRequest(c, "missing_link")
			return
		}
		book, err = h.shares.ImportLink(c.Request.Context(), source, request.Password)
	}
	if err != nil {
		h.respondError(c, "shares.import", err)
		return
	}
	c.JSON(http.StatusCreated, newBookPayload(book, false))
}

func (h *httpHandler) importUploadedFile(c *gin.Context) (library.Book, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxShareFileBytes)
	header, err := c.FormFile(uploadFormField)
	if err != nil {
		return library.Book{}, fmt.Errorf("%w: %v", errMissingUpload, err)
	}
	file, err := header.Open()
	if err != nil {
		return library.Book{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return library.Book{}, err
	}
	return h.shares.ImportFile(c.Request.Context(), data, c.PostForm("password"))
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(target)
}
