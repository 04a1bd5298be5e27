package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/annotations"
	"github.com/dar-of-the-flame/MoYue/internal/auth"
	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"github.com/dar-of-the-flame/MoYue/internal/sharecodec"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	subjectContextKey = "moyue_subject"
	defaultHeartbeat  = 25 * time.Second
)

var (
	errMissingTokenValidator    = errors.New("token validator dependency required")
	errMissingLibraryService    = errors.New("library service dependency required")
	errMissingShareService      = errors.New("share service dependency required")
	errMissingReaderService     = errors.New("reader service dependency required")
	errMissingAnnotationService = errors.New("annotation service dependency required")
	errMissingDispatcher        = errors.New("event dispatcher dependency required")
)

// TokenValidator authenticates owner requests.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (string, error)
}

type Dependencies struct {
	Tokens      TokenValidator
	Library     *library.Service
	Shares      *shares.Service
	Reader      *reader.Service
	Annotations *annotations.Service
	Dispatcher  *events.Dispatcher
	// Events receives change notifications. It defaults to Dispatcher and
	// is replaced by the redis bridge when fan-out is enabled.
	Events    events.Publisher
	Logger    *zap.Logger
	Clock     func() time.Time
	Heartbeat time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Library == nil {
		return nil, errMissingLibraryService
	}
	if deps.Shares == nil {
		return nil, errMissingShareService
	}
	if deps.Reader == nil {
		return nil, errMissingReaderService
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotationService
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = deps.Dispatcher
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", exportPasswordHeader},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))
	router.MaxMultipartMemory = library.MaxUploadBytes

	handler := &httpHandler{
		tokens:      deps.Tokens,
		library:     deps.Library,
		shares:      deps.Shares,
		reader:      deps.Reader,
		annotations: deps.Annotations,
		dispatcher:  deps.Dispatcher,
		events:      publisher,
		logger:      logger,
		clock:       clock,
		heartbeat:   heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/shares/:id/download", handler.handleShareDownload)
	router.GET("/shares/:id/qr.png", handler.handleShareQRCode)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/books", handler.handleListBooks)
	protected.POST("/books", handler.handleCreateBook)
	protected.POST("/books/upload", handler.handleUploadBook)
	protected.GET("/books/stats", handler.handleLibraryStats)
	protected.GET("/books/:id", handler.handleGetBook)
	protected.DELETE("/books/:id", handler.handleDeleteBook)
	protected.PUT("/books/:id/progress", handler.handleUpdateProgress)
	protected.GET("/books/:id/pages/:page", handler.handleGetPage)
	protected.GET("/books/:id/chapters", handler.handleListChapters)
	protected.GET("/books/:id/search", handler.handleSearchBook)
	protected.GET("/books/:id/export", handler.handleExportBook)

	protected.POST("/books/:id/shares", handler.handleCreateShare)
	protected.POST("/books/:id/share-token", handler.handleShareToken)
	protected.GET("/shares", handler.handleListShares)
	protected.POST("/shares/:id/revoke", handler.handleRevokeShare)
	protected.POST("/shares/:id/regenerate", handler.handleRegenerateShare)
	protected.DELETE("/shares/:id", handler.handleDeleteShare)
	protected.POST("/imports", handler.handleImport)

	protected.GET("/books/:id/annotations", handler.handleListAnnotations)
	protected.POST("/books/:id/annotations", handler.handleCreateAnnotation)
	protected.GET("/books/:id/annotations/export", handler.handleExportAnnotations)
	protected.DELETE("/annotations/:id", handler.handleDeleteAnnotation)

	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings", handler.handleSaveSettings)
	protected.DELETE("/settings", handler.handleResetSettings)
	protected.GET("/bookmarks", handler.handleListBookmarks)
	protected.POST("/books/:id/bookmarks/:page", handler.handleToggleBookmark)

	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	library     *library.Service
	shares      *shares.Service
	reader      *reader.Service
	annotations *annotations.Service
	dispatcher  *events.Dispatcher
	events      events.Publisher
	logger      *zap.Logger
	clock       func() time.Time
	heartbeat   time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

func (h *httpHandler) publish(c *gin.Context, eventType string, bookIDs ...string) {
	h.events.Publish(events.Message{
		Subject:   c.GetString(subjectContextKey),
		Type:      eventType,
		BookIDs:   bookIDs,
		Timestamp: h.clock().UTC(),
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Ordered: more specific sentinels come before the ones they wrap.
var errorMappings = []errorMapping{
	{target: library.ErrBookNotFound, status: http.StatusNotFound, code: "book_not_found"},
	{target: shares.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: annotations.ErrNotFound, status: http.StatusNotFound, code: "annotation_not_found"},
	{target: shares.ErrExpired, status: http.StatusGone, code: "expired"},
	{target: sharecodec.ErrExpired, status: http.StatusGone, code: "expired"},
	{target: shares.ErrRevoked, status: http.StatusGone, code: "revoked"},
	{target: shares.ErrInactive, status: http.StatusGone, code: "inactive"},
	{target: shares.ErrQuotaExceeded, status: http.StatusTooManyRequests, code: "quota_exceeded"},
	{target: shares.ErrPasswordRequired, status: http.StatusUnauthorized, code: "password_required"},
	{target: shares.ErrInvalidPassword, status: http.StatusForbidden, code: "invalid_password"},
	{target: sharecodec.ErrDecryptionFailed, status: http.StatusForbidden, code: "decryption_failed"},
	{target: sharecodec.ErrUnsupportedVersion, status: http.StatusBadRequest, code: "unsupported_version"},
	{target: sharecodec.ErrMalformed, status: http.StatusBadRequest, code: "malformed_token"},
	{target: errMissingUpload, status: http.StatusBadRequest, code: "missing_file"},
	{target: library.ErrFileTooLarge, status: http.StatusRequestEntityTooLarge, code: "file_too_large"},
	{target: library.ErrUnsupportedFormat, status: http.StatusBadRequest, code: "unsupported_format"},
	{target: library.ErrEmptyContent, status: http.StatusBadRequest, code: "empty_content"},
	{target: library.ErrInvalidBook, status: http.StatusBadRequest, code: "invalid_book"},
	{target: library.ErrInvalidBookID, status: http.StatusBadRequest, code: "invalid_book_id"},
	{target: library.ErrInvalidSortKey, status: http.StatusBadRequest, code: "invalid_sort"},
	{target: shares.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
	{target: annotations.ErrAnchorMismatch, status: http.StatusBadRequest, code: "anchor_mismatch"},
	{target: annotations.ErrInvalidAnnotation, status: http.StatusBadRequest, code: "invalid_annotation"},
	{target: annotations.ErrUnsupportedExportFormat, status: http.StatusBadRequest, code: "unsupported_export_format"},
	{target: reader.ErrInvalidSettings, status: http.StatusBadRequest, code: "invalid_settings"},
	{target: reader.ErrInvalidBookmark, status: http.StatusBadRequest, code: "invalid_bookmark"},
}

// statusFor maps a service error onto its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}
