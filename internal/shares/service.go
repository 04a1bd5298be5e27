package shares

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/sharecodec"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultTTL          = 24 * time.Hour
	defaultMaxTTL       = 30 * 24 * time.Hour
	defaultMaxDownloads = 10
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingBookStore  = errors.New("book store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBaseURL    = errors.New("share base url is required")
	noOpLogger           = zap.NewNop()
)

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
	opServiceNew        = "shares.service.new"
	opCreateSession     = "shares.create_session"
	opGetSession        = "shares.get_session"
	opListSessions      = "shares.list_sessions"
	opRevokeSession     = "shares.revoke_session"
	opDeleteSession     = "shares.delete_session"
	opRegenerateSession = "shares.regenerate_session"
	opDownloadSession   = "shares.download_session"
	opImportLink        = "shares.import_link"
	opImportToken       = "shares.import_token"
	opInlineToken       = "shares.inline_token"
	opCleanupExpired    = "shares.cleanup_expired"
	opQRCode            = "shares.qr_code"
	fieldSessionID      = "session_id"
	querySessionID      = "session_id = ?"
	reasonNotFound      = "not_found"
	reasonQueryFailed   = "query_failed"
	reasonUpdateFailed  = "update_failed"
	reasonInvalid       = "invalid_request"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// BookStore is the part of the library the share service depends on.
type BookStore interface {
	GetBook(ctx context.Context, bookID library.BookID) (library.Book, error)
	ImportShared(ctx context.Context, shared library.SharedBook) (library.Book, error)
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database            *gorm.DB
	Books               BookStore
	Clock               func() time.Time
	IDProvider          IDProvider
	Logger              *zap.Logger
	Events              events.Publisher
	EventSubject        string
	BaseURL             string
	DefaultTTL          time.Duration
	MaxTTL              time.Duration
	DefaultMaxDownloads int
	ScryptWorkFactor    int
	BcryptCost          int
}

// Service manages share sessions and token import.
type Service struct {
	db                  *gorm.DB
	books               BookStore
	clock               func() time.Time
	idProvider          IDProvider
	logger              *zap.Logger
	events              events.Publisher
	eventSubject        string
	baseURL             string
	defaultTTL          time.Duration
	maxTTL              time.Duration
	defaultMaxDownloads int
	bcryptCost          int
	encoder             *sharecodec.Encoder
	decoder             *sharecodec.Decoder
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Books == nil {
		return nil, newServiceError(opServiceNew, "missing_book_store", errMissingBookStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, newServiceError(opServiceNew, "missing_base_url", errMissingBaseURL)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Discard{}
	}
	defaultTTLValue := cfg.DefaultTTL
	if defaultTTLValue <= 0 {
		defaultTTLValue = defaultTTL
	}
	maxTTL := cfg.MaxTTL
	if maxTTL <= 0 {
		maxTTL = defaultMaxTTL
	}
	if maxTTL < defaultTTLValue {
		maxTTL = defaultTTLValue
	}
	maxDownloads := cfg.DefaultMaxDownloads
	if maxDownloads <= 0 {
		maxDownloads = defaultMaxDownloads
	}
	bcryptCost := cfg.BcryptCost
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}

	return &Service{
		db:                  cfg.Database,
		books:               cfg.Books,
		clock:               clock,
		idProvider:          cfg.IDProvider,
		logger:              logger,
		events:              publisher,
		eventSubject:        cfg.EventSubject,
		baseURL:             strings.TrimSpace(cfg.BaseURL),
		defaultTTL:          defaultTTLValue,
		maxTTL:              maxTTL,
		defaultMaxDownloads: maxDownloads,
		bcryptCost:          bcryptCost,
		encoder:             sharecodec.NewEncoder(clock, cfg.ScryptWorkFactor),
		decoder:             sharecodec.NewDecoder(clock, 0),
	}, nil
}

// CreateRequest describes a new share session. Zero TTL and MaxDownloads
// select the configured defaults.
type CreateRequest struct {
	BookID       library.BookID
	TTL          time.Duration
	MaxDownloads int
	Password     string
	Compress     bool
}

// Created is a stored session together with its share link.
type Created struct {
	Session Session
	Link    string
}

// CreateSession encodes the book and stores a session granting access to it.
// A password both gates the download and encrypts the token.
func (s *Service) CreateSession(ctx context.Context, request CreateRequest) (Created, error) {
	ttl, maxDownloads, err := s.normalizeLimits(request.TTL, request.MaxDownloads)
	if err != nil {
		return Created{}, newServiceError(opCreateSession, reasonInvalid, err)
	}

	book, err := s.books.GetBook(ctx, request.BookID)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return Created{}, newServiceError(opCreateSession, "book_not_found", fmt.Errorf("%w: %w", ErrNotFound, err))
		}
		s.logError(opCreateSession, "book_lookup_failed", err)
		return Created{}, newServiceError(opCreateSession, "book_lookup_failed", err)
	}

	session, err := s.newSession(opCreateSession, book, ttl, maxDownloads, request.Password, request.Compress)
	if err != nil {
		return Created{}, err
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreateSession, "insert_failed", err, zap.String(fieldSessionID, session.ID))
		return Created{}, newServiceError(opCreateSession, "insert_failed", err)
	}

	s.loggerOrDefault().Info("share session created",
		zap.String(fieldSessionID, session.ID),
		zap.String("book_id", session.BookID),
		zap.Int("max_downloads", session.MaxDownloads),
		zap.Bool("password_protected", session.PasswordProtected))
	s.publish(events.TypeShareCreated, session.ID, session.BookID)
	return Created{Session: session, Link: s.SessionLink(session)}, nil
}

func (s *Service) normalizeLimits(ttl time.Duration, maxDownloads int) (time.Duration, int, error) {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < time.Second || ttl > s.maxTTL {
		return 0, 0, fmt.Errorf("%w: ttl must be between 1s and %s", ErrInvalidRequest, s.maxTTL)
	}
	if maxDownloads == 0 {
		maxDownloads = s.defaultMaxDownloads
	}
	if maxDownloads < 1 || maxDownloads > MaxDownloadsLimit {
		return 0, 0, fmt.Errorf("%w: max downloads must be between 1 and %d", ErrInvalidRequest, MaxDownloadsLimit)
	}
	return ttl, maxDownloads, nil
}

func (s *Service) newSession(operation string, book library.Book, ttl time.Duration, maxDownloads int, password string, compress bool) (Session, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return Session{}, newServiceError(operation, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	token, err := s.encoder.Encode(book.Shared(), sharecodec.Options{
		Compress:   compress,
		Passphrase: password,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		s.logError(operation, "encode_failed", err, zap.String("book_id", book.ID))
		return Session{}, newServiceError(operation, "encode_failed", err)
	}

	var passwordHash string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
		if err != nil {
			return Session{}, newServiceError(operation, reasonInvalid, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		}
		passwordHash = string(hash)
	}

	return Session{
		ID:                sessionIDPrefix + strings.ReplaceAll(rawID, "-", ""),
		BookID:            book.ID,
		BookTitle:         book.Title,
		BookAuthor:        book.Author,
		Format:            book.Format,
		CreatedAtSeconds:  now.Unix(),
		ExpiresAtSeconds:  expiresAt.Unix(),
		MaxDownloads:      maxDownloads,
		PasswordProtected: password != "",
		PasswordHash:      passwordHash,
		IsActive:          true,
		Compressed:        compress,
		PayloadToken:      token,
	}, nil
}

// SessionLink renders the share link of a session.
func (s *Service) SessionLink(session Session) string {
	return sharecodec.BuildSessionLink(s.baseURL, session.ID, session.CreatedAt(), session.PasswordProtected)
}

// GetSession loads a session. A session whose evaluated state became
// terminal while still stored as active is deactivated on the way.
func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.loadSession(ctx, s.db, opGetSession, sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.settle(ctx, session)
}

func (s *Service) loadSession(ctx context.Context, db *gorm.DB, operation, sessionID string) (Session, error) {
	var session Session
	err := db.WithContext(ctx).Where(querySessionID, strings.TrimSpace(sessionID)).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldSessionID, sessionID))
		return Session{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return session, nil
}

// settle persists a lazily observed expiry or exhaustion.
func (s *Service) settle(ctx context.Context, session Session) (Session, error) {
	state := session.State(s.clock())
	if !session.IsActive || state == StateActive {
		return session, nil
	}
	if err := s.deactivate(ctx, s.db, session.ID, reasonFor(state)); err != nil {
		return Session{}, err
	}
	session.IsActive = false
	session.DeactivatedReason = reasonFor(state)
	session.DeactivatedAtSeconds = s.clock().UTC().Unix()
	return session, nil
}

func (s *Service) deactivate(ctx context.Context, db *gorm.DB, sessionID, reason string) error {
	err := db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{
			"is_active":          false,
			"deactivated_reason": reason,
			"deactivated_at_s":   s.clock().UTC().Unix(),
		}).Error
	if err != nil {
		s.logError("shares.deactivate", reasonUpdateFailed, err, zap.String(fieldSessionID, sessionID))
		return newServiceError("shares.deactivate", reasonUpdateFailed, err)
	}
	if reason != ReasonSuperseded {
		s.publish(events.TypeShareClosed, sessionID, "")
	}
	return nil
}

// ListFilter narrows session listings.
type ListFilter struct {
	BookID          library.BookID
	IncludeInactive bool
}

// ListSessions returns sessions newest first. Without IncludeInactive only
// sessions that are still usable are returned.
func (s *Service) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	query := s.db.WithContext(ctx).Model(&Session{})
	if filter.BookID != "" {
		query = query.Where("book_id = ?", filter.BookID.String())
	}
	if !filter.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	var sessions []Session
	if err := query.Order("created_at_s DESC").Order("session_id DESC").Find(&sessions).Error; err != nil {
		s.logError(opListSessions, reasonQueryFailed, err)
		return nil, newServiceError(opListSessions, reasonQueryFailed, err)
	}

	result := make([]Session, 0, len(sessions))
	for _, session := range sessions {
		settled, err := s.settle(ctx, session)
		if err != nil {
			return nil, err
		}
		if !filter.IncludeInactive && !settled.IsActive {
			continue
		}
		result = append(result, settled)
	}
	return result, nil
}

// RevokeSession deactivates a session. Sessions that are already inactive
// are returned unchanged.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !session.IsActive {
		return session, nil
	}
	if err := s.deactivate(ctx, s.db, session.ID, ReasonRevoked); err != nil {
		return Session{}, err
	}
	s.loggerOrDefault().Info("share session revoked", zap.String(fieldSessionID, session.ID))
	return s.loadSession(ctx, s.db, opRevokeSession, session.ID)
}

// DeleteSession removes a session and its token.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Where(querySessionID, strings.TrimSpace(sessionID)).Delete(&Session{})
	if result.Error != nil {
		s.logError(opDeleteSession, "delete_failed", result.Error, zap.String(fieldSessionID, sessionID))
		return newServiceError(opDeleteSession, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteSession, reasonNotFound, ErrNotFound)
	}
	return nil
}

// RegenerateSession supersedes a session with a fresh one for the same book,
// keeping its lifetime, quota and compression. Protected sessions need their
// password again since only its hash is stored.
func (s *Service) RegenerateSession(ctx context.Context, sessionID, password string) (Created, error) {
	previous, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Created{}, err
	}
	if previous.PasswordProtected {
		if err := checkPassword(previous, password); err != nil {
			return Created{}, newServiceError(opRegenerateSession, "password_rejected", err)
		}
	} else {
		password = ""
	}

	book, err := s.books.GetBook(ctx, library.BookID(previous.BookID))
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return Created{}, newServiceError(opRegenerateSession, "book_not_found", fmt.Errorf("%w: %w", ErrNotFound, err))
		}
		return Created{}, newServiceError(opRegenerateSession, "book_lookup_failed", err)
	}

	ttl := time.Duration(previous.ExpiresAtSeconds-previous.CreatedAtSeconds) * time.Second
	ttl = min(max(ttl, time.Second), s.maxTTL)
	replacement, err := s.newSession(opRegenerateSession, book, ttl, previous.MaxDownloads, password, previous.Compressed)
	if err != nil {
		return Created{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if previous.IsActive {
			if err := s.deactivate(ctx, tx, previous.ID, ReasonSuperseded); err != nil {
				return err
			}
		}
		return tx.Create(&replacement).Error
	})
	if err != nil {
		s.logError(opRegenerateSession, "insert_failed", err, zap.String(fieldSessionID, previous.ID))
		return Created{}, newServiceError(opRegenerateSession, "insert_failed", err)
	}

	s.loggerOrDefault().Info("share session regenerated",
		zap.String("previous_session_id", previous.ID),
		zap.String(fieldSessionID, replacement.ID))
	s.publish(events.TypeShareCreated, replacement.ID, replacement.BookID)
	return Created{Session: replacement, Link: s.SessionLink(replacement)}, nil
}

func checkPassword(session Session, password string) error {
	if !session.PasswordProtected {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(session.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// Download is the result of a counted session download.
type Download struct {
	Session Session
	Token   string
}

// DownloadSession counts one download and returns the session token. The
// counter only moves through a guarded update, so concurrent downloads can
// never push it past the quota.
func (s *Service) DownloadSession(ctx context.Context, sessionID, password string) (Download, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Download{}, err
	}
	if err := stateError(session.State(s.clock())); err != nil {
		return Download{}, newServiceError(opDownloadSession, string(session.State(s.clock())), err)
	}
	if err := checkPassword(session, password); err != nil {
		s.loggerOrDefault().Warn("share download rejected",
			zap.String(fieldSessionID, session.ID),
			zap.Error(err))
		return Download{}, newServiceError(opDownloadSession, "password_rejected", err)
	}

	var (
		counted    Session
		rejectedBy State
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		result := tx.Model(&Session{}).
			Where("session_id = ? AND is_active = ? AND download_count < max_downloads AND expires_at_s > ?",
				session.ID, true, now.Unix()).
			UpdateColumn("download_count", gorm.Expr("download_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		current, err := s.loadSession(ctx, tx, opDownloadSession, session.ID)
		if err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			rejectedBy = current.State(now)
			if rejectedBy == StateActive {
				rejectedBy = StateInactive
			}
			return nil
		}
		if current.DownloadCount >= current.MaxDownloads {
			if err := s.deactivate(ctx, tx, current.ID, ReasonExhausted); err != nil {
				return err
			}
			current.IsActive = false
			current.DeactivatedReason = ReasonExhausted
			current.DeactivatedAtSeconds = now.UTC().Unix()
		}
		counted = current
		return nil
	})
	if err != nil {
		s.logError(opDownloadSession, reasonUpdateFailed, err, zap.String(fieldSessionID, session.ID))
		return Download{}, newServiceError(opDownloadSession, reasonUpdateFailed, err)
	}
	if rejectedBy != "" {
		if _, err := s.GetSession(ctx, session.ID); err != nil {
			return Download{}, err
		}
		return Download{}, newServiceError(opDownloadSession, string(rejectedBy), stateError(rejectedBy))
	}

	s.loggerOrDefault().Info("share session downloaded",
		zap.String(fieldSessionID, counted.ID),
		zap.Int("download_count", counted.DownloadCount),
		zap.Int("max_downloads", counted.MaxDownloads))
	s.publish(events.TypeShareDownloaded, counted.ID, counted.BookID)
	return Download{Session: counted, Token: counted.PayloadToken}, nil
}

// ImportLink imports a book from a session link, an inline import link or a
// bare token.
func (s *Service) ImportLink(ctx context.Context, rawLink, password string) (library.Book, error) {
	link, err := sharecodec.ParseLink(rawLink)
	if err != nil {
		return library.Book{}, newServiceError(opImportLink, "parse_failed", err)
	}
	if link.Token != "" {
		return s.ImportToken(ctx, link.Token, password)
	}
	download, err := s.DownloadSession(ctx, link.SessionID, password)
	if err != nil {
		return library.Book{}, err
	}
	return s.ImportToken(ctx, download.Token, password)
}

// ImportToken decodes a token and inserts the book with a fresh id.
func (s *Service) ImportToken(ctx context.Context, token, password string) (library.Book, error) {
	decoded, err := s.decoder.Decode(token, password)
	if err != nil {
		s.loggerOrDefault().Warn("share token rejected",
			zap.String("operation", opImportToken),
			zap.Error(err))
		return library.Book{}, newServiceError(opImportToken, "decode_failed", err)
	}
	book, err := s.books.ImportShared(ctx, decoded.Book)
	if err != nil {
		return library.Book{}, newServiceError(opImportToken, "insert_failed", err)
	}
	s.publish(events.TypeBookImported, "", book.ID)
	return book, nil
}

// ImportFile imports the token stored in a `.moyue` file.
func (s *Service) ImportFile(ctx context.Context, data []byte, password string) (library.Book, error) {
	token, err := sharecodec.ParseFile(data)
	if err != nil {
		return library.Book{}, newServiceError(opImportToken, "parse_failed", err)
	}
	return s.ImportToken(ctx, token, password)
}

// InlineRequest describes a self-contained token that needs no session.
type InlineRequest struct {
	BookID   library.BookID
	TTL      time.Duration
	Password string
	Compress bool
}

// Inline is a session-less token with its import link.
type Inline struct {
	Token     string
	Link      string
	ExpiresAt time.Time
}

// InlineToken encodes a book into a self-contained `?import=` link.
func (s *Service) InlineToken(ctx context.Context, request InlineRequest) (Inline, error) {
	ttl, _, err := s.normalizeLimits(request.TTL, s.defaultMaxDownloads)
	if err != nil {
		return Inline{}, newServiceError(opInlineToken, reasonInvalid, err)
	}
	book, err := s.books.GetBook(ctx, request.BookID)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return Inline{}, newServiceError(opInlineToken, "book_not_found", fmt.Errorf("%w: %w", ErrNotFound, err))
		}
		return Inline{}, newServiceError(opInlineToken, "book_lookup_failed", err)
	}
	now := s.clock().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	token, err := s.encoder.Encode(book.Shared(), sharecodec.Options{
		Compress:   request.Compress,
		Passphrase: request.Password,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		s.logError(opInlineToken, "encode_failed", err, zap.String("book_id", book.ID))
		return Inline{}, newServiceError(opInlineToken, "encode_failed", err)
	}
	return Inline{
		Token:     token,
		Link:      sharecodec.BuildImportLink(s.baseURL, token, now),
		ExpiresAt: expiresAt,
	}, nil
}

// ExportFile renders a book as a `.moyue` file.
func (s *Service) ExportFile(ctx context.Context, request InlineRequest) ([]byte, error) {
	inline, err := s.InlineToken(ctx, request)
	if err != nil {
		return nil, err
	}
	return sharecodec.MarshalFile(inline.Token)
}

// CleanupExpired deactivates every active session that expired or used its
// quota and reports how many were closed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	nowSeconds := s.clock().UTC().Unix()
	var closed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&Session{}).
			Where("is_active = ? AND expires_at_s <= ?", true, nowSeconds).
			Updates(map[string]any{
				"is_active":          false,
				"deactivated_reason": ReasonExpired,
				"deactivated_at_s":   nowSeconds,
			})
		if expired.Error != nil {
			return expired.Error
		}
		exhausted := tx.Model(&Session{}).
			Where("is_active = ? AND download_count >= max_downloads", true).
			Updates(map[string]any{
				"is_active":          false,
				"deactivated_reason": ReasonExhausted,
				"deactivated_at_s":   nowSeconds,
			})
		if exhausted.Error != nil {
			return exhausted.Error
		}
		closed = expired.RowsAffected + exhausted.RowsAffected
		return nil
	})
	if err != nil {
		s.logError(opCleanupExpired, reasonUpdateFailed, err)
		return 0, newServiceError(opCleanupExpired, reasonUpdateFailed, err)
	}
	if closed > 0 {
		s.loggerOrDefault().Info("share sessions closed", zap.Int64("count", closed))
	}
	return closed, nil
}

func (s *Service) publish(eventType, sessionID, bookID string) {
	message := events.Message{
		Subject:   s.eventSubject,
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: s.clock().UTC(),
	}
	if bookID != "" {
		message.BookIDs = []string{bookID}
	}
	s.events.Publish(message)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
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
	s.loggerOrDefault().Error("share service error", attrs...)
}
