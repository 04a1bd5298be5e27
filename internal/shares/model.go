package shares

import (
	"errors"
	"fmt"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/sharecodec"
)

const (
	// MaxDownloadsLimit is the highest download quota a session may carry.
	MaxDownloadsLimit = 1000

	sessionIDPrefix = "sess_"
)

var (
	// ErrNotFound indicates a missing session or book.
	ErrNotFound = errors.New("shares: not found")
	// ErrExpired indicates that the session expiry has passed.
	ErrExpired = errors.New("shares: session expired")
	// ErrQuotaExceeded indicates that every allowed download was used.
	ErrQuotaExceeded = errors.New("shares: download quota exceeded")
	// ErrInactive indicates a session that was deactivated by its owner.
	ErrInactive = errors.New("shares: session inactive")
	// ErrRevoked indicates a session revoked by its owner.
	ErrRevoked = fmt.Errorf("%w: revoked", ErrInactive)
	// ErrInvalidPassword indicates a password that does not match the session.
	ErrInvalidPassword = errors.New("shares: invalid password")
	// ErrPasswordRequired indicates a protected session accessed without a password.
	ErrPasswordRequired = sharecodec.ErrPasswordRequired
	// ErrInvalidRequest indicates session parameters outside the allowed bounds.
	ErrInvalidRequest = errors.New("shares: invalid request")
)

// State is the evaluated lifecycle state of a session.
type State string

const (
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateExhausted State = "exhausted"
	StateRevoked   State = "revoked"
	StateInactive  State = "inactive"
)

// Deactivation reasons persisted with inactive sessions.
const (
	ReasonExpired    = "expired"
	ReasonExhausted  = "exhausted"
	ReasonRevoked    = "revoked"
	ReasonSuperseded = "superseded"
)

// Session is a time- and count-limited grant to import one book.
type Session struct {
	ID                   string `gorm:"column:session_id;primaryKey;size:64;not null"`
	BookID               string `gorm:"column:book_id;size:190;not null;index:idx_share_sessions_book"`
	BookTitle            string `gorm:"column:book_title;size:512;not null"`
	BookAuthor           string `gorm:"column:book_author;size:512;not null"`
	Format               string `gorm:"column:format;size:16;not null"`
	CreatedAtSeconds     int64  `gorm:"column:created_at_s;not null;index:idx_share_sessions_created"`
	ExpiresAtSeconds     int64  `gorm:"column:expires_at_s;not null"`
	MaxDownloads         int    `gorm:"column:max_downloads;not null"`
	DownloadCount        int    `gorm:"column:download_count;not null"`
	PasswordProtected    bool   `gorm:"column:password_protected;not null"`
	PasswordHash         string `gorm:"column:password_hash;size:128;not null"`
	IsActive             bool   `gorm:"column:is_active;not null;index:idx_share_sessions_active"`
	DeactivatedReason    string `gorm:"column:deactivated_reason;size:16;not null"`
	DeactivatedAtSeconds int64  `gorm:"column:deactivated_at_s;not null"`
	Compressed           bool   `gorm:"column:compressed;not null"`
	PayloadToken         string `gorm:"column:payload_token;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "share_sessions"
}

// ExpiresAt returns the expiry as a time.
func (s Session) ExpiresAt() time.Time {
	return time.Unix(s.ExpiresAtSeconds, 0).UTC()
}

// CreatedAt returns the creation time.
func (s Session) CreatedAt() time.Time {
	return time.Unix(s.CreatedAtSeconds, 0).UTC()
}

// RemainingDownloads is never negative.
func (s Session) RemainingDownloads() int {
	return max(0, s.MaxDownloads-s.DownloadCount)
}

// State evaluates the lifecycle lazily. Revocation and supersession win
// outright. Expiry beats the download quota, also for sessions already
// stored as exhausted.
func (s Session) State(now time.Time) State {
	if !s.IsActive {
		switch s.DeactivatedReason {
		case ReasonRevoked:
			return StateRevoked
		case ReasonExpired:
			return StateExpired
		case ReasonExhausted:
			if now.Unix() >= s.ExpiresAtSeconds {
				return StateExpired
			}
			return StateExhausted
		default:
			return StateInactive
		}
	}
	if now.Unix() >= s.ExpiresAtSeconds {
		return StateExpired
	}
	if s.DownloadCount >= s.MaxDownloads {
		return StateExhausted
	}
	return StateActive
}

// stateError maps a terminal state onto its sentinel error.
func stateError(state State) error {
	switch state {
	case StateActive:
		return nil
	case StateExpired:
		return ErrExpired
	case StateExhausted:
		return ErrQuotaExceeded
	case StateRevoked:
		return ErrRevoked
	default:
		return ErrInactive
	}
}

func reasonFor(state State) string {
	switch state {
	case StateExpired:
		return ReasonExpired
	case StateExhausted:
		return ReasonExhausted
	case StateRevoked:
		return ReasonRevoked
	default:
		return ReasonSuperseded
	}
}
