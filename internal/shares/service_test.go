package shares

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/sharecodec"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testBaseURL = "https://moyue.example/reader"

type manualClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *manualClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

type sequenceIDs struct {
	mu    sync.Mutex
	count int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return fmt.Sprintf("0190f3a2-7c1e-7000-8000-%012d", g.count), nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []events.Message
}

func (p *recordingPublisher) Publish(message events.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.messages))
	for _, message := range p.messages {
		types = append(types, message.Type)
	}
	return types
}

type fixture struct {
	service   *Service
	library   *library.Service
	db        *gorm.DB
	clock     *manualClock
	publisher *recordingPublisher
	book      library.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "shares.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&library.Book{}, &Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &manualClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	books, err := library.NewService(library.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: library.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct library service: %v", err)
	}
	book, err := books.AddBook(context.Background(), library.NewBook{
		Title:   "Белая гвардия",
		Author:  "Михаил Булгаков",
		Content: strings.Repeat("Велик был год и страшен год по Рождестве Христовом 1918. ", 50),
		Format:  "txt",
	})
	if err != nil {
		t.Fatalf("failed to add book: %v", err)
	}

	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:         db,
		Books:            books,
		Clock:            clock.Now,
		IDProvider:       &sequenceIDs{},
		Events:           publisher,
		EventSubject:     "owner",
		BaseURL:          testBaseURL,
		ScryptWorkFactor: 10,
		BcryptCost:       bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct share service: %v", err)
	}
	return &fixture{service: service, library: books, db: db, clock: clock, publisher: publisher, book: book}
}

func (f *fixture) create(t *testing.T, request CreateRequest) Created {
	t.Helper()
	if request.BookID == "" {
		request.BookID = library.BookID(f.book.ID)
	}
	created, err := f.service.CreateSession(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return created
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name   string
		config ServiceConfig
	}{
		{name: "missing database", config: ServiceConfig{Books: f.library, IDProvider: &sequenceIDs{}, BaseURL: testBaseURL}},
		{name: "missing books", config: ServiceConfig{Database: f.db, IDProvider: &sequenceIDs{}, BaseURL: testBaseURL}},
		{name: "missing ids", config: ServiceConfig{Database: f.db, Books: f.library, BaseURL: testBaseURL}},
		{name: "missing base url", config: ServiceConfig{Database: f.db, Books: f.library, IDProvider: &sequenceIDs{}}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewService(testCase.config); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}

func TestCreateSessionStoresSessionAndLink(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{TTL: 2 * time.Hour, MaxDownloads: 3, Compress: true})

	session := created.Session
	if !strings.HasPrefix(session.ID, sessionIDPrefix) || strings.Contains(session.ID, "-") {
		t.Fatalf("unexpected session id %q", session.ID)
	}
	if session.BookTitle != f.book.Title || session.MaxDownloads != 3 || session.DownloadCount != 0 {
		t.Fatalf("unexpected session %#v", session)
	}
	if got := session.ExpiresAt().Sub(session.CreatedAt()); got != 2*time.Hour {
		t.Fatalf("expected two hour lifetime, got %s", got)
	}
	if !strings.HasPrefix(created.Link, testBaseURL+"?session="+session.ID) || !strings.Contains(created.Link, "&v=2.0") {
		t.Fatalf("unexpected link %q", created.Link)
	}
	if strings.Contains(created.Link, "&p=1") {
		t.Fatalf("unprotected link must not carry the password flag")
	}
	if types := f.publisher.types(); len(types) != 1 || types[0] != events.TypeShareCreated {
		t.Fatalf("expected share created event, got %v", types)
	}
}

func TestCreateSessionRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name    string
		request CreateRequest
		target  error
	}{
		{name: "unknown book", request: CreateRequest{BookID: "missing"}, target: ErrNotFound},
		{name: "quota too high", request: CreateRequest{BookID: library.BookID(f.book.ID), MaxDownloads: MaxDownloadsLimit + 1}, target: ErrInvalidRequest},
		{name: "negative quota", request: CreateRequest{BookID: library.BookID(f.book.ID), MaxDownloads: -1}, target: ErrInvalidRequest},
		{name: "ttl too long", request: CreateRequest{BookID: library.BookID(f.book.ID), TTL: 31 * 24 * time.Hour}, target: ErrInvalidRequest},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := f.service.CreateSession(context.Background(), testCase.request)
			if !errors.Is(err, testCase.target) {
				t.Fatalf("expected %v, got %v", testCase.target, err)
			}
		})
	}
}

func TestDownloadCountsUntilQuotaIsExhausted(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{MaxDownloads: 2})

	for attempt := 1; attempt <= 2; attempt++ {
		download, err := f.service.DownloadSession(context.Background(), created.Session.ID, "")
		if err != nil {
			t.Fatalf("download %d failed: %v", attempt, err)
		}
		if download.Session.DownloadCount != attempt || download.Token == "" {
			t.Fatalf("unexpected download %d: %#v", attempt, download.Session)
		}
	}

	_, err := f.service.DownloadSession(context.Background(), created.Session.ID, "")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	session, err := f.service.GetSession(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if session.IsActive || session.DeactivatedReason != ReasonExhausted || session.DownloadCount != 2 {
		t.Fatalf("expected exhausted session, got %#v", session)
	}
}

func TestExpiryWinsRegardlessOfRemainingQuota(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{TTL: time.Hour, MaxDownloads: 5})

	f.clock.Advance(time.Hour)
	_, err := f.service.DownloadSession(context.Background(), created.Session.ID, "")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}

	var stored Session
	if err := f.db.Where(querySessionID, created.Session.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if stored.IsActive || stored.DeactivatedReason != ReasonExpired {
		t.Fatalf("expected persisted expiry, got %#v", stored)
	}
	if stored.DownloadCount != 0 {
		t.Fatalf("expired download must not be counted")
	}
}

func TestExhaustedSessionReportsExpiryOncePastDeadline(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{TTL: time.Hour, MaxDownloads: 1})

	if _, err := f.service.DownloadSession(context.Background(), created.Session.ID, ""); err != nil {
		t.Fatalf("unexpected download error: %v", err)
	}
	_, err := f.service.DownloadSession(context.Background(), created.Session.ID, "")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error before expiry, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	_, err = f.service.DownloadSession(context.Background(), created.Session.ID, "")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	session, err := f.service.GetSession(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if state := session.State(f.clock.Now()); state != StateExpired {
		t.Fatalf("expected expired state, got %s", state)
	}
}

func TestRevokedSessionIsInactive(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{})

	revoked, err := f.service.RevokeSession(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if revoked.IsActive || revoked.DeactivatedReason != ReasonRevoked {
		t.Fatalf("expected revoked session, got %#v", revoked)
	}
	if _, err := f.service.RevokeSession(context.Background(), created.Session.ID); err != nil {
		t.Fatalf("repeated revoke must succeed, got %v", err)
	}

	_, err = f.service.DownloadSession(context.Background(), created.Session.ID, "")
	if !errors.Is(err, ErrInactive) || !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected revoked inactive error, got %v", err)
	}
}

func TestPasswordProtectedDownload(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{Password: "s3cret", Compress: true})
	if !created.Session.PasswordProtected || created.Session.PasswordHash == "s3cret" {
		t.Fatalf("expected hashed password, got %#v", created.Session)
	}
	if !strings.HasSuffix(created.Link, "&p=1") {
		t.Fatalf("expected password flag in link %q", created.Link)
	}

	if _, err := f.service.DownloadSession(context.Background(), created.Session.ID, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected password required, got %v", err)
	}
	if _, err := f.service.DownloadSession(context.Background(), created.Session.ID, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	session, err := f.service.GetSession(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if session.DownloadCount != 0 {
		t.Fatalf("rejected downloads must not be counted")
	}

	download, err := f.service.DownloadSession(context.Background(), created.Session.ID, "s3cret")
	if err != nil {
		t.Fatalf("unexpected download error: %v", err)
	}
	decoded, err := sharecodec.NewDecoder(f.clock.Now, 0).Decode(download.Token, "s3cret")
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.Book.Title != f.book.Title || !decoded.Envelope.Encrypted {
		t.Fatalf("unexpected decoded token %#v", decoded.Envelope)
	}
}

func TestConcurrentDownloadsNeverExceedQuota(t *testing.T) {
	f := newFixture(t)
	const quota = 3
	created := f.create(t, CreateRequest{MaxDownloads: quota})

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exceeded  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.DownloadSession(context.Background(), created.Session.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrQuotaExceeded):
				exceeded++
			default:
				t.Errorf("unexpected download error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != quota || exceeded != workers-quota {
		t.Fatalf("expected %d successes and %d rejections, got %d and %d", quota, workers-quota, succeeded, exceeded)
	}
	var stored Session
	if err := f.db.Where(querySessionID, created.Session.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if stored.DownloadCount != quota {
		t.Fatalf("expected download count %d, got %d", quota, stored.DownloadCount)
	}
}

func TestRegenerateSupersedesPreviousSession(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{TTL: 6 * time.Hour, MaxDownloads: 4, Password: "pw"})

	if _, err := f.service.RegenerateSession(context.Background(), created.Session.ID, "nope"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}

	f.clock.Advance(time.Minute)
	regenerated, err := f.service.RegenerateSession(context.Background(), created.Session.ID, "pw")
	if err != nil {
		t.Fatalf("unexpected regenerate error: %v", err)
	}
	if regenerated.Session.ID == created.Session.ID {
		t.Fatalf("expected a new session id")
	}
	if regenerated.Session.MaxDownloads != 4 || !regenerated.Session.PasswordProtected {
		t.Fatalf("expected limits to carry over, got %#v", regenerated.Session)
	}
	if got := regenerated.Session.ExpiresAt().Sub(regenerated.Session.CreatedAt()); got != 6*time.Hour {
		t.Fatalf("expected lifetime to carry over, got %s", got)
	}

	previous, err := f.service.GetSession(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if previous.IsActive || previous.DeactivatedReason != ReasonSuperseded {
		t.Fatalf("expected superseded session, got %#v", previous)
	}
	if _, err := f.service.DownloadSession(context.Background(), previous.ID, "pw"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
}

func TestListSessionsFiltersInactive(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, CreateRequest{TTL: time.Hour})
	f.clock.Advance(time.Second)
	second := f.create(t, CreateRequest{TTL: 3 * time.Hour})
	f.clock.Advance(2 * time.Hour)

	active, err := f.service.ListSessions(context.Background(), ListFilter{BookID: library.BookID(f.book.ID)})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.Session.ID {
		t.Fatalf("expected only the live session, got %d", len(active))
	}

	all, err := f.service.ListSessions(context.Background(), ListFilter{IncludeInactive: true})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(all) != 2 || all[1].ID != first.Session.ID || all[1].DeactivatedReason != ReasonExpired {
		t.Fatalf("expected expired session listed last, got %#v", all)
	}
}

func TestCleanupExpiredClosesStaleSessions(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateRequest{TTL: time.Hour})
	f.create(t, CreateRequest{TTL: time.Hour})
	f.create(t, CreateRequest{TTL: 5 * time.Hour})

	f.clock.Advance(2 * time.Hour)
	closed, err := f.service.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected cleanup error: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected two closed sessions, got %d", closed)
	}
	again, err := f.service.CleanupExpired(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("expected idempotent cleanup, got %d %v", again, err)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{})
	if err := f.service.DeleteSession(context.Background(), created.Session.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := f.service.DeleteSession(context.Background(), created.Session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.service.GetSession(context.Background(), created.Session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportLinkThroughSession(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{MaxDownloads: 1, Compress: true})

	imported, err := f.service.ImportLink(context.Background(), created.Link, "")
	if err != nil {
		t.Fatalf("unexpected import error: %v", err)
	}
	if imported.ID == f.book.ID || imported.Title != f.book.Title || imported.Progress != 0 {
		t.Fatalf("expected a fresh copy of the book, got %#v", imported)
	}
	if _, err := f.service.ImportLink(context.Background(), created.Link, ""); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error on second import, got %v", err)
	}
}

func TestInlineTokenImportScenario(t *testing.T) {
	f := newFixture(t)
	small, err := f.library.AddBook(context.Background(), library.NewBook{Title: "T", Author: "A", Content: "C"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	inline, err := f.service.InlineToken(context.Background(), InlineRequest{BookID: library.BookID(small.ID), Compress: true})
	if err != nil {
		t.Fatalf("unexpected inline error: %v", err)
	}
	if !strings.Contains(inline.Link, "?import=") {
		t.Fatalf("unexpected inline link %q", inline.Link)
	}

	imported, err := f.service.ImportLink(context.Background(), inline.Link, "")
	if err != nil {
		t.Fatalf("unexpected import error: %v", err)
	}
	if imported.Title != "T" || imported.Author != "A" || imported.Content != "C" {
		t.Fatalf("unexpected imported book %#v", imported)
	}

	file, err := f.service.ExportFile(context.Background(), InlineRequest{BookID: library.BookID(small.ID), Password: "pw"})
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if _, err := f.service.ImportFile(context.Background(), file, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected password required, got %v", err)
	}
	fromFile, err := f.service.ImportFile(context.Background(), file, "pw")
	if err != nil {
		t.Fatalf("unexpected file import error: %v", err)
	}
	if fromFile.Title != "T" {
		t.Fatalf("unexpected file import %#v", fromFile)
	}
}

func TestImportTokenRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	inline, err := f.service.InlineToken(context.Background(), InlineRequest{BookID: library.BookID(f.book.ID), TTL: time.Hour})
	if err != nil {
		t.Fatalf("unexpected inline error: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.service.ImportToken(context.Background(), inline.Token, ""); !errors.Is(err, sharecodec.ErrExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestSessionStateOrdering(t *testing.T) {
	now := time.Unix(1000, 0)
	testCases := []struct {
		name    string
		session Session
		state   State
	}{
		{name: "active", session: Session{IsActive: true, ExpiresAtSeconds: 2000, MaxDownloads: 2}, state: StateActive},
		{name: "expired with quota", session: Session{IsActive: true, ExpiresAtSeconds: 1000, MaxDownloads: 2}, state: StateExpired},
		{name: "expired and exhausted", session: Session{IsActive: true, ExpiresAtSeconds: 900, MaxDownloads: 1, DownloadCount: 1}, state: StateExpired},
		{name: "exhausted", session: Session{IsActive: true, ExpiresAtSeconds: 2000, MaxDownloads: 1, DownloadCount: 1}, state: StateExhausted},
		{name: "revoked", session: Session{DeactivatedReason: ReasonRevoked, ExpiresAtSeconds: 900}, state: StateRevoked},
		{name: "superseded", session: Session{DeactivatedReason: ReasonSuperseded, ExpiresAtSeconds: 2000}, state: StateInactive},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.session.State(now); got != testCase.state {
				t.Fatalf("expected %s, got %s", testCase.state, got)
			}
		})
	}
}

func TestQRCodeRendersActiveSessions(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, CreateRequest{})

	png, err := f.service.QRCode(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("unexpected qr error: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatalf("expected png output")
	}

	if _, err := f.service.RevokeSession(context.Background(), created.Session.ID); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if _, err := f.service.QRCode(context.Background(), created.Session.ID); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
}
