package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/annotations"
	"github.com/dar-of-the-flame/MoYue/internal/auth"
	"github.com/dar-of-the-flame/MoYue/internal/database"
	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"github.com/dar-of-the-flame/MoYue/internal/server"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	signingSecret   = "integration-secret"
	ownerSubject    = "owner"
	jsonContentType = "application/json"
	bookTitle       = "Мастер и Маргарита"
	bookContent     = "Однажды весною, в час небывало жаркого заката, в Москве, на Патриарших прудах, появились два гражданина."
)

type instance struct {
	server *httptest.Server
	token  string
}

func startInstance(testContext *testing.T, name string) *instance {
	testContext.Helper()

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), name+".db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := events.NewDispatcher()
	libraryService, err := library.NewService(library.ServiceConfig{Database: db, IDProvider: library.NewUUIDProvider()})
	if err != nil {
		testContext.Fatalf("failed to build library service: %v", err)
	}
	shareService, err := shares.NewService(shares.ServiceConfig{
		Database:         db,
		Books:            libraryService,
		IDProvider:       library.NewUUIDProvider(),
		Events:           dispatcher,
		EventSubject:     ownerSubject,
		BaseURL:          "https://" + name + ".moyue.example/import",
		ScryptWorkFactor: 10,
		BcryptCost:       bcrypt.MinCost,
	})
	if err != nil {
		testContext.Fatalf("failed to build share service: %v", err)
	}
	readerService, err := reader.NewService(reader.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build reader service: %v", err)
	}
	annotationService, err := annotations.NewService(annotations.ServiceConfig{Database: db, IDProvider: library.NewUUIDProvider()})
	if err != nil {
		testContext.Fatalf("failed to build annotation service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}
	token, _, err := issuer.IssueToken(context.Background(), ownerSubject)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:      issuer,
		Library:     libraryService,
		Shares:      shareService,
		Reader:      readerService,
		Annotations: annotationService,
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &instance{server: testServer, token: token}
}

func (i *instance) call(testContext *testing.T, method, path, bearer string, body any, target any) int {
	testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request, err := http.NewRequest(method, i.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if target != nil && response.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			testContext.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func TestShareFlowBetweenInstances(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	sender := startInstance(testContext, "sender")
	recipient := startInstance(testContext, "recipient")

	var book struct {
		ID string `json:"id"`
	}
	if status := sender.call(testContext, http.MethodPost, "/books", sender.token, map[string]any{
		"title":   bookTitle,
		"author":  "Михаил Булгаков",
		"content": bookContent,
	}, &book); status != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", status)
	}

	var session struct {
		ID                string `json:"id"`
		Link              string `json:"link"`
		PasswordProtected bool   `json:"passwordProtected"`
	}
	if status := sender.call(testContext, http.MethodPost, "/books/"+book.ID+"/shares", sender.token, map[string]any{
		"maxDownloads": 2,
		"password":     "воланд",
	}, &session); status != http.StatusCreated {
		testContext.Fatalf("unexpected share status: %d", status)
	}
	if !session.PasswordProtected || session.Link == "" {
		testContext.Fatalf("expected protected session with link, got %#v", session)
	}

	if status := sender.call(testContext, http.MethodPost, "/shares/"+session.ID+"/download", "", nil, nil); status != http.StatusUnauthorized {
		testContext.Fatalf("expected password challenge, got %d", status)
	}

	var download struct {
		Token              string `json:"token"`
		Title              string `json:"title"`
		RemainingDownloads int    `json:"remainingDownloads"`
	}
	if status := sender.call(testContext, http.MethodPost, "/shares/"+session.ID+"/download", "", map[string]any{
		"password": "воланд",
	}, &download); status != http.StatusOK {
		testContext.Fatalf("unexpected download status: %d", status)
	}
	if download.Title != bookTitle || download.RemainingDownloads != 1 {
		testContext.Fatalf("unexpected download payload %#v", download)
	}

	if status := recipient.call(testContext, http.MethodPost, "/imports", recipient.token, map[string]any{
		"token": download.Token,
	}, nil); status != http.StatusUnauthorized {
		testContext.Fatalf("expected encrypted token to require a password, got %d", status)
	}

	var imported struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if status := recipient.call(testContext, http.MethodPost, "/imports", recipient.token, map[string]any{
		"token":    download.Token,
		"password": "воланд",
	}, &imported); status != http.StatusCreated {
		testContext.Fatalf("unexpected import status: %d", status)
	}
	if status := recipient.call(testContext, http.MethodGet, "/books/"+imported.ID, recipient.token, nil, &imported); status != http.StatusOK {
		testContext.Fatalf("unexpected get status: %d", status)
	}
	if imported.Title != bookTitle || imported.Content != bookContent {
		testContext.Fatalf("imported book differs from the shared one: %#v", imported)
	}

	if status := sender.call(testContext, http.MethodPost, "/shares/"+session.ID+"/revoke", sender.token, nil, nil); status != http.StatusOK {
		testContext.Fatalf("unexpected revoke status: %d", status)
	}
	if status := sender.call(testContext, http.MethodPost, "/shares/"+session.ID+"/download", "", map[string]any{
		"password": "воланд",
	}, nil); status != http.StatusGone {
		testContext.Fatalf("expected revoked session to be gone, got %d", status)
	}
}

func TestForeignTokensAreRejected(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	target := startInstance(testContext, "target")

	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    auth.DefaultIssuer,
		Audience:  []string{"someone-else"},
		Subject:   ownerSubject,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}

	if status := target.call(testContext, http.MethodGet, "/books", signed, nil, nil); status != http.StatusUnauthorized {
		testContext.Fatalf("expected foreign audience to be rejected, got %d", status)
	}
	if status := target.call(testContext, http.MethodGet, "/books?"+auth.AccessTokenParam+"="+target.token, "", nil, nil); status != http.StatusOK {
		testContext.Fatalf("expected query token to be accepted, got %d", status)
	}
}
