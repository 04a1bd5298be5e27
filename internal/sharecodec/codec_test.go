package sharecodec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/library"
)

// testWorkFactor keeps scrypt fast in tests.
const testWorkFactor = 10

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func sampleBook() library.SharedBook {
	return library.SharedBook{
		Title:      "Мастер и Маргарита",
		Author:     "Михаил Булгаков",
		Content:    strings.Repeat("Рукописи не горят. ", 200),
		Format:     "txt",
		SizeBytes:  4200,
		Characters: 3800,
		Progress:   42,
		PageCount:  7,
	}
}

func TestRoundTripAllFlagCombinations(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	encoder := NewEncoder(fixedClock(now), testWorkFactor)
	decoder := NewDecoder(fixedClock(now.Add(time.Hour)), 0)

	testCases := []struct {
		name    string
		options Options
	}{
		{name: "plain", options: Options{}},
		{name: "compressed", options: Options{Compress: true}},
		{name: "encrypted", options: Options{Passphrase: "correct horse"}},
		{name: "compressed-encrypted", options: Options{Compress: true, Passphrase: "correct horse"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			book := sampleBook()
			token, err := encoder.Encode(book, testCase.options)
			if err != nil {
				t.Fatalf("unexpected encode error: %v", err)
			}
			decoded, err := decoder.Decode(token, testCase.options.Passphrase)
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if decoded.Book != book {
				t.Fatalf("round trip changed the book: %#v", decoded.Book)
			}
			if decoded.Envelope.Compressed != testCase.options.Compress {
				t.Fatalf("unexpected compressed flag")
			}
			if decoded.Envelope.Encrypted != (testCase.options.Passphrase != "") {
				t.Fatalf("unexpected encrypted flag")
			}
			if decoded.Envelope.Timestamp != now.UnixMilli() {
				t.Fatalf("unexpected timestamp %d", decoded.Envelope.Timestamp)
			}
		})
	}
}

func TestEncodeTitleAuthorContentScenario(t *testing.T) {
	clock := fixedClock(time.Unix(1700000000, 0))
	token, err := NewEncoder(clock, testWorkFactor).Encode(
		library.SharedBook{Title: "T", Author: "A", Content: "C"},
		Options{Compress: true},
	)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	decoded, err := NewDecoder(clock, 0).Decode(token, "")
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.Book.Title != "T" || decoded.Book.Author != "A" || decoded.Book.Content != "C" {
		t.Fatalf("unexpected decoded book %#v", decoded.Book)
	}
}

func TestEncodeIsDeterministicWithoutEncryption(t *testing.T) {
	encoder := NewEncoder(fixedClock(time.Unix(1700000000, 0)), testWorkFactor)
	options := Options{Compress: true, ExpiresAt: time.Unix(1700086400, 0)}

	first, err := encoder.Encode(sampleBook(), options)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	second, err := encoder.Encode(sampleBook(), options)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical tokens for identical input")
	}
	if strings.ContainsAny(first, "+/=") {
		t.Fatalf("token must be url safe: %q", first)
	}
}

func TestCompressionShrinksRepetitiveContent(t *testing.T) {
	encoder := NewEncoder(fixedClock(time.Unix(1700000000, 0)), testWorkFactor)
	plain, err := encoder.Encode(sampleBook(), Options{})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	compressed, err := encoder.Encode(sampleBook(), Options{Compress: true})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if len(compressed) >= len(plain) {
		t.Fatalf("expected compressed token to be shorter: %d >= %d", len(compressed), len(plain))
	}
}

func encodeEnvelope(t *testing.T, envelope any) string {
	t.Helper()
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestDecodeValidationOrder(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	past := now.Add(-time.Minute)
	decoder := NewDecoder(fixedClock(now), 0)
	bookPayload := base64.StdEncoding.EncodeToString([]byte(`{"title":"T","content":"C"}`))

	testCases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "not-base64", token: "%%%", wantErr: ErrMalformed},
		{name: "not-json", token: base64.RawURLEncoding.EncodeToString([]byte("nope")), wantErr: ErrMalformed},
		{
			name:    "legacy-version-before-expiry",
			token:   encodeEnvelope(t, Envelope{Version: "1.0", Expires: &past, Payload: bookPayload}),
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "expired-before-missing-payload",
			token:   encodeEnvelope(t, Envelope{Version: Version, Expires: &past}),
			wantErr: ErrExpired,
		},
		{
			name:    "missing-payload",
			token:   encodeEnvelope(t, Envelope{Version: Version}),
			wantErr: ErrMalformed,
		},
		{
			name:    "payload-not-base64",
			token:   encodeEnvelope(t, Envelope{Version: Version, Payload: "***"}),
			wantErr: ErrMalformed,
		},
		{
			name:    "encrypted-without-passphrase",
			token:   encodeEnvelope(t, Envelope{Version: Version, Encrypted: true, Payload: bookPayload}),
			wantErr: ErrPasswordRequired,
		},
		{
			name:    "broken-compression",
			token:   encodeEnvelope(t, Envelope{Version: Version, Compressed: true, Payload: bookPayload}),
			wantErr: ErrMalformed,
		},
		{
			name:    "book-without-content",
			token:   encodeEnvelope(t, Envelope{Version: Version, Payload: base64.StdEncoding.EncodeToString([]byte(`{"title":"T"}`))}),
			wantErr: ErrMalformed,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := decoder.Decode(testCase.token, ""); !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestDecodeRejectsWrongPassphrase(t *testing.T) {
	clock := fixedClock(time.Unix(1700000000, 0))
	token, err := NewEncoder(clock, testWorkFactor).Encode(sampleBook(), Options{Passphrase: "right"})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if _, err := NewDecoder(clock, 0).Decode(token, "wrong"); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected decryption failure, got %v", err)
	}
}

func TestDecodeExpiryBoundary(t *testing.T) {
	created := time.Unix(1700000000, 0)
	expires := created.Add(time.Hour)
	token, err := NewEncoder(fixedClock(created), testWorkFactor).Encode(sampleBook(), Options{ExpiresAt: expires})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if _, err := NewDecoder(fixedClock(expires.Add(-time.Second)), 0).Decode(token, ""); err != nil {
		t.Fatalf("expected token to be valid before expiry: %v", err)
	}
	if _, err := NewDecoder(fixedClock(expires), 0).Decode(token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry at the deadline, got %v", err)
	}
}
