package sharecodec

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/dar-of-the-flame/MoYue/internal/library"
)

const (
	// Version is the only envelope version accepted by Decode.
	Version = "2.0"

	// DefaultWorkFactor is the scrypt cost used when none is configured.
	DefaultWorkFactor = 15

	// maxPayloadBytes bounds decompressed and decrypted payloads.
	maxPayloadBytes = 64 << 20
)

// Envelope is the metadata wrapper serialized inside every token.
type Envelope struct {
	Version    string     `json:"version"`
	Timestamp  int64      `json:"timestamp"`
	Expires    *time.Time `json:"expires"`
	Compressed bool       `json:"compressed"`
	Encrypted  bool       `json:"encrypted"`
	Payload    string     `json:"payload"`
}

// Options selects the optional transforms applied by Encode.
type Options struct {
	Compress bool
	// Passphrase enables encryption when non-empty.
	Passphrase string
	// ExpiresAt is embedded in the envelope when non-zero.
	ExpiresAt time.Time
}

// Encoder turns books into share tokens.
type Encoder struct {
	clock      func() time.Time
	workFactor int
}

// NewEncoder constructs an Encoder. A nil clock uses time.Now and a
// non-positive work factor uses DefaultWorkFactor.
func NewEncoder(clock func() time.Time, workFactor int) *Encoder {
	if clock == nil {
		clock = time.Now
	}
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}
	return &Encoder{clock: clock, workFactor: workFactor}
}

// Encode serializes the book, compresses and encrypts it as requested and
// wraps the result in a base64url envelope. Without a passphrase the output
// only depends on the book, the options and the clock.
func (e *Encoder) Encode(book library.SharedBook, options Options) (string, error) {
	payload, err := json.Marshal(book)
	if err != nil {
		return "", fmt.Errorf("serialize book: %w", err)
	}

	if options.Compress {
		payload, err = deflate(payload)
		if err != nil {
			return "", fmt.Errorf("compress payload: %w", err)
		}
	}

	encrypted := options.Passphrase != ""
	if encrypted {
		payload, err = e.encrypt(payload, options.Passphrase)
		if err != nil {
			return "", err
		}
	}

	envelope := Envelope{
		Version:    Version,
		Timestamp:  e.clock().UTC().UnixMilli(),
		Compressed: options.Compress,
		Encrypted:  encrypted,
		Payload:    base64.StdEncoding.EncodeToString(payload),
	}
	if !options.ExpiresAt.IsZero() {
		expires := options.ExpiresAt.UTC().Truncate(time.Second)
		envelope.Expires = &expires
	}

	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("serialize envelope: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(encoded), nil
}

func deflate(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := flate.NewWriter(&buffer, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (e *Encoder) encrypt(data []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	recipient.SetWorkFactor(e.workFactor)

	var buffer bytes.Buffer
	writer, err := age.Encrypt(&buffer, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize encryption: %w", err)
	}
	return buffer.Bytes(), nil
}

// Decoded is the result of a successful Decode.
type Decoded struct {
	Envelope Envelope
	Book     library.SharedBook
}

// Decoder turns share tokens back into books.
type Decoder struct {
	clock         func() time.Time
	maxWorkFactor int
}

// NewDecoder constructs a Decoder. A positive maxWorkFactor caps the scrypt
// cost a token may demand; otherwise the age default applies.
func NewDecoder(clock func() time.Time, maxWorkFactor int) *Decoder {
	if clock == nil {
		clock = time.Now
	}
	return &Decoder{clock: clock, maxWorkFactor: maxWorkFactor}
}

// Inspect parses the envelope and checks version and expiry without
// touching the payload.
func (d *Decoder) Inspect(token string) (Envelope, error) {
	raw, err := decodeBase64URL(strings.TrimSpace(token))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: token is not base64url", ErrMalformed)
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope is not json", ErrMalformed)
	}
	if envelope.Version != Version {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, envelope.Version)
	}
	if envelope.Expires != nil && !d.clock().Before(*envelope.Expires) {
		return Envelope{}, ErrExpired
	}
	if envelope.Payload == "" {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	return envelope, nil
}

// Decode validates the envelope in order (version, expiry, required fields)
// and then reverses encryption and compression.
func (d *Decoder) Decode(token, passphrase string) (Decoded, error) {
	envelope, err := d.Inspect(token)
	if err != nil {
		return Decoded{}, err
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: payload is not base64", ErrMalformed)
	}

	if envelope.Encrypted {
		if passphrase == "" {
			return Decoded{}, ErrPasswordRequired
		}
		payload, err = d.decrypt(payload, passphrase)
		if err != nil {
			return Decoded{}, err
		}
	}

	if envelope.Compressed {
		payload, err = inflate(payload)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	var book library.SharedBook
	if err := json.Unmarshal(payload, &book); err != nil {
		return Decoded{}, fmt.Errorf("%w: book is not json", ErrMalformed)
	}
	if err := book.Validate(); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decoded{Envelope: envelope, Book: book}, nil
}

func (d *Decoder) decrypt(data []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	if d.maxWorkFactor > 0 {
		identity.SetMaxWorkFactor(d.maxWorkFactor)
	}
	reader, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plain, err := io.ReadAll(io.LimitReader(reader, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(plain) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: payload too large", ErrMalformed)
	}
	return plain, nil
}

func inflate(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	plain, err := io.ReadAll(io.LimitReader(reader, maxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(plain) > maxPayloadBytes {
		return nil, errors.New("payload too large")
	}
	return plain, nil
}

func decodeBase64URL(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty token")
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(value)
}
