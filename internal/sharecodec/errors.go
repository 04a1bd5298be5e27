package sharecodec

import "errors"

var (
	// ErrMalformed indicates that a token, link or payload cannot be parsed.
	ErrMalformed = errors.New("sharecodec: malformed token")
	// ErrUnsupportedVersion indicates an envelope version other than Version.
	ErrUnsupportedVersion = errors.New("sharecodec: unsupported version")
	// ErrExpired indicates that the envelope expiry has passed.
	ErrExpired = errors.New("sharecodec: token expired")
	// ErrPasswordRequired indicates an encrypted payload decoded without a passphrase.
	ErrPasswordRequired = errors.New("sharecodec: password required")
	// ErrDecryptionFailed indicates a wrong passphrase or a tampered payload.
	ErrDecryptionFailed = errors.New("sharecodec: decryption failed")
	// ErrCryptoUnavailable indicates that the cipher could not be initialized.
	ErrCryptoUnavailable = errors.New("sharecodec: encryption unavailable")
)
