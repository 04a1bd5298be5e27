package auth

import (
	"net/http"
	"strings"
)

const (
	bearerPrefix = "bearer "
	// AccessTokenParam carries the token for clients that cannot set headers,
	// such as EventSource streams.
	AccessTokenParam = "access_token"
)

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the access_token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return "", ErrInvalidToken
		}
		token := strings.TrimSpace(header[len(bearerPrefix):])
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get(AccessTokenParam)); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// ValidateRequest extracts and validates the request token.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (string, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return "", err
	}
	return i.ValidateToken(token)
}
