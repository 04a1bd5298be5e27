package sharecodec

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	paramSession  = "session"
	paramImport   = "import"
	paramVersion  = "v"
	paramPassword = "p"
	sessionPrefix = "sess_"

	fileType = "moyue-book"
	// FileExtension is the suffix of exported share files.
	FileExtension = ".moyue"
)

// BuildSessionLink renders `<base>?session=<id>&v=2.0&t=<ms>[&p=1]`.
func BuildSessionLink(baseURL, sessionID string, createdAt time.Time, passwordProtected bool) string {
	var builder strings.Builder
	builder.WriteString(baseURL)
	builder.WriteString(querySeparator(baseURL))
	builder.WriteString(paramSession + "=" + url.QueryEscape(sessionID))
	builder.WriteString("&" + paramVersion + "=" + Version)
	builder.WriteString("&t=" + strconv.FormatInt(createdAt.UnixMilli(), 10))
	if passwordProtected {
		builder.WriteString("&" + paramPassword + "=1")
	}
	return builder.String()
}

// BuildImportLink renders the self-contained form
// `<base>?import=<token>&v=2.0&ts=<ms>`.
func BuildImportLink(baseURL, token string, createdAt time.Time) string {
	var builder strings.Builder
	builder.WriteString(baseURL)
	builder.WriteString(querySeparator(baseURL))
	builder.WriteString(paramImport + "=" + url.QueryEscape(token))
	builder.WriteString("&" + paramVersion + "=" + Version)
	builder.WriteString("&ts=" + strconv.FormatInt(createdAt.UnixMilli(), 10))
	return builder.String()
}

func querySeparator(baseURL string) string {
	if strings.Contains(baseURL, "?") {
		return "&"
	}
	return "?"
}

// Link is a parsed share link. Exactly one of SessionID and Token is set.
type Link struct {
	SessionID         string
	Token             string
	PasswordProtected bool
}

// ParseLink accepts a session link, an import link, a bare session id or a
// bare token.
func ParseLink(raw string) (Link, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Link{}, fmt.Errorf("%w: empty link", ErrMalformed)
	}
	if !strings.Contains(trimmed, "?") {
		if strings.HasPrefix(trimmed, sessionPrefix) {
			return Link{SessionID: trimmed}, nil
		}
		return Link{Token: trimmed}, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	query := parsed.Query()
	if version := query.Get(paramVersion); version != "" && version != Version {
		return Link{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	if sessionID := strings.TrimSpace(query.Get(paramSession)); sessionID != "" {
		return Link{SessionID: sessionID, PasswordProtected: query.Get(paramPassword) == "1"}, nil
	}
	if token := strings.TrimSpace(query.Get(paramImport)); token != "" {
		return Link{Token: token}, nil
	}
	return Link{}, fmt.Errorf("%w: link carries neither session nor import", ErrMalformed)
}

type shareFile struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// MarshalFile wraps a token into the `.moyue` file format.
func MarshalFile(token string) ([]byte, error) {
	return json.Marshal(shareFile{Type: fileType, Data: token})
}

// ParseFile extracts the token from a `.moyue` file.
func ParseFile(data []byte) (string, error) {
	var file shareFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("%w: share file is not json", ErrMalformed)
	}
	if file.Type != fileType || strings.TrimSpace(file.Data) == "" {
		return "", fmt.Errorf("%w: not a moyue share file", ErrMalformed)
	}
	return strings.TrimSpace(file.Data), nil
}
