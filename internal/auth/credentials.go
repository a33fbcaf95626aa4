// Package auth decodes the opaque authorization tokens presented by
// publishing clients during the WebSocket upgrade.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Credentials is the structured record carried inside an authorization token.
// The codec only guarantees that decoding succeeded; field semantics are
// validated by the backend's verify call, not here.
type Credentials struct {
	ID     string `json:"id"`
	UserID string `json:"userID,omitempty"`
	Key    string `json:"key,omitempty"`
}

// ParseCredentials decodes a raw token value into Credentials. The token is an
// optionally "Basic "-prefixed base64 encoding of a JSON object. Cookie values
// arrive URL-escaped from browsers, so the prefix may appear as "Basic%20".
func ParseCredentials(raw string) (Credentials, error) {
	trimmed := strings.TrimSpace(raw)
	if unescaped, err := url.PathUnescape(trimmed); err == nil {
		trimmed = strings.TrimSpace(unescaped)
	}
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "Basic "))
	if trimmed == "" {
		return Credentials{}, fmt.Errorf("empty authorization token")
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return Credentials{}, fmt.Errorf("decode authorization token: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(decoded, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse authorization token: %w", err)
	}
	return creds, nil
}

// EncodeCredentials renders Credentials into a bare token accepted by
// ParseCredentials. The result contains no spaces so it can travel as a
// cookie value unescaped.
func EncodeCredentials(creds Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}
