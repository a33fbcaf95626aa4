package auth_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"relaycast/internal/auth"
)

func TestParseCredentials(t *testing.T) {
	t.Parallel()

	token := base64.StdEncoding.EncodeToString([]byte(`{"id":"stream-1","userID":"user-9","key":"secret"}`))

	cases := []struct {
		name string
		raw  string
	}{
		{name: "bare token", raw: token},
		{name: "basic prefix", raw: "Basic " + token},
		{name: "surrounding whitespace", raw: "  Basic " + token + "  "},
		{name: "escaped prefix", raw: "Basic%20" + token},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := auth.ParseCredentials(tc.raw)
			if err != nil {
				t.Fatalf("ParseCredentials: %v", err)
			}
			if creds.ID != "stream-1" {
				t.Fatalf("unexpected id %q", creds.ID)
			}
			if creds.UserID != "user-9" {
				t.Fatalf("unexpected userID %q", creds.UserID)
			}
			if creds.Key != "secret" {
				t.Fatalf("unexpected key %q", creds.Key)
			}
		})
	}
}

func TestParseCredentialsRejectsMalformedTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "prefix only", raw: "Basic "},
		{name: "not base64", raw: "Basic %%%%"},
		{name: "not json", raw: base64.StdEncoding.EncodeToString([]byte("not json"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.ParseCredentials(tc.raw); err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
		})
	}
}

func TestEncodeCredentialsRoundTrip(t *testing.T) {
	t.Parallel()

	token, err := auth.EncodeCredentials(auth.Credentials{ID: "stream-7", Key: "k"})
	if err != nil {
		t.Fatalf("EncodeCredentials: %v", err)
	}
	if strings.ContainsAny(token, " ;,") {
		t.Fatalf("token %q is not a valid cookie value", token)
	}
	creds, err := auth.ParseCredentials(token)
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}
	if creds.ID != "stream-7" || creds.Key != "k" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}
