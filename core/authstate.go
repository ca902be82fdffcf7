package core

import (
	"encoding/json"
	"net/url"
	"strings"
)

// User type values carried in the auth cookie.
const (
	UserTypeAdmin = "admin"
	UserTypeUser  = "user"
)

// AuthCookieName is the cookie the authentication flow persists its state in.
// The gateway only ever reads it.
const AuthCookieName = "auth-storage"

// AuthState is the authentication state decoded from the auth cookie. The
// cookie is the sole source of truth for routing decisions; no session store
// is consulted on the hot path.
type AuthState struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	UserType        string          `json:"userType"`
	Token           string          `json:"token"`
	User            json.RawMessage `json:"user,omitempty"`
	Admin           json.RawMessage `json:"admin,omitempty"`
}

// IsAdmin reports whether the state represents an authenticated admin.
func (s *AuthState) IsAdmin() bool {
	return s != nil && s.IsAuthenticated && s.UserType == UserTypeAdmin
}

// IsUser reports whether the state represents an authenticated plain user.
func (s *AuthState) IsUser() bool {
	return s != nil && s.IsAuthenticated && s.UserType == UserTypeUser
}

// authCookieEnvelope matches the wrapped {"state": {...}} shape some clients
// persist. The flat shape is decoded directly into AuthState.
type authCookieEnvelope struct {
	State *AuthState `json:"state"`
}

// DecodeAuthCookie parses the raw auth cookie value into an AuthState.
// A missing cookie, an unescapable value, or malformed JSON all yield nil,
// which callers treat as "not authenticated". It never returns an error:
// a broken cookie fails open to logged out.
func DecodeAuthCookie(raw string) *AuthState {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// Cookie values are frequently URL-escaped JSON; fall back to the raw
	// value when unescaping fails.
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}

	var envelope authCookieEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.State != nil {
		return envelope.State
	}

	var flat AuthState
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil
	}
	return &flat
}
