package oauth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TenantID identifies one chat session.
type TenantID int64

func (t TenantID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseTenantID parses a decimal chat identifier.
func ParseTenantID(s string) (TenantID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tenant id %q: %w", s, err)
	}
	return TenantID(id), nil
}

// statePrefix marks the OAuth state parameter as a chat correlation token.
const statePrefix = "tg:"

// EncodeState returns the OAuth state value that carries the tenant through the consent screen.
func EncodeState(t TenantID) string {
	return statePrefix + t.String()
}

// ParseState extracts the tenant from a state value produced by EncodeState.
func ParseState(state string) (TenantID, bool) {
	rest, ok := strings.CutPrefix(state, statePrefix)
	if !ok {
		return 0, false
	}
	t, err := ParseTenantID(rest)
	if err != nil {
		return 0, false
	}
	return t, true
}

// TokenRecord is the credential bundle for one tenant's mailbox.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	TokenType    string
}

// RecordFromToken converts an oauth2 token, reading scope from the token response extras.
func RecordFromToken(tok *oauth2.Token) TokenRecord {
	rec := TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	return rec
}

// Token returns the record as an oauth2 token.
func (r TokenRecord) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
		TokenType:    r.TokenType,
	}
}

// HasRefreshToken reports whether the record can heal itself after expiry.
func (r TokenRecord) HasRefreshToken() bool {
	return r.RefreshToken != ""
}

// RedactedRecord is a TokenRecord safe to show to a browser.
type RedactedRecord struct {
	HaveRefresh bool       `json:"have_refresh"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Scope       string     `json:"scope,omitempty"`
	TokenType   string     `json:"token_type,omitempty"`
}

// Redacted hides both tokens, keeping only their presence and the metadata.
func (r TokenRecord) Redacted() RedactedRecord {
	out := RedactedRecord{
		HaveRefresh: r.HasRefreshToken(),
		Scope:       r.Scope,
		TokenType:   r.TokenType,
	}
	if !r.ExpiresAt.IsZero() {
		exp := r.ExpiresAt.UTC()
		out.ExpiresAt = &exp
	}
	return out
}
