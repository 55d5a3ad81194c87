package oauth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestState_RoundTrip(t *testing.T) {
	state := EncodeState(TenantID(-100123))
	assert.Equal(t, "tg:-100123", state)

	tenant, ok := ParseState(state)
	require.True(t, ok)
	assert.Equal(t, TenantID(-100123), tenant)
}

func TestParseState_Invalid(t *testing.T) {
	for _, state := range []string{"", "42", "tg:", "tg:abc", "xx:42"} {
		_, ok := ParseState(state)
		assert.False(t, ok, state)
	}
}

func TestParseTenantID(t *testing.T) {
	id, err := ParseTenantID(" 12345 ")
	require.NoError(t, err)
	assert.Equal(t, TenantID(12345), id)
	assert.Equal(t, "12345", id.String())

	_, err = ParseTenantID("abc")
	assert.Error(t, err)
}

func TestRecordFromToken(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok := (&oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]any{"scope": "https://www.googleapis.com/auth/gmail.readonly"})

	rec := RecordFromToken(tok)

	assert.Equal(t, TokenRecord{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    expiry,
		Scope:        "https://www.googleapis.com/auth/gmail.readonly",
		TokenType:    "Bearer",
	}, rec)
	assert.Equal(t, "access", rec.Token().AccessToken)
	assert.Equal(t, expiry, rec.Token().Expiry)
}

func TestTokenRecord_Redacted(t *testing.T) {
	rec := TokenRecord{
		AccessToken:  "ya29.secret",
		RefreshToken: "1//refresh-secret",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Scope:        "scope-a",
		TokenType:    "Bearer",
	}

	out, err := json.Marshal(rec.Redacted())
	require.NoError(t, err)

	body := string(out)
	assert.NotContains(t, body, "ya29.secret")
	assert.NotContains(t, body, "refresh-secret")
	assert.Contains(t, body, `"have_refresh":true`)
	assert.Contains(t, body, `"expires_at":"2030-01-01T00:00:00Z"`)
	assert.NotContains(t, body, "access_token")

	empty := TokenRecord{}.Redacted()
	assert.Nil(t, empty.ExpiresAt)
	assert.False(t, empty.HaveRefresh)
}
