package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// expirySkew treats a token that expires within this window, inclusive, as
// already expired.
const expirySkew = time.Minute

// needsRefresh reports whether the access token cannot be trusted as-is.
// A record without an expiry has unknown validity and is refreshed when possible.
func needsRefresh(rec TokenRecord, now time.Time) bool {
	if rec.AccessToken == "" || rec.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(expirySkew).Before(rec.ExpiresAt)
}

// refreshToken performs exactly one call to the token endpoint. Only the
// refresh token is handed to the token source so it never short-circuits on
// a stale access token.
func refreshToken(ctx context.Context, conf *oauth2.Config, httpClient *http.Client, refresh string) (*oauth2.Token, error) {
	if refresh == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok, nil
}
