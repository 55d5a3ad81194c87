// Package google holds the Google OAuth2 client configuration used by the
// login front door and by token refresh: consent URL construction, code
// exchange and the HTTP/1.1 base client.
package google
