// Package logging provides structured logging utilities for inboxbell.
//
// It centralizes attribute naming so the poller, the command dispatcher and the
// HTTP front door emit the same keys (tenant, message_id, command, request_id).
//
// # Usage Patterns
//
//	logger := logging.WithTenant(slog.Default(), 12345)
//	logger.Warn("tenant unavailable", logging.Err(err))
//
// # Security Considerations
//
// Access and refresh tokens are never logged directly; use SanitizeToken,
// which only reveals the token length.
package logging
