// Package server exposes the engine to the outside world.
//
// ServerContext is the engine API: it records logins, answers chat
// commands, opens tenant mailboxes, refreshes credentials on request and
// owns the poll scheduler's lifecycle. HTTPServer is the public front door
// built on it:
//
//   - GET /auth/google and the OAuth callback (plus the /oauth2/callback alias)
//   - GET /auth/google/tokens and /auth/google/refresh for linked chats
//   - POST /telegram/webhook for incoming chat updates
//   - /telegram/set_webhook, /telegram/delete_webhook, /telegram/webhook_info
//     and /telegram/test_send for bot administration
//   - /emails, /attachments, /pdfsum and /summarize, the JSON mailbox
//     routes of the chat named by tg_id
//   - /health, /healthz, /readyz and /healthz/detailed health checks
//
// MetricsServer serves Prometheus metrics on a separate address.
package server
