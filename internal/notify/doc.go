// Package notify delivers text to chat sessions through the Telegram Bot API
// and administers the bot's webhook registration.
//
// Sends are fire-and-forget from the caller's point of view: errors are
// returned so they can be logged, never retried here.
package notify
