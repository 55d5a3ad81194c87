// Package cmd implements the command-line interface for inboxbell.
//
// Commands:
//   - serve: run the mailbox poller and the HTTP front door (the default)
//   - webhook: set, delete or inspect the Telegram bot webhook
//   - version: print the version
package cmd
