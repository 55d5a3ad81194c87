package google

import (
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultScopes grant read-only mailbox access, which is all the poller and
// the chat commands need.
var DefaultScopes = []string{
	gmail.GmailReadonlyScope,
}
