// Package oauth owns tenant credentials: the in-memory credential table
// written by login completion, and the Provider that turns a stored token
// record into an authenticated mailbox client.
//
// The Provider never writes back to the Store. A refresh performed while
// building a client lives only as long as that client; callers that want a
// refreshed record persisted call Provider.Refresh and Store.Put themselves.
package oauth
