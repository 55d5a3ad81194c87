// Package poller scans every linked mailbox on a fixed interval and notifies
// the tenant's chat about new important messages.
//
// A message id is marked seen whether or not it could be fetched and whether
// or not it was important, so each id is processed at most once per process
// lifetime. A failed notification is logged and not retried.
//
// The dedup ledger tolerates only one cycle at a time; Scheduler enforces
// that by running cycles sequentially on a single goroutine and refusing to
// start twice.
package poller
