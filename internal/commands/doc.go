// Package commands parses inbound chat text into commands and produces the
// reply for each one.
//
// Every command is a value of a small set of variant types (see Parse). The
// Dispatcher resolves the sender's mailbox only for commands that need it,
// runs one bounded mailbox query and renders a plain text reply. It never
// sends anything itself.
package commands
