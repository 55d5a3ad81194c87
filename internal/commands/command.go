package commands

import (
	"strings"
)

// Command is one parsed chat command.
type Command interface {
	// Name is the bounded command label used in logs, spans and metrics.
	Name() string

	// needsMailbox reports whether the tenant must be linked before handling.
	needsMailbox() bool
}

type (
	// Start greets the user and lists the commands.
	Start struct{}
	// Help describes each command.
	Help struct{}
	// Login returns the consent link for the chat.
	Login struct{}
	// Summarize previews the latest emails.
	Summarize struct{}
	// Sync lists recent emails with their detected item type.
	Sync struct{}
	// Upcoming lists recent emails that look like assignments, quizzes, exams or events.
	Upcoming struct{}
	// Search lists emails whose subject contains Term.
	Search struct{ Term string }
	// EmailDetail shows one email.
	EmailDetail struct{ ID string }
	// Attachment reports the size of one attachment.
	Attachment struct{ EmailID, AttachmentID string }
	// PdfSummary summarizes one PDF attachment, or every PDF of the latest
	// email when both ids are empty.
	PdfSummary struct{ EmailID, AttachmentID string }
	// Invalid is a known mailbox command with malformed arguments.
	Invalid struct{ Command, Usage string }
	// Unknown is anything else.
	Unknown struct{}
)

func (Start) Name() string       { return "start" }
func (Help) Name() string        { return "help" }
func (Login) Name() string       { return "login" }
func (Summarize) Name() string   { return "summarize" }
func (Sync) Name() string        { return "sync" }
func (Upcoming) Name() string    { return "upcoming" }
func (Search) Name() string      { return "search" }
func (EmailDetail) Name() string { return "email" }
func (Attachment) Name() string  { return "attach" }
func (PdfSummary) Name() string  { return "pdfsum" }
func (c Invalid) Name() string   { return c.Command }
func (Unknown) Name() string     { return "unknown" }

func (Start) needsMailbox() bool       { return false }
func (Help) needsMailbox() bool        { return false }
func (Login) needsMailbox() bool       { return false }
func (Summarize) needsMailbox() bool   { return true }
func (Sync) needsMailbox() bool        { return true }
func (Upcoming) needsMailbox() bool    { return true }
func (Search) needsMailbox() bool      { return true }
func (EmailDetail) needsMailbox() bool { return true }
func (Attachment) needsMailbox() bool  { return true }
func (PdfSummary) needsMailbox() bool  { return true }
func (Invalid) needsMailbox() bool     { return true }
func (Unknown) needsMailbox() bool     { return false }

// Latest reports whether the command targets the latest email's PDFs.
func (c PdfSummary) Latest() bool {
	return c.EmailID == "" && c.AttachmentID == ""
}

// Usage replies for malformed arguments.
const (
	UsageSearch = "Usage: /search <term>"
	UsageEmail  = "Usage: /email <id>"
	UsageAttach = "Usage: /attach <emailId> <attachmentId>"
	UsagePdfsum = "Usage: /pdfsum OR /pdfsum <emailId> <attachmentId>"
)

// minSearchTermLength is the shortest accepted search term, in characters.
const minSearchTermLength = 2

// Parse maps one inbound chat text onto a Command. The first whitespace
// delimited token selects the command and is matched case-sensitively. A
// "@botname" suffix on that token is accepted when it names this bot (or
// botName is empty); a mention of another bot yields Unknown.
func Parse(text, botName string) Command {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Unknown{}
	}

	token := fields[0]
	if name, mention, ok := strings.Cut(token, "@"); ok {
		if botName != "" && !strings.EqualFold(mention, botName) {
			return Unknown{}
		}
		token = name
	}
	args := fields[1:]
	rest := strings.TrimSpace(text[len(fields[0]):])

	switch token {
	case "/start":
		return Start{}
	case "/help":
		return Help{}
	case "/login":
		return Login{}
	case "/summarize":
		return Summarize{}
	case "/sync":
		return Sync{}
	case "/upcoming":
		return Upcoming{}
	case "/search":
		if len([]rune(rest)) < minSearchTermLength {
			return Invalid{Command: "search", Usage: UsageSearch}
		}
		return Search{Term: rest}
	case "/email":
		if rest == "" {
			return Invalid{Command: "email", Usage: UsageEmail}
		}
		return EmailDetail{ID: rest}
	case "/attach":
		if len(args) != 2 {
			return Invalid{Command: "attach", Usage: UsageAttach}
		}
		return Attachment{EmailID: args[0], AttachmentID: args[1]}
	case "/pdfsum":
		switch len(args) {
		case 0:
			return PdfSummary{}
		case 2:
			return PdfSummary{EmailID: args[0], AttachmentID: args[1]}
		}
		return Invalid{Command: "pdfsum", Usage: UsagePdfsum}
	}
	return Unknown{}
}
