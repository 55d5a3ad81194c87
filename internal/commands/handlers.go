package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/logging"
)

// Fixed replies.
const (
	StartText = "Welcome! Commands:\n/login\n/summarize\n/sync\n/upcoming\n/search <term>\n/email <id>\n" +
		"/attach <emailId> <attachmentId>\n/pdfsum <emailId> <attachmentId>\n/help"
	HelpText = "Help:\n/login link Gmail\n/summarize latest 5 summarized\n/sync list 10 detected items\n" +
		"/upcoming list 10 upcoming items\n/search <term> search subjects\n/email <id> detail\n" +
		"/attach <emailId> <attId> size\n/pdfsum <emailId> <attId> summarize PDF"
	NotLinkedText = "Not linked yet. Use /login first."
	UnknownText   = "Unknown command. Use /help"

	noSubject = "(no subject)"
	noneLine  = "(none)"
	ellipsis  = "…"

	noExtractableText = "(no extractable text)"
)

// Per-command query caps and truncation limits, in messages and characters.
const (
	summarizeList    = 5
	summarizeBody    = 120
	syncList         = 15
	syncShow         = 10
	syncSubject      = 60
	upcomingList     = 50
	upcomingShow     = 10
	upcomingSubject  = 55
	searchList       = 20
	searchShow       = 8
	searchSubject    = 70
	emailBody        = 200
	shortIDLength    = 8
	latestPDFs       = 3
	latestPDFPages   = 10
	latestPDFChars   = 3500
	latestPDFSummary = 350
	singlePDFPages   = 5
	singlePDFChars   = 4000
	pdfSummaryLines  = 4
)

// handler runs the mailbox commands against one resolved mailbox.
type handler struct {
	d       *Dispatcher
	mailbox gmail.Mailbox
	logger  *slog.Logger
}

func (h *handler) summarize(ctx context.Context) string {
	ids := h.list(ctx, "", summarizeList)
	if len(ids) == 0 {
		return "No emails fetched."
	}

	var lines []string
	for _, id := range ids {
		msg, ok := h.fetch(ctx, id)
		if !ok {
			continue
		}
		body := strings.TrimSpace(msg.Body)
		preview := strings.ReplaceAll(gmail.Clip(body, summarizeBody), "\n", " ")
		if utf8.RuneCountInString(body) > summarizeBody {
			preview += ellipsis
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", strings.TrimSpace(subjectOr(msg, noSubject)), preview))
		if len(lines) >= summarizeList {
			break
		}
	}
	return "Latest emails:\n" + joinLines(lines)
}

func (h *handler) sync(ctx context.Context) string {
	ids := h.list(ctx, "", syncList)
	if len(ids) > syncShow {
		ids = ids[:syncShow]
	}

	var lines []string
	for _, id := range ids {
		msg, ok := h.fetch(ctx, id)
		if !ok {
			continue
		}
		subject := subjectOr(msg, noSubject)
		lines = append(lines, fmt.Sprintf("• %s: %s (%s)",
			gmail.ClassifyItem(subject, msg.Body), gmail.Clip(subject, syncSubject), gmail.Clip(msg.ID, shortIDLength)))
	}
	return "Synced items:\n" + joinLines(lines)
}

func (h *handler) upcoming(ctx context.Context) string {
	var lines []string
	for _, id := range h.list(ctx, "", upcomingList) {
		msg, ok := h.fetch(ctx, id)
		if !ok {
			continue
		}
		itemType := gmail.ClassifyItem(msg.Subject, msg.Body)
		if itemType.Upcoming() {
			lines = append(lines, fmt.Sprintf("• %s: %s (%s)",
				itemType, gmail.Clip(msg.Subject, upcomingSubject), gmail.Clip(msg.ID, shortIDLength)))
		}
		if len(lines) >= upcomingShow {
			break
		}
	}
	return "Upcoming:\n" + joinLines(lines)
}

func (h *handler) search(ctx context.Context, term string) string {
	needle := strings.ToLower(term)

	var lines []string
	for _, id := range h.list(ctx, term, searchList) {
		msg, ok := h.fetch(ctx, id)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Subject), needle) {
			lines = append(lines, fmt.Sprintf("• %s (%s)", gmail.Clip(msg.Subject, searchSubject), gmail.Clip(id, shortIDLength)))
		}
		if len(lines) >= searchShow {
			break
		}
	}
	return "Search results:\n" + joinLines(lines)
}

func (h *handler) emailDetail(ctx context.Context, id string) string {
	msg, ok := h.fetch(ctx, id)
	if !ok {
		return "Email not found"
	}

	from := msg.From
	if from == "" {
		from = "?"
	}
	attachments := "No attachments"
	if n := len(msg.Attachments); n > 0 {
		attachments = fmt.Sprintf("Attachments: %d", n)
	}
	preview := gmail.Clip(strings.ReplaceAll(msg.Body, "\n", " "), emailBody)
	if utf8.RuneCountInString(preview) == emailBody {
		preview += ellipsis
	}

	return fmt.Sprintf("Subject: %s\nFrom: %s\n%s\nBody: %s", subjectOr(msg, noSubject), from, attachments, preview)
}

func (h *handler) attachment(ctx context.Context, emailID, attachmentID string) string {
	data, ok := h.download(ctx, emailID, attachmentID)
	if !ok {
		return "Attachment not found"
	}
	return fmt.Sprintf("Attachment size: %d bytes", len(data))
}

func (h *handler) pdfSummaryLatest(ctx context.Context) string {
	ids := h.list(ctx, "", 1)
	if len(ids) == 0 {
		return "No emails found"
	}
	msg, ok := h.fetch(ctx, ids[0])
	if !ok {
		return "Failed to load latest email"
	}
	pdfs := msg.PDFAttachments()
	if len(pdfs) == 0 {
		return "No PDF attachments in the latest email"
	}
	if len(pdfs) > latestPDFs {
		pdfs = pdfs[:latestPDFs]
	}

	lines := []string{"Subject: " + subjectOr(msg, noSubject)}
	for _, att := range pdfs {
		lines = append(lines, fmt.Sprintf("• %s: %s", att.Filename, h.summarizePDFLine(ctx, msg.ID, att)))
	}
	return "PDF summaries (latest email):\n" + strings.Join(lines, "\n")
}

// summarizePDFLine never fails; problems are rendered inline so sibling
// attachments are still processed.
func (h *handler) summarizePDFLine(ctx context.Context, emailID string, att gmail.Attachment) string {
	data, ok := h.download(ctx, emailID, att.ID)
	if !ok {
		return "(download failed)"
	}
	text, err := h.d.extract(data, latestPDFPages)
	if err != nil {
		return fmt.Sprintf("(failed to read PDF: %v)", err)
	}
	if strings.TrimSpace(text) == "" {
		return noExtractableText
	}
	summary, err := h.summarizeText(ctx, gmail.Clip(text, latestPDFChars))
	if err != nil {
		return fmt.Sprintf("(summary failed: %v)", err)
	}

	short := strings.ReplaceAll(summary, "\n", " ")
	if utf8.RuneCountInString(short) > latestPDFSummary {
		short = gmail.Clip(short, latestPDFSummary) + ellipsis
	}
	return short
}

func (h *handler) pdfSummary(ctx context.Context, emailID, attachmentID string) string {
	data, ok := h.download(ctx, emailID, attachmentID)
	if !ok {
		return "Attachment not found"
	}
	text, err := h.d.extract(data, singlePDFPages)
	if err != nil {
		return fmt.Sprintf("Failed to read PDF: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return "PDF summary:\n" + noExtractableText
	}
	summary, err := h.summarizeText(ctx, gmail.Clip(text, singlePDFChars))
	if err != nil {
		return fmt.Sprintf("Failed to summarize PDF: %v", err)
	}
	return "PDF summary:\n" + summary
}

func (h *handler) list(ctx context.Context, query string, max int64) []string {
	ctx, cancel := context.WithTimeout(ctx, h.d.ioTimeout)
	defer cancel()

	ids, err := h.mailbox.ListRecent(ctx, query, max)
	if err != nil {
		h.logger.Warn("Failed to list messages", logging.Err(err))
		return nil
	}
	return ids
}

func (h *handler) fetch(ctx context.Context, id string) (*gmail.Message, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.d.ioTimeout)
	defer cancel()

	msg, err := h.mailbox.FetchMessage(ctx, id)
	if err != nil {
		h.logger.Debug("Failed to fetch message", logging.MessageID(id), logging.Err(err))
		return nil, false
	}
	return msg, true
}

func (h *handler) download(ctx context.Context, emailID, attachmentID string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.d.ioTimeout)
	defer cancel()

	data, err := h.mailbox.FetchAttachment(ctx, emailID, attachmentID)
	if err != nil || len(data) == 0 {
		h.logger.Debug("Failed to fetch attachment", logging.MessageID(emailID), "attachment_id", attachmentID, logging.Err(err))
		return nil, false
	}
	return data, true
}

func (h *handler) summarizeText(ctx context.Context, text string) (string, error) {
	if h.d.summarizer == nil {
		return "", errSummarizerDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, h.d.ioTimeout)
	defer cancel()

	return h.d.summarizer.Summarize(ctx, text, pdfSummaryLines)
}

func subjectOr(msg *gmail.Message, fallback string) string {
	if msg.Subject == "" {
		return fallback
	}
	return msg.Subject
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return noneLine
	}
	return strings.Join(lines, "\n")
}
