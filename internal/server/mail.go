package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teemow/inboxbell/internal/gmail"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/oauth"
)

// Query caps and truncation limits of the mailbox routes, in messages,
// pages and characters.
const (
	syncList       = 25
	upcomingList   = 100
	searchList     = 30
	maxMailItems   = 50
	minSearchQuery = 2

	digestList     = 5
	digestLongText = 600
	digestPreview  = 240

	pdfSumPages       = 10
	pdfSumChars       = 8000
	combinedPDFChars  = 12000
	combinedSeparator = "\n\n---\n\n"

	defaultSummaryLines  = 3
	combinedSummaryLines = 5

	maxJSONBody = 1 << 20
)

const (
	noSubject         = "(no subject)"
	noExtractableText = "(no extractable text)"
	ellipsis          = "…"
)

var errSummarizerDisabled = errors.New("summarization is not configured")

type notAuthenticatedResponse struct {
	Error string `json:"error"`
	Next  string `json:"next"`
}

type mailItem struct {
	Title   string         `json:"title"`
	Type    gmail.ItemType `json:"type"`
	Source  string         `json:"source"`
	EmailID string         `json:"emailId"`
}

type syncResponse struct {
	Fetched int        `json:"fetched"`
	Parsed  int        `json:"parsed"`
	Items   []mailItem `json:"items"`
}

type upcomingResponse struct {
	Upcoming []mailItem `json:"upcoming"`
}

type searchResult struct {
	mailItem
	Attachments []string `json:"attachments"`
}

type searchResponse struct {
	Result *searchResult `json:"result"`
}

type attachmentMeta struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

type emailResponse struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject"`
	From        string           `json:"from"`
	Date        string           `json:"date,omitempty"`
	Attachments []attachmentMeta `json:"attachments"`
	Parsed      mailItem         `json:"parsed"`
}

type attachmentResponse struct {
	EmailID      string `json:"emailId"`
	AttachmentID string `json:"attachmentId"`
	Size         int    `json:"size"`
}

type pdfSummaryRequest struct {
	EmailID      string `json:"email_id"`
	AttachmentID string `json:"attachment_id"`
}

type pdfSummaryResponse struct {
	Summary string `json:"summary"`
	Chars   int    `json:"chars"`
}

type pdfSumItem struct {
	Filename     string `json:"filename"`
	AttachmentID string `json:"attachmentId"`
	Chars        int    `json:"chars,omitempty"`
	PagesUsed    int    `json:"pages_used,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Error        string `json:"error,omitempty"`
}

type pdfSumResponse struct {
	EmailID         string       `json:"emailId"`
	Subject         string       `json:"subject"`
	Count           int          `json:"count"`
	Items           []pdfSumItem `json:"items"`
	CombinedSummary *string      `json:"combined_summary"`
}

type summarizeRequest struct {
	EmailID  string          `json:"email_id"`
	Text     string          `json:"text"`
	MaxLines json.RawMessage `json:"max_lines"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Lines   int    `json:"lines"`
	Source  string `json:"source"`
	EmailID string `json:"emailId,omitempty"`
	Chars   int    `json:"chars"`
}

type digestItem struct {
	EmailID        string `json:"emailId"`
	Subject        string `json:"subject"`
	Date           string `json:"date,omitempty"`
	Summary        string `json:"summary"`
	Length         int    `json:"length"`
	HasAttachments bool   `json:"hasAttachments"`
}

type digestResponse struct {
	Count int          `json:"count"`
	Items []digestItem `json:"items"`
}

// mailRoutes registers the JSON mailbox routes. Each one acts on the
// mailbox of the tenant named by tg_id.
func (s *HTTPServer) mailRoutes(mux *http.ServeMux) {
	mux.Handle("GET /emails/sync", s.limit(http.HandlerFunc(s.handleEmailsSync)))
	mux.Handle("GET /emails/upcoming", s.limit(http.HandlerFunc(s.handleEmailsUpcoming)))
	mux.Handle("GET /emails/search", s.limit(http.HandlerFunc(s.handleEmailsSearch)))
	mux.Handle("GET /emails/{id}", s.limit(http.HandlerFunc(s.handleEmailDetail)))
	mux.Handle("GET /attachments/{emailId}/{attachmentId}", s.limit(http.HandlerFunc(s.handleAttachment)))
	mux.Handle("POST /attachments/summarize/pdf", s.limit(http.HandlerFunc(s.handleSummarizePDF)))
	mux.Handle("GET /pdfsum", s.limit(http.HandlerFunc(s.handlePDFSum)))
	mux.Handle("POST /summarize", s.limit(http.HandlerFunc(s.handleSummarizeText)))
	mux.Handle("GET /summarize", s.limit(http.HandlerFunc(s.handleSummarizeLatest)))
}

// mailCall is one mailbox request against a resolved client.
type mailCall struct {
	s       *HTTPServer
	mailbox gmail.Mailbox
	logger  *slog.Logger
}

// openMailbox resolves the tg_id tenant's mailbox. On failure the response
// has been written and ok is false.
func (s *HTTPServer) openMailbox(w http.ResponseWriter, r *http.Request, operation string) (mc *mailCall, ok bool) {
	tenant, err := oauth.ParseTenantID(r.URL.Query().Get("tg_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide numeric tg_id"})
		return nil, false
	}
	logger := s.logger.With(logging.Operation(operation), logging.Tenant(int64(tenant)))

	ctx, cancel := context.WithTimeout(r.Context(), s.ioTimeout)
	defer cancel()

	mailbox, err := s.sc.Mailbox(ctx, tenant)
	switch {
	case errors.Is(err, oauth.ErrNotLinked), errors.Is(err, oauth.ErrUnavailable):
		logger.Info("Mailbox request rejected, tenant not linked", logging.Err(err))
		writeJSON(w, http.StatusUnauthorized, notAuthenticatedResponse{Error: "Not authenticated", Next: "/auth/google"})
		return nil, false
	case err != nil:
		logger.Warn("Failed to open mailbox", logging.Err(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Mailbox unavailable", Details: err.Error()})
		return nil, false
	}
	return &mailCall{s: s, mailbox: mailbox, logger: logger}, true
}

func (s *HTTPServer) handleEmailsSync(w http.ResponseWriter, r *http.Request) {
	mc, ok := s.openMailbox(w, r, "emails_sync")
	if !ok {
		return
	}
	ids, ok := mc.list(r.Context(), w, "", syncList)
	if !ok {
		return
	}

	items := mc.items(r.Context(), ids)
	writeJSON(w, http.StatusOK, syncResponse{Fetched: len(ids), Parsed: len(items), Items: capItems(items)})
}

func (s *HTTPServer) handleEmailsUpcoming(w http.ResponseWriter, r *http.Request) {
	mc, ok := s.openMailbox(w, r, "emails_upcoming")
	if !ok {
		return
	}
	ids, ok := mc.list(r.Context(), w, "", upcomingList)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, upcomingResponse{Upcoming: capItems(mc.items(r.Context(), ids))})
}

// handleEmailsSearch returns the first listed message whose subject contains
// the query, ignoring case.
func (s *HTTPServer) handleEmailsSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if utf8.RuneCountInString(query) < minSearchQuery {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter required (>=2 chars)"})
		return
	}

	mc, ok := s.openMailbox(w, r, "emails_search")
	if !ok {
		return
	}
	ids, ok := mc.list(r.Context(), w, query, searchList)
	if !ok {
		return
	}

	needle := strings.ToLower(query)
	for _, id := range ids {
		msg, err := mc.fetch(r.Context(), id)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Subject), needle) {
			continue
		}
		names := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			names = append(names, a.Filename)
		}
		writeJSON(w, http.StatusOK, searchResponse{Result: &searchResult{mailItem: itemFor(msg), Attachments: names}})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{})
}

func (s *HTTPServer) handleEmailDetail(w http.ResponseWriter, r *http.Request) {
	mc, ok := s.openMailbox(w, r, "email_detail")
	if !ok {
		return
	}
	msg, ok := mc.fetchOrFail(r.Context(), w, r.PathValue("id"))
	if !ok {
		return
	}

	attachments := make([]attachmentMeta, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, attachmentMeta{AttachmentID: a.ID, Filename: a.Filename, MimeType: a.MimeType, Size: a.Size})
	}
	writeJSON(w, http.StatusOK, emailResponse{
		ID:          msg.ID,
		Subject:     msg.Subject,
		From:        msg.From,
		Date:        formatDate(msg.InternalDate),
		Attachments: attachments,
		Parsed:      itemFor(msg),
	})
}

func (s *HTTPServer) handleAttachment(w http.ResponseWriter, r *http.Request) {
	emailID, attachmentID := r.PathValue("emailId"), r.PathValue("attachmentId")

	mc, ok := s.openMailbox(w, r, "attachment")
	if !ok {
		return
	}
	data, ok := mc.downloadOrFail(r.Context(), w, emailID, attachmentID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, attachmentResponse{EmailID: emailID, AttachmentID: attachmentID, Size: len(data)})
}

// handleSummarizePDF summarizes every page of one attachment.
func (s *HTTPServer) handleSummarizePDF(w http.ResponseWriter, r *http.Request) {
	var req pdfSummaryRequest
	decodeJSONBody(r, &req)
	if req.EmailID == "" || req.AttachmentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "email_id and attachment_id required"})
		return
	}

	mc, ok := s.openMailbox(w, r, "summarize_pdf")
	if !ok {
		return
	}
	data, ok := mc.downloadOrFail(r.Context(), w, req.EmailID, req.AttachmentID)
	if !ok {
		return
	}
	doc, err := s.readPDF(data, 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("Failed to read PDF: %v", err)})
		return
	}
	if strings.TrimSpace(doc.Text) == "" {
		writeJSON(w, http.StatusOK, pdfSummaryResponse{Summary: noExtractableText})
		return
	}

	summary, err := mc.summarize(r.Context(), doc.Text, defaultSummaryLines)
	if err != nil {
		mc.summaryFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pdfSummaryResponse{Summary: summary, Chars: utf8.RuneCountInString(doc.Text)})
}

// handlePDFSum summarizes each PDF of the newest message and then all of
// them together. Per-attachment failures are reported inline.
func (s *HTTPServer) handlePDFSum(w http.ResponseWriter, r *http.Request) {
	mc, ok := s.openMailbox(w, r, "pdfsum")
	if !ok {
		return
	}
	ctx := r.Context()

	ids, ok := mc.list(ctx, w, "", 1)
	if !ok {
		return
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No emails found"})
		return
	}
	msg, err := mc.fetch(ctx, ids[0])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Failed to load latest email"})
		return
	}

	resp := pdfSumResponse{EmailID: msg.ID, Subject: subjectOr(msg), Items: []pdfSumItem{}}
	var texts []string
	for _, att := range msg.PDFAttachments() {
		item, text := mc.summarizeAttachment(ctx, msg.ID, att)
		resp.Items = append(resp.Items, item)
		if text != "" {
			texts = append(texts, text)
		}
	}
	resp.Count = len(resp.Items)

	if len(texts) > 0 {
		joined := gmail.Clip(strings.Join(texts, combinedSeparator), combinedPDFChars)
		combined, err := mc.summarize(ctx, joined, combinedSummaryLines)
		if err != nil {
			combined = fmt.Sprintf("(combined summarization failed: %v)", err)
		}
		resp.CombinedSummary = &combined
	}
	writeJSON(w, http.StatusOK, resp)
}

// summarizeAttachment renders one /pdfsum entry. text is the clipped
// document text that feeds the combined summary, empty when there is none.
func (mc *mailCall) summarizeAttachment(ctx context.Context, emailID string, att gmail.Attachment) (item pdfSumItem, text string) {
	item = pdfSumItem{Filename: att.Filename, AttachmentID: att.ID}

	data, err := mc.download(ctx, emailID, att.ID)
	if err != nil {
		item.Error = "download_failed"
		return item, ""
	}
	doc, err := mc.s.readPDF(data, pdfSumPages)
	if err != nil {
		item.Error = fmt.Sprintf("pdf_read_failed: %v", err)
		return item, ""
	}

	item.Chars = utf8.RuneCountInString(doc.Text)
	item.PagesUsed = doc.Pages
	if strings.TrimSpace(doc.Text) == "" {
		item.Summary = noExtractableText
		return item, ""
	}

	clipped := gmail.Clip(doc.Text, pdfSumChars)
	summary, err := mc.summarize(ctx, clipped, defaultSummaryLines)
	if err != nil {
		summary = fmt.Sprintf("(summarization failed: %v)", err)
	}
	item.Summary = summary
	return item, clipped
}

// handleSummarizeText summarizes the given text, or the subject and body of
// email_id when no text is sent. Only the email form needs tg_id.
func (s *HTTPServer) handleSummarizeText(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	decodeJSONBody(r, &req)
	if req.Text == "" && req.EmailID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Provide either 'email_id' or 'text'"})
		return
	}
	if s.summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Summarization is not configured"})
		return
	}
	lines := parseMaxLines(req.MaxLines)

	mc := &mailCall{s: s, logger: s.logger.With(logging.Operation("summarize_text"))}
	text := req.Text
	if text == "" {
		var ok bool
		if mc, ok = s.openMailbox(w, r, "summarize_email"); !ok {
			return
		}
		msg, ok := mc.fetchOrFail(r.Context(), w, req.EmailID)
		if !ok {
			return
		}
		text = strings.TrimSpace(msg.Subject + "\n\n" + msg.Body)
	}

	summary, err := mc.summarize(r.Context(), text, lines)
	if err != nil {
		mc.summaryFailed(w, err)
		return
	}

	source := "text"
	if req.EmailID != "" {
		source = "email"
	}
	writeJSON(w, http.StatusOK, summarizeResponse{
		Summary: summary,
		Lines:   lines,
		Source:  source,
		EmailID: req.EmailID,
		Chars:   utf8.RuneCountInString(text),
	})
}

// handleSummarizeLatest previews the newest messages. Long messages are
// summarized; short ones are clipped.
func (s *HTTPServer) handleSummarizeLatest(w http.ResponseWriter, r *http.Request) {
	mc, ok := s.openMailbox(w, r, "summarize_latest")
	if !ok {
		return
	}
	ctx := r.Context()

	ids, ok := mc.list(ctx, w, "", digestList)
	if !ok {
		return
	}

	resp := digestResponse{Items: []digestItem{}}
	for _, id := range ids {
		msg, err := mc.fetch(ctx, id)
		if err != nil {
			continue
		}
		subject := strings.TrimSpace(msg.Subject)
		body := strings.TrimSpace(msg.Body)
		text := strings.TrimSpace(subject + "\n\n" + body)
		length := utf8.RuneCountInString(text)

		var summary string
		if length > digestLongText {
			var err error
			if summary, err = mc.summarize(ctx, text, defaultSummaryLines); err != nil {
				summary = fmt.Sprintf("(summarization failed: %v)", err)
			}
		} else {
			content := body
			if content == "" {
				content = subject
			}
			summary = gmail.Clip(content, digestPreview)
			if utf8.RuneCountInString(content) > digestPreview {
				summary += ellipsis
			}
			summary = strings.TrimSpace(summary)
		}

		resp.Items = append(resp.Items, digestItem{
			EmailID:        msg.ID,
			Subject:        subject,
			Date:           formatDate(msg.InternalDate),
			Summary:        summary,
			Length:         length,
			HasAttachments: len(msg.Attachments) > 0,
		})
	}
	resp.Count = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

// list writes a 502 and returns false when the mailbox cannot be listed.
func (mc *mailCall) list(ctx context.Context, w http.ResponseWriter, query string, max int64) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, mc.s.ioTimeout)
	defer cancel()

	ids, err := mc.mailbox.ListRecent(ctx, query, max)
	if err != nil {
		mc.logger.Warn("Failed to list messages", logging.Err(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Gmail request failed", Details: err.Error()})
		return nil, false
	}
	return ids, true
}

// items classifies the messages that can be fetched.
func (mc *mailCall) items(ctx context.Context, ids []string) []mailItem {
	items := []mailItem{}
	for _, id := range ids {
		msg, err := mc.fetch(ctx, id)
		if err != nil {
			continue
		}
		items = append(items, itemFor(msg))
	}
	return items
}

func (mc *mailCall) fetch(ctx context.Context, id string) (*gmail.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, mc.s.ioTimeout)
	defer cancel()

	msg, err := mc.mailbox.FetchMessage(ctx, id)
	if err != nil {
		mc.logger.Debug("Failed to fetch message", logging.MessageID(id), logging.Err(err))
		return nil, err
	}
	return msg, nil
}

func (mc *mailCall) fetchOrFail(ctx context.Context, w http.ResponseWriter, id string) (*gmail.Message, bool) {
	msg, err := mc.fetch(ctx, id)
	switch {
	case errors.Is(err, gmail.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Email not found"})
		return nil, false
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Gmail request failed", Details: err.Error()})
		return nil, false
	}
	return msg, true
}

func (mc *mailCall) download(ctx context.Context, emailID, attachmentID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, mc.s.ioTimeout)
	defer cancel()

	data, err := mc.mailbox.FetchAttachment(ctx, emailID, attachmentID)
	if err == nil && len(data) == 0 {
		err = gmail.ErrNotFound
	}
	if err != nil {
		mc.logger.Debug("Failed to fetch attachment", logging.MessageID(emailID), "attachment_id", attachmentID, logging.Err(err))
		return nil, err
	}
	return data, nil
}

func (mc *mailCall) downloadOrFail(ctx context.Context, w http.ResponseWriter, emailID, attachmentID string) ([]byte, bool) {
	data, err := mc.download(ctx, emailID, attachmentID)
	switch {
	case errors.Is(err, gmail.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Attachment not found"})
		return nil, false
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Gmail request failed", Details: err.Error()})
		return nil, false
	}
	return data, true
}

func (mc *mailCall) summarize(ctx context.Context, text string, maxLines int) (string, error) {
	if mc.s.summarizer == nil {
		return "", errSummarizerDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, mc.s.ioTimeout)
	defer cancel()

	return mc.s.summarizer.Summarize(ctx, text, maxLines)
}

func (mc *mailCall) summaryFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, errSummarizerDisabled) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Summarization is not configured"})
		return
	}
	mc.logger.Warn("Summarization failed", logging.Err(err))
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Summarization failed", Details: err.Error()})
}

func itemFor(msg *gmail.Message) mailItem {
	subject := subjectOr(msg)
	return mailItem{
		Title:   subject,
		Type:    gmail.ClassifyItem(subject, msg.Body),
		Source:  "gmail",
		EmailID: msg.ID,
	}
}

func capItems(items []mailItem) []mailItem {
	if len(items) > maxMailItems {
		return items[:maxMailItems]
	}
	return items
}

func subjectOr(msg *gmail.Message) string {
	if msg.Subject == "" {
		return noSubject
	}
	return msg.Subject
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseMaxLines accepts a JSON number or numeric string and falls back to
// the default for anything else, including values below one.
func parseMaxLines(raw json.RawMessage) int {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return defaultSummaryLines
		}
		v, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return defaultSummaryLines
		}
		n = float64(v)
	}
	if n < 1 {
		return defaultSummaryLines
	}
	return int(n)
}

// decodeJSONBody fills v from the request body. Malformed bodies leave v
// zero so the field checks report them.
func decodeJSONBody(r *http.Request, v any) {
	_ = json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}
