package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	gmail "google.golang.org/api/gmail/v1"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
	mimePDF       = "application/pdf"
)

// Attachment is the metadata of one attachment part.
type Attachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// IsPDF matches on the declared MIME type or the filename suffix, ignoring case.
func (a Attachment) IsPDF() bool {
	return strings.EqualFold(a.MimeType, mimePDF) ||
		strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}

// Message is a mailbox message reduced to what the notifier and the commands render.
type Message struct {
	ID           string
	ThreadID     string
	Subject      string
	From         string
	Snippet      string
	Body         string
	InternalDate time.Time
	Attachments  []Attachment
}

// PDFAttachments returns the attachments that look like PDF documents.
func (m *Message) PDFAttachments() []Attachment {
	var pdfs []Attachment
	for _, a := range m.Attachments {
		if a.IsPDF() {
			pdfs = append(pdfs, a)
		}
	}
	return pdfs
}

// ParseMessage flattens an API message. The body prefers the first text/plain
// part; otherwise the first text/html part is converted to markdown.
func ParseMessage(m *gmail.Message) *Message {
	msg := &Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		Subject:  HeaderValue(m, "Subject"),
		From:     HeaderValue(m, "From"),
	}
	if m.InternalDate > 0 {
		msg.InternalDate = time.UnixMilli(m.InternalDate).UTC()
	}

	var plain, html string
	walkParts(m.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			msg.Attachments = append(msg.Attachments, Attachment{
				ID:       part.Body.AttachmentId,
				Filename: part.Filename,
				MimeType: part.MimeType,
				Size:     part.Body.Size,
			})
			return
		}
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		switch strings.ToLower(part.MimeType) {
		case mimeTextPlain:
			if plain == "" {
				plain = decodeText(part.Body.Data)
			}
		case mimeTextHTML:
			if html == "" {
				html = decodeText(part.Body.Data)
			}
		}
	})

	switch {
	case plain != "":
		msg.Body = plain
	case html != "":
		msg.Body = htmlToText(html)
	}

	return msg
}

// HeaderValue returns the first header with the given name, matched case-insensitively.
func HeaderValue(m *gmail.Message, header string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// walkParts recursively walks through message parts, root first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}

	fn(part)

	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

func htmlToText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return html
	}
	return strings.TrimSpace(md)
}

// decodeText decodes a body part. Undecodable data yields an empty string.
func decodeText(data string) string {
	b, err := decodeData(data)
	if err != nil {
		return ""
	}
	return string(b)
}

// decodeData decodes base64url data as returned by the API, accepting the
// standard and unpadded alphabets too.
func decodeData(data string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(data)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("invalid base64 data: %w", lastErr)
}

// Clip returns at most the first n characters of s.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
