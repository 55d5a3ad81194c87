// Package pdftext extracts plain text from PDF payloads.
package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Document is the text read from a PDF.
type Document struct {
	Text string

	// Pages is how many pages were read, after the cap.
	Pages int

	// TotalPages is the page count declared by the file.
	TotalPages int
}

// Extract returns the text of the first maxPages pages joined by newlines.
// Pages without extractable text contribute nothing; maxPages <= 0 reads every page.
// A payload that is not a readable PDF yields an error.
func Extract(data []byte, maxPages int) (string, error) {
	doc, err := Read(data, maxPages)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// Read is Extract that also reports how many pages were read.
func Read(data []byte, maxPages int) (doc Document, err error) {
	if len(data) == 0 {
		return Document{}, fmt.Errorf("empty PDF payload")
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			doc, err = Document{}, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("failed to open PDF: %w", err)
	}

	total := r.NumPage()
	pages := total
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil || content == "" {
			continue
		}
		parts = append(parts, content)
	}

	return Document{Text: strings.Join(parts, "\n"), Pages: pages, TotalPages: total}, nil
}
