package pdf

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/deck-session/internal/domain"
)

// Parser opens PDF bytes with MuPDF via go-fitz
type Parser struct{}

// NewParser creates a new parser instance
func NewParser() *Parser {
	return &Parser{}
}

// Parse opens data as a PDF document. The returned handle owns a native
// MuPDF context and must be closed by the caller.
func (p *Parser) Parse(ctx context.Context, data []byte) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, domain.ParseError("document is empty", nil)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ParseError("failed to open PDF", err)
	}

	pageCount := doc.NumPage()
	if pageCount <= 0 {
		_ = doc.Close()
		return nil, domain.ParseError("PDF has no pages", nil)
	}

	return &Document{doc: doc, pages: pageCount}, nil
}

// Document is a parsed PDF backed by a fitz.Document
type Document struct {
	doc   *fitz.Document
	pages int

	mu     sync.Mutex
	closed bool
}

// PageCount returns the number of pages
func (d *Document) PageCount() int {
	return d.pages
}

// RenderPNG renders a 1-based page as PNG at the given DPI
func (d *Document) RenderPNG(page int, dpi float64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, domain.ValidationError("document has been released", nil)
	}
	if page < 1 || page > d.pages {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range 1-%d", page, d.pages), nil)
	}

	buf, err := d.doc.ImagePNG(page-1, dpi)
	if err != nil {
		return nil, domain.ParseError(fmt.Sprintf("failed to render page %d", page), err)
	}
	return buf, nil
}

// Metadata returns the document info dictionary
func (d *Document) Metadata() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	return d.doc.Metadata()
}

// Close releases the MuPDF context. Calling it more than once is a no-op.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}
