package domain

import (
	"context"
	"io"
)

// File is a user-supplied document: raw bytes, a declared media type and a display name.
type File interface {
	Name() string
	MediaType() string
	// Open returns a fresh reader over the raw bytes. Each call starts at the beginning.
	Open() (io.ReadCloser, error)
}

// Converter turns a non-PDF file into PDF bytes
type Converter interface {
	// Convert performs a single conversion attempt. Failures are ConversionErrors.
	Convert(ctx context.Context, file File) ([]byte, error)
}

// Parser opens PDF bytes into a document handle
type Parser interface {
	// Parse returns a live handle that the caller owns and must Close.
	// Failures are ParseErrors.
	Parse(ctx context.Context, data []byte) (Document, error)
}

// Document is an opaque handle to a parsed document backed by a native resource.
// It must be released with Close exactly once by its owner.
type Document interface {
	PageCount() int
	// RenderPNG renders the 1-based page at the given resolution.
	RenderPNG(page int, dpi float64) ([]byte, error)
	Metadata() map[string]string
	Close() error
}
