package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
)

const (
	// DefaultEndpoint is the Gotenberg LibreOffice conversion route
	DefaultEndpoint = "/forms/libreoffice/convert"

	// formField is the multipart field Gotenberg reads documents from
	formField = "files"

	maxErrorBody = 512
)

// Client converts office documents to PDF through a Gotenberg-compatible service
type Client struct {
	url        string
	httpClient *http.Client
	logger     *observability.Logger
}

// Config holds converter client settings
type Config struct {
	URL     string        // full conversion URL, e.g. http://localhost:3001/forms/libreoffice/convert
	Timeout time.Duration // 0 keeps the transport defaults
}

// NewClient creates a new conversion client
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithOperation("convert"),
	}
}

// Convert posts the file as multipart field "files" and returns the response body.
// It makes exactly one attempt; any transport failure or non-2xx status is a ConversionError.
func (c *Client) Convert(ctx context.Context, file domain.File) ([]byte, error) {
	body, contentType, err := buildForm(file)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, domain.ConversionError("failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ConversionError("conversion service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Str("file_name", file.Name()).
			Int("status", resp.StatusCode).
			Msg("Conversion service rejected document")

		convErr := domain.ConversionError(fmt.Sprintf("conversion service returned status %d", resp.StatusCode), nil)
		convErr.StatusCode = resp.StatusCode
		if len(snippet) > 0 {
			convErr.Err = errors.New(string(bytes.TrimSpace(snippet)))
		}
		return nil, convErr
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ConversionError("failed to read converted document", err)
	}

	c.logger.Info().
		Str("file_name", file.Name()).
		Int("bytes", len(pdf)).
		Dur("elapsed", time.Since(start)).
		Msg("Document converted")

	return pdf, nil
}

// buildForm encodes the file into a multipart body
func buildForm(file domain.File) (io.Reader, string, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, "", domain.IOError("failed to open "+file.Name(), err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, file.Name()))
	if mt := file.MediaType(); mt != "" {
		h.Set("Content-Type", mt)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", domain.ConversionError("failed to build form", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, "", domain.IOError("failed to read "+file.Name(), err)
	}
	if err := w.Close(); err != nil {
		return nil, "", domain.ConversionError("failed to build form", err)
	}

	return &buf, w.FormDataContentType(), nil
}
