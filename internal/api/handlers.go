// Package api exposes the document session over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/pdf"
	"github.com/spherical/deck-session/internal/session"
)

// uploadField is the multipart field carrying the document
const uploadField = "file"

// DocumentHandler serves the current document session.
type DocumentHandler struct {
	logger         *observability.Logger
	manager        *session.Manager
	renderDPI      float64
	maxUploadBytes int64
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, manager *session.Manager, renderDPI float64, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{
		logger:         logger,
		manager:        manager,
		renderDPI:      renderDPI,
		maxUploadBytes: maxUploadBytes,
	}
}

// Get handles GET /api/v1/document.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.Snapshot())
}

// Load handles POST /api/v1/document.
func (h *DocumentHandler) Load(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	_, header, err := r.FormFile(uploadField)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file := newUploadFile(header)
	if err := h.manager.Load(r.Context(), file); err != nil {
		h.writeError(w, statusFor(err), "failed to load document", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, h.manager.Snapshot())
}

// Reset handles DELETE /api/v1/document.
func (h *DocumentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.manager.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// Source handles GET /api/v1/document/source.
func (h *DocumentHandler) Source(w http.ResponseWriter, r *http.Request) {
	err := h.manager.WithDocument(func(v session.View) error {
		w.Header().Set("Content-Type", domain.MediaTypePDF)
		w.Header().Set("Content-Length", strconv.Itoa(len(v.Source)))
		w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(v.FileName))
		_, err := w.Write(v.Source)
		return err
	})
	if errors.Is(err, session.ErrNoDocument) {
		h.writeError(w, http.StatusNotFound, "no document loaded", "")
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to stream source")
	}
}

// Page handles GET /api/v1/document/pages/{page}.
func (h *DocumentHandler) Page(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid page", err.Error())
		return
	}

	dpi := h.renderDPI
	if v := r.URL.Query().Get("dpi"); v != "" {
		dpi, err = strconv.ParseFloat(v, 64)
		if err != nil || dpi <= 0 || dpi > 600 {
			h.writeError(w, http.StatusBadRequest, "dpi must be between 1 and 600", "")
			return
		}
	}

	png, err := h.manager.RenderPage(page, dpi)
	if errors.Is(err, session.ErrNoDocument) {
		h.writeError(w, http.StatusNotFound, "no document loaded", "")
		return
	}
	if err != nil {
		h.writeError(w, statusFor(err), "failed to render page", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// statusFor maps a load error to an HTTP status.
func statusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeBusy:
		return http.StatusConflict
	case domain.ErrorTypeConversion:
		return http.StatusBadGateway
	case domain.ErrorTypeParse:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeIO, domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeSuperseded:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (h *DocumentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}

// uploadFile adapts a multipart upload to domain.File
type uploadFile struct {
	header    *multipart.FileHeader
	mediaType string
}

func newUploadFile(header *multipart.FileHeader) *uploadFile {
	mt := header.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		mt = pdf.DetectMediaType(header.Filename, nil)
	}
	return &uploadFile{header: header, mediaType: mt}
}

func (f *uploadFile) Name() string      { return f.header.Filename }
func (f *uploadFile) MediaType() string { return f.mediaType }

func (f *uploadFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}
