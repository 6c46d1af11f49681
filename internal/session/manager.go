// Package session owns the current document: it converts and parses incoming
// files and guarantees that at most one parsed document handle is alive.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/pdf"
)

var (
	// ErrNoDocument is returned by accessors when no document is loaded.
	ErrNoDocument = domain.ValidationError("no document loaded", nil)

	// ErrNoFileName rejects a file without a display name.
	ErrNoFileName = domain.ValidationError("file name is required", nil)

	// ErrClosed is returned by Load after Close.
	ErrClosed = domain.ValidationError("session is closed", nil)
)

// handleRef boxes the document handle. Consumers only ever see the box
// contents through the accessors; snapshots never copy or compare it.
type handleRef struct {
	doc domain.Document
}

// Manager is the document session. Construct one per process and share the pointer.
type Manager struct {
	converter domain.Converter
	parser    domain.Parser
	logger    *observability.Logger
	events    chan<- domain.StatusEvent
	now       func() time.Time

	mu       sync.RWMutex
	handle   *handleRef
	source   []byte
	fileName string
	loading  bool
	phase    domain.Phase
	loadID   string
	loadedAt time.Time
	closed   bool
	// epoch increments on every Reset so an in-flight load can tell it was superseded.
	epoch uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEvents sets a channel that receives a StatusEvent on every phase change.
// Sends never block; events are dropped when the channel is full.
func WithEvents(ch chan<- domain.StatusEvent) Option {
	return func(m *Manager) {
		m.events = ch
	}
}

// NewManager creates an empty session
func NewManager(converter domain.Converter, parser domain.Parser, opts ...Option) *Manager {
	m := &Manager{
		converter: converter,
		parser:    parser,
		logger:    observability.NopLogger(),
		now:       time.Now,
		phase:     domain.PhaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithOperation("session")
	return m
}

// Load replaces the current document with file.
//
// The incoming name is shown as soon as the load starts and the previous
// handle is released before any I/O. On failure the session is left empty
// and the error is returned with its kind unchanged. A Load issued while
// another is running returns domain.ErrBusy without touching the session,
// and so does a file without a name.
func (m *Manager) Load(ctx context.Context, file domain.File) error {
	if strings.TrimSpace(file.Name()) == "" {
		return ErrNoFileName
	}
	loadID := uuid.NewString()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.loading {
		m.mu.Unlock()
		return domain.ErrBusy
	}
	m.loading = true
	m.fileName = file.Name()
	m.loadID = loadID
	m.loadedAt = time.Time{}
	m.releaseLocked()
	epoch := m.epoch
	m.setPhaseLocked(domain.PhaseProcessing, nil)
	m.mu.Unlock()

	log := m.logger.WithLoad(loadID)

	// A panicking converter or parser must not leave the session marked busy.
	var doc domain.Document
	settled := false
	defer func() {
		if !settled {
			m.abandon(epoch, log, doc)
		}
	}()

	log.Info().
		Str("file_name", file.Name()).
		Str("media_type", file.MediaType()).
		Msg("Loading document")

	start := m.now()

	var data []byte
	var err error
	if pdf.IsPDF(file.MediaType()) {
		m.setPhase(epoch, domain.PhaseParsingPDF)
		data, err = pdf.ReadAll(file)
	} else {
		m.setPhase(epoch, domain.PhaseConverting)
		data, err = m.converter.Convert(ctx, file)
	}
	if err != nil {
		settled = true
		return m.fail(epoch, log, err)
	}

	m.setPhase(epoch, domain.PhaseParsingStructure)
	doc, err = m.parser.Parse(ctx, data)
	if err != nil {
		settled = true
		return m.fail(epoch, log, err)
	}

	err = m.publish(epoch, data, doc)
	settled = true
	if err != nil {
		log.Warn().Msg("Session was reset during load, released new document")
		return err
	}

	log.Info().
		Str("file_name", file.Name()).
		Int("pages", doc.PageCount()).
		Int("bytes", len(data)).
		Dur("elapsed", m.now().Sub(start)).
		Msg("Document ready")
	return nil
}

// publish installs the new handle, or releases it if the session was reset meanwhile.
func (m *Manager) publish(epoch uint64, data []byte, doc domain.Document) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.loading = false
		m.mu.Unlock()
		m.closeHandle(doc)
		return domain.ErrSuperseded
	}
	m.handle = &handleRef{doc: doc}
	m.source = data
	m.loadedAt = m.now()
	m.loading = false
	m.setPhaseLocked(domain.PhaseReady, nil)
	m.mu.Unlock()
	return nil
}

// fail clears the session after a failed load and returns err unchanged.
func (m *Manager) fail(epoch uint64, log *observability.Logger, err error) error {
	m.mu.Lock()
	if m.epoch == epoch {
		m.fileName = ""
		m.source = nil
		m.setPhaseLocked(domain.PhaseFailed, err)
	}
	m.loading = false
	m.mu.Unlock()

	log.Error().Err(err).Str("kind", string(domain.TypeOf(err))).Msg("Document load failed")
	return err
}

// abandon restores the session after a load that exited without settling,
// and releases a handle that was parsed but never published.
func (m *Manager) abandon(epoch uint64, log *observability.Logger, doc domain.Document) {
	m.mu.Lock()
	if m.epoch == epoch {
		m.fileName = ""
		m.source = nil
		m.setPhaseLocked(domain.PhaseFailed, nil)
	}
	m.loading = false
	m.mu.Unlock()

	if doc != nil {
		m.closeHandle(doc)
	}
	log.Error().Msg("Document load aborted")
}

// Reset releases the current document and clears the session. Calling it on
// an empty session is a no-op. A load in flight is superseded: its result is
// released as soon as it arrives.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil && m.source == nil && m.fileName == "" {
		return
	}

	m.releaseLocked()
	m.fileName = ""
	m.loadID = ""
	m.loadedAt = time.Time{}
	m.epoch++
	m.setPhaseLocked(domain.PhaseIdle, nil)
	m.logger.Debug().Msg("Session reset")
}

// Close resets the session and stops event delivery. Later loads return
// ErrClosed and a load in flight is superseded. Once Close returns no event
// is sent, so the owner may close the events channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Reset()
	return nil
}

// Snapshot returns the consumer view of the session
func (m *Manager) Snapshot() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := domain.Snapshot{
		LoadID:     m.loadID,
		FileName:   m.fileName,
		Loading:    m.loading,
		Status:     m.phase,
		StatusText: m.phase.Text(),
		SizeBytes:  len(m.source),
		LoadedAt:   m.loadedAt,
	}
	if m.handle != nil {
		s.PageCount = m.handle.doc.PageCount()
	}
	return s
}

// Document returns the current handle, or nil. The session keeps ownership:
// callers must not Close it and must not use it after a Reset or Load.
// Prefer WithDocument, which holds the session steady while fn runs.
func (m *Manager) Document() domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.handle == nil {
		return nil
	}
	return m.handle.doc
}

// SourceBytes returns the PDF bytes backing the current document, or nil.
// The slice is shared and must not be modified.
func (m *Manager) SourceBytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// View is the populated session as seen from inside WithDocument.
type View struct {
	FileName string
	Document domain.Document
	Source   []byte
}

// WithDocument runs fn against the current document. The handle cannot be
// released while fn runs; Reset and the release step of Load wait for it.
// fn must not call back into the Manager.
func (m *Manager) WithDocument(fn func(v View) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.handle == nil {
		return ErrNoDocument
	}
	return fn(View{FileName: m.fileName, Document: m.handle.doc, Source: m.source})
}

// RenderPage renders a 1-based page of the current document as PNG
func (m *Manager) RenderPage(page int, dpi float64) ([]byte, error) {
	var out []byte
	err := m.WithDocument(func(v View) error {
		var err error
		out, err = v.Document.RenderPNG(page, dpi)
		return err
	})
	return out, err
}

// releaseLocked closes and drops the current handle and its bytes.
func (m *Manager) releaseLocked() {
	if m.handle != nil {
		m.closeHandle(m.handle.doc)
		m.handle = nil
	}
	m.source = nil
}

func (m *Manager) closeHandle(doc domain.Document) {
	if err := doc.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to release document")
	}
}

// setPhase updates the phase unless the load was superseded by a Reset.
func (m *Manager) setPhase(epoch uint64, phase domain.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	m.setPhaseLocked(phase, nil)
}

func (m *Manager) setPhaseLocked(phase domain.Phase, err error) {
	m.phase = phase
	m.emitEvent(domain.StatusEvent{
		LoadID:    m.loadID,
		Phase:     phase,
		Text:      phase.Text(),
		FileName:  m.fileName,
		Err:       err,
		Timestamp: m.now(),
	})
}

// emitEvent sends without blocking. Callers hold m.mu.
func (m *Manager) emitEvent(event domain.StatusEvent) {
	if m.events == nil || m.closed {
		return
	}
	select {
	case m.events <- event:
	default:
		m.logger.Warn().Str("phase", string(event.Phase)).Msg("Event channel full, dropping event")
	}
}
