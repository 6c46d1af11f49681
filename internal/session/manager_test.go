package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/pdf"
)

const pptxType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// fakeDoc records releases and checks exclusivity through its parser.
type fakeDoc struct {
	id     int
	pages  int
	parser *fakeParser

	mu     sync.Mutex
	closes int
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) RenderPNG(page int, _ float64) ([]byte, error) {
	if page < 1 || page > d.pages {
		return nil, domain.ValidationError("page out of range", nil)
	}
	return []byte("\x89PNG"), nil
}

func (d *fakeDoc) Metadata() map[string]string { return map[string]string{"title": "fake"} }

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	d.parser.released(d)
	return nil
}

func (d *fakeDoc) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type fakeParser struct {
	mu      sync.Mutex
	calls   int
	inputs  [][]byte
	docs    []*fakeDoc
	live    int
	maxLive int
	err     error
	gate    chan struct{} // when set, Parse blocks until it is closed
	entered chan struct{}
}

func (p *fakeParser) Parse(_ context.Context, data []byte) (domain.Document, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.inputs = append(p.inputs, data)
	if p.err != nil {
		return nil, p.err
	}
	doc := &fakeDoc{id: len(p.docs) + 1, pages: 3, parser: p}
	p.docs = append(p.docs, doc)
	p.live++
	if p.live > p.maxLive {
		p.maxLive = p.live
	}
	return doc, nil
}

func (p *fakeParser) released(_ *fakeDoc) {
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

type fakeConverter struct {
	mu    sync.Mutex
	calls int
	names []string
	out   []byte
	err   error
}

func (c *fakeConverter) Convert(_ context.Context, file domain.File) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.names = append(c.names, file.Name())
	if c.err != nil {
		return nil, c.err
	}
	return c.out, nil
}

// brokenFile fails when its bytes are read.
type brokenFile struct{ name string }

func (f brokenFile) Name() string      { return f.name }
func (f brokenFile) MediaType() string { return domain.MediaTypePDF }
func (f brokenFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

func pdfFile(name string) domain.File {
	return pdf.NewMemoryFile(name, domain.MediaTypePDF, []byte("%PDF-1.4 "+name))
}

func pptxFile(name string) domain.File {
	return pdf.NewMemoryFile(name, pptxType, []byte("PK pptx "+name))
}

func newTestManager(opts ...Option) (*Manager, *fakeConverter, *fakeParser) {
	conv := &fakeConverter{out: []byte("%PDF-1.7 converted")}
	parser := &fakeParser{}
	return NewManager(conv, parser, opts...), conv, parser
}

func assertEmpty(t *testing.T, m *Manager) {
	t.Helper()
	s := m.Snapshot()
	assert.Empty(t, s.FileName)
	assert.False(t, s.Loading)
	assert.Zero(t, s.PageCount)
	assert.Nil(t, m.Document())
	assert.Nil(t, m.SourceBytes())
}

func TestLoad_PDF(t *testing.T) {
	m, conv, parser := newTestManager()

	require.NoError(t, m.Load(context.Background(), pdfFile("slides.pdf")))

	s := m.Snapshot()
	assert.Equal(t, "slides.pdf", s.FileName)
	assert.False(t, s.Loading)
	assert.Equal(t, domain.PhaseReady, s.Status)
	assert.Greater(t, s.PageCount, 0)
	assert.NotEmpty(t, s.LoadID)
	assert.False(t, s.LoadedAt.IsZero())
	assert.Equal(t, []byte("%PDF-1.4 slides.pdf"), m.SourceBytes())
	assert.NotNil(t, m.Document())

	assert.Equal(t, 0, conv.calls, "converter must not be called for PDFs")
	assert.Equal(t, 1, parser.calls)
}

func TestLoad_ConvertsOfficeFile(t *testing.T) {
	m, conv, parser := newTestManager()

	require.NoError(t, m.Load(context.Background(), pptxFile("deck.pptx")))

	assert.Equal(t, 1, conv.calls)
	assert.Equal(t, []string{"deck.pptx"}, conv.names)
	require.Len(t, parser.inputs, 1)
	assert.Equal(t, []byte("%PDF-1.7 converted"), parser.inputs[0])

	s := m.Snapshot()
	assert.Equal(t, "deck.pptx", s.FileName)
	assert.Equal(t, 3, s.PageCount)
	assert.Equal(t, []byte("%PDF-1.7 converted"), m.SourceBytes())
}

func TestLoad_ConversionFailure(t *testing.T) {
	m, conv, parser := newTestManager()
	convErr := &domain.DomainError{Type: domain.ErrorTypeConversion, Message: "status 500", StatusCode: 500}
	conv.err = convErr

	err := m.Load(context.Background(), pptxFile("deck.pptx"))

	require.Error(t, err)
	assert.Same(t, convErr, err, "error is returned unchanged")
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversion))
	assert.Equal(t, 1, conv.calls, "conversion is not retried")
	assert.Equal(t, 0, parser.calls)
	assertEmpty(t, m)
	assert.Equal(t, domain.PhaseFailed, m.Snapshot().Status)
}

func TestLoad_ParseFailure(t *testing.T) {
	m, conv, parser := newTestManager()
	parser.err = domain.ParseError("corrupt xref", nil)

	err := m.Load(context.Background(), pdfFile("broken.pdf"))

	assert.True(t, domain.IsType(err, domain.ErrorTypeParse))
	assert.Equal(t, 0, conv.calls)
	assertEmpty(t, m)
}

func TestLoad_ReadFailureIsIOError(t *testing.T) {
	m, _, parser := newTestManager()

	err := m.Load(context.Background(), brokenFile{name: "gone.pdf"})

	assert.True(t, domain.IsType(err, domain.ErrorTypeIO))
	assert.Equal(t, 0, parser.calls)
	assertEmpty(t, m)
}

func TestLoad_FailureReleasesPreviousSession(t *testing.T) {
	m, _, parser := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, pdfFile("first.pdf")))
	first := parser.docs[0]

	parser.err = domain.ParseError("bad", nil)
	require.Error(t, m.Load(ctx, pdfFile("second.pdf")))

	assert.Equal(t, 1, first.closeCount())
	assertEmpty(t, m)
}

func TestLoad_ReplacesAndReleasesExactlyOnce(t *testing.T) {
	m, _, parser := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, pdfFile("x.pdf")))
	x := parser.docs[0]
	require.NoError(t, m.Load(ctx, pptxFile("y.pptx")))
	y := parser.docs[1]

	assert.Equal(t, 1, x.closeCount())
	assert.Equal(t, 0, y.closeCount())
	assert.Equal(t, 1, parser.maxLive, "two handles were alive at once")
	assert.Same(t, y, m.Document())
	assert.Equal(t, "y.pptx", m.Snapshot().FileName)
}

func TestExclusivity_RandomSequence(t *testing.T) {
	m, _, parser := newTestManager()
	ctx := context.Background()

	steps := []func(){
		func() { _ = m.Load(ctx, pdfFile("a.pdf")) },
		func() { _ = m.Load(ctx, pptxFile("b.pptx")) },
		m.Reset,
		func() { _ = m.Load(ctx, pdfFile("c.pdf")) },
		m.Reset,
		m.Reset,
		func() { _ = m.Load(ctx, pdfFile("d.pdf")) },
		func() { _ = m.Load(ctx, pdfFile("e.pdf")) },
	}
	for _, step := range steps {
		step()
		assert.False(t, m.Snapshot().Loading)
	}

	require.Len(t, parser.docs, 5)
	for _, d := range parser.docs[:4] {
		assert.Equal(t, 1, d.closeCount(), "doc %d", d.id)
	}
	assert.Equal(t, 0, parser.docs[4].closeCount())
	assert.Equal(t, 1, parser.maxLive)

	m.Reset()
	assert.Equal(t, 1, parser.docs[4].closeCount())
	assert.Equal(t, 0, parser.live)
}

func TestReset_Idempotent(t *testing.T) {
	m, _, parser := newTestManager()

	m.Reset() // empty session
	assertEmpty(t, m)

	require.NoError(t, m.Load(context.Background(), pdfFile("slides.pdf")))
	m.Reset()
	m.Reset()

	assert.Equal(t, 1, parser.docs[0].closeCount())
	assertEmpty(t, m)
	assert.Equal(t, domain.PhaseIdle, m.Snapshot().Status)
}

func TestClose_ReleasesDocument(t *testing.T) {
	m, _, parser := newTestManager()
	require.NoError(t, m.Load(context.Background(), pdfFile("slides.pdf")))

	require.NoError(t, m.Close())
	assert.Equal(t, 1, parser.docs[0].closeCount())
}

func TestLoad_ShowsIncomingNameWhileLoading(t *testing.T) {
	m, _, parser := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, pdfFile("old.pdf")))

	parser.entered = make(chan struct{})
	parser.gate = make(chan struct{})
	parser.err = domain.ParseError("bad", nil)

	done := make(chan error, 1)
	go func() { done <- m.Load(ctx, pdfFile("new.pdf")) }()

	<-parser.entered
	s := m.Snapshot()
	assert.True(t, s.Loading)
	assert.Equal(t, "new.pdf", s.FileName, "incoming name is shown during load")
	assert.Equal(t, domain.PhaseParsingStructure, s.Status)
	assert.Zero(t, s.PageCount, "previous document released before parsing")
	assert.Equal(t, 1, parser.docs[0].closeCount())

	close(parser.gate)
	require.Error(t, <-done)
	assertEmpty(t, m)
}

func TestLoad_RejectsWhileBusy(t *testing.T) {
	m, conv, parser := newTestManager()
	parser.entered = make(chan struct{})
	parser.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Load(ctx, pdfFile("first.pdf")) }()
	<-parser.entered

	err := m.Load(ctx, pptxFile("second.pptx"))
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, 0, conv.calls)
	assert.Equal(t, "first.pdf", m.Snapshot().FileName)
	assert.True(t, m.Snapshot().Loading)

	close(parser.gate)
	require.NoError(t, <-done)
	assert.Equal(t, "first.pdf", m.Snapshot().FileName)
	assert.False(t, m.Snapshot().Loading)
}

func TestReset_DuringLoadSupersedesIt(t *testing.T) {
	m, _, parser := newTestManager()
	parser.entered = make(chan struct{})
	parser.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- m.Load(context.Background(), pdfFile("late.pdf")) }()
	<-parser.entered

	m.Reset()
	s := m.Snapshot()
	assert.Empty(t, s.FileName)
	assert.True(t, s.Loading, "load is still executing")

	close(parser.gate)
	err := <-done
	assert.ErrorIs(t, err, domain.ErrSuperseded)

	require.Len(t, parser.docs, 1)
	assert.Equal(t, 1, parser.docs[0].closeCount(), "late handle released")
	assertEmpty(t, m)
	assert.Equal(t, domain.PhaseIdle, m.Snapshot().Status)
}

func TestLoad_FlagFalseAfterEveryOutcome(t *testing.T) {
	tests := []struct {
		name  string
		file  domain.File
		setup func(*fakeConverter, *fakeParser)
	}{
		{"pdf ok", pdfFile("a.pdf"), func(*fakeConverter, *fakeParser) {}},
		{"pptx ok", pptxFile("a.pptx"), func(*fakeConverter, *fakeParser) {}},
		{"convert fails", pptxFile("a.pptx"), func(c *fakeConverter, _ *fakeParser) { c.err = domain.ConversionError("x", nil) }},
		{"parse fails", pdfFile("a.pdf"), func(_ *fakeConverter, p *fakeParser) { p.err = domain.ParseError("x", nil) }},
		{"read fails", brokenFile{name: "a.pdf"}, func(*fakeConverter, *fakeParser) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, conv, parser := newTestManager()
			tt.setup(conv, parser)
			err := m.Load(context.Background(), tt.file)

			s := m.Snapshot()
			assert.False(t, s.Loading)
			if err == nil {
				assert.NotEmpty(t, s.FileName)
				assert.NotNil(t, m.Document())
				assert.NotNil(t, m.SourceBytes())
			} else {
				assertEmpty(t, m)
			}
		})
	}
}

func TestLoad_EmitsPhasesInOrder(t *testing.T) {
	events := make(chan domain.StatusEvent, 16)
	m, _, _ := newTestManager(WithEvents(events))

	require.NoError(t, m.Load(context.Background(), pptxFile("deck.pptx")))

	var phases []domain.Phase
	for len(events) > 0 {
		e := <-events
		assert.NotEmpty(t, e.LoadID)
		assert.Equal(t, e.Phase.Text(), e.Text)
		phases = append(phases, e.Phase)
	}
	assert.Equal(t, []domain.Phase{
		domain.PhaseProcessing,
		domain.PhaseConverting,
		domain.PhaseParsingStructure,
		domain.PhaseReady,
	}, phases)
}

func TestLoad_FailureEventCarriesError(t *testing.T) {
	events := make(chan domain.StatusEvent, 16)
	m, _, parser := newTestManager(WithEvents(events))
	parser.err = domain.ParseError("bad", nil)

	_ = m.Load(context.Background(), pdfFile("a.pdf"))

	var last domain.StatusEvent
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, domain.PhaseFailed, last.Phase)
	assert.True(t, domain.IsType(last.Err, domain.ErrorTypeParse))
}

func TestLoad_FullEventChannelDoesNotBlock(t *testing.T) {
	events := make(chan domain.StatusEvent) // unbuffered, never read
	m, _, _ := newTestManager(WithEvents(events))

	finished := make(chan error, 1)
	go func() { finished <- m.Load(context.Background(), pdfFile("a.pdf")) }()

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Load blocked on event channel")
	}
}

func TestWithDocument(t *testing.T) {
	m, _, _ := newTestManager()

	err := m.WithDocument(func(View) error { return nil })
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = m.RenderPage(1, 72)
	assert.ErrorIs(t, err, ErrNoDocument)

	require.NoError(t, m.Load(context.Background(), pdfFile("slides.pdf")))

	var seen string
	require.NoError(t, m.WithDocument(func(v View) error {
		seen = v.FileName
		assert.Equal(t, 3, v.Document.PageCount())
		assert.Equal(t, []byte("%PDF-1.4 slides.pdf"), v.Source)
		return nil
	}))
	assert.Equal(t, "slides.pdf", seen)

	png, err := m.RenderPage(2, 72)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = m.RenderPage(9, 72)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

type panicConverter struct{}

func (panicConverter) Convert(context.Context, domain.File) ([]byte, error) {
	panic("converter crashed")
}

type panicParser struct{}

func (panicParser) Parse(context.Context, []byte) (domain.Document, error) {
	panic("parser crashed")
}

func TestLoad_PanicLeavesSessionUsable(t *testing.T) {
	tests := []struct {
		name    string
		manager func() (*Manager, *fakeParser)
		file    domain.File
	}{
		{
			name: "converter panics",
			manager: func() (*Manager, *fakeParser) {
				parser := &fakeParser{}
				return NewManager(panicConverter{}, parser), parser
			},
			file: pptxFile("deck.pptx"),
		},
		{
			name: "parser panics",
			manager: func() (*Manager, *fakeParser) {
				return NewManager(&fakeConverter{}, panicParser{}), nil
			},
			file: pdfFile("slides.pdf"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := tt.manager()
			ctx := context.Background()

			assert.Panics(t, func() { _ = m.Load(ctx, tt.file) })

			assertEmpty(t, m)
			assert.Equal(t, domain.PhaseFailed, m.Snapshot().Status)

			// the next load is not rejected as busy
			err := m.Load(ctx, brokenFile{name: "next.pdf"})
			assert.True(t, domain.IsType(err, domain.ErrorTypeIO), "got %v", err)
			assert.False(t, m.Snapshot().Loading)
		})
	}
}

func TestLoad_PanicThenSuccessfulLoad(t *testing.T) {
	parser := &fakeParser{}
	m := NewManager(panicConverter{}, parser)
	ctx := context.Background()

	assert.Panics(t, func() { _ = m.Load(ctx, pptxFile("deck.pptx")) })

	require.NoError(t, m.Load(ctx, pdfFile("slides.pdf")))
	assert.Equal(t, "slides.pdf", m.Snapshot().FileName)
	assert.Equal(t, 1, parser.maxLive)
}

func TestLoad_RejectsEmptyFileName(t *testing.T) {
	m, conv, parser := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, pdfFile("kept.pdf")))

	for _, name := range []string{"", "   "} {
		err := m.Load(ctx, pptxFile(name))
		assert.ErrorIs(t, err, ErrNoFileName)
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	}

	s := m.Snapshot()
	assert.Equal(t, "kept.pdf", s.FileName, "rejected before touching the session")
	assert.Equal(t, 3, s.PageCount)
	assert.Equal(t, 0, conv.calls)
	assert.Equal(t, 1, parser.calls)
	assert.Equal(t, 0, parser.docs[0].closeCount())
}

func TestClose_SupersedesLoadAndStopsEvents(t *testing.T) {
	events := make(chan domain.StatusEvent, 64)
	m, _, parser := newTestManager(WithEvents(events))
	parser.entered = make(chan struct{})
	parser.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Load(ctx, pdfFile("late.pdf")) }()
	<-parser.entered

	require.NoError(t, m.Close())
	sent := len(events)

	close(parser.gate)
	assert.ErrorIs(t, <-done, domain.ErrSuperseded)
	assert.Equal(t, 1, parser.docs[0].closeCount(), "late handle released")
	assert.Equal(t, sent, len(events), "no events after Close")

	assert.ErrorIs(t, m.Load(ctx, pdfFile("after.pdf")), ErrClosed)
	assert.Equal(t, sent, len(events))

	// the owner may close the channel once Close has returned
	assert.NotPanics(t, func() {
		close(events)
		m.Reset()
	})
	assertEmpty(t, m)
}
