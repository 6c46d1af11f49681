package domain

import "time"

// MediaTypePDF is the only media type loaded without conversion.
const MediaTypePDF = "application/pdf"

// Phase is the load phase shown to consumers as status text
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseProcessing       Phase = "processing"
	PhaseParsingPDF       Phase = "parsing-pdf"
	PhaseConverting       Phase = "converting"
	PhaseParsingStructure Phase = "parsing-structure"
	PhaseReady            Phase = "ready"
	PhaseFailed           Phase = "failed"
)

var phaseText = map[Phase]string{
	PhaseIdle:             "No document loaded",
	PhaseProcessing:       "Processing...",
	PhaseParsingPDF:       "Parsing PDF...",
	PhaseConverting:       "Converting slide deck to PDF...",
	PhaseParsingStructure: "Rendering document...",
	PhaseReady:            "Document ready",
	PhaseFailed:           "Document failed to load",
}

// Text returns the human-readable status for the phase.
func (p Phase) Text() string {
	if t, ok := phaseText[p]; ok {
		return t
	}
	return string(p)
}

// Snapshot is the read-only consumer view of the current session
type Snapshot struct {
	LoadID     string    `json:"load_id,omitempty"`
	FileName   string    `json:"file_name"`
	Loading    bool      `json:"loading"`
	Status     Phase     `json:"status"`
	StatusText string    `json:"status_text"`
	PageCount  int       `json:"page_count"`
	SizeBytes  int       `json:"size_bytes"`
	LoadedAt   time.Time `json:"loaded_at,omitzero"`
}

// StatusEvent is emitted on every phase transition of a load
type StatusEvent struct {
	LoadID    string    `json:"load_id"`
	Phase     Phase     `json:"phase"`
	Text      string    `json:"text"`
	FileName  string    `json:"file_name"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}
