package session

import (
	"fmt"
	"time"

	"github.com/pipetrace/agent/internal/pipeline"
	"github.com/pipetrace/agent/internal/view"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseUploading
	PhasePolling
	PhaseReady
	PhaseError
	PhaseAsking
)

func (p Phase) String() string {
	switch p {
	case PhaseUploading:
		return "uploading"
	case PhasePolling:
		return "polling"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	case PhaseAsking:
		return "asking"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for c := PhaseIdle; c <= PhaseAsking; c++ {
		if c.String() == string(text) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// processing reports whether a job or question is in flight in phase p.
func (p Phase) processing() bool {
	return p == PhaseUploading || p == PhasePolling || p == PhaseAsking
}

type ViewMode string

const (
	ViewDocument ViewMode = "document"
	ViewQuery    ViewMode = "query"
)

// System status badge labels.
const (
	StatusIdle       = "Idle"
	StatusProcessing = "Processing"
	StatusReady      = "Ready"
	StatusThinking   = "Thinking"
	StatusComplete   = "Complete"
	StatusError      = "Error"
)

type SystemStatus struct {
	Label string    `json:"label"`
	Tone  view.Tone `json:"tone"`
}

// Notice is the operator-facing status message. Success notices clear
// themselves; every other tone stays until replaced or dismissed.
type Notice struct {
	ID      uint64    `json:"id"`
	Message string    `json:"message"`
	Tone    view.Tone `json:"tone"`
	At      time.Time `json:"at"`
}

// Details are the document statistics shown once ingestion is ready.
type Details struct {
	Pages   int  `json:"pages"`
	Chunks  int  `json:"chunks"`
	Visible bool `json:"visible"`
}

// Result is the answer panel.
type Result struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	Retrieval int    `json:"retrieval"`
	Visible   bool   `json:"visible"`
}

// State is a snapshot of everything the operator surfaces render.
type State struct {
	SessionID        string            `json:"session_id"`
	Processing       bool              `json:"processing"`
	Phase            Phase             `json:"phase"`
	ActiveView       ViewMode          `json:"active_view"`
	LastError        string            `json:"last_error,omitempty"`
	Document         string            `json:"document,omitempty"`
	Message          string            `json:"message,omitempty"`
	QuestionEnabled  bool              `json:"question_enabled"`
	QueryViewEnabled bool              `json:"query_view_enabled"`
	System           SystemStatus      `json:"system_status"`
	Notice           *Notice           `json:"notice,omitempty"`
	Details          *Details          `json:"details,omitempty"`
	Result           *Result           `json:"result,omitempty"`
	Ingestion        pipeline.Pipeline `json:"ingestion"`
	Query            pipeline.Pipeline `json:"query"`
}

func initialState() State {
	return State{
		Phase:      PhaseIdle,
		ActiveView: ViewDocument,
		System:     SystemStatus{Label: StatusIdle, Tone: view.ToneInfo},
		Ingestion:  pipeline.Fresh(pipeline.KindIngestion),
		Query:      pipeline.Fresh(pipeline.KindQuery),
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Ingestion = s.Ingestion.Clone()
	out.Query = s.Query.Clone()
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	if s.Details != nil {
		d := *s.Details
		out.Details = &d
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

// Directives holds the render directives for both pipelines.
type Directives struct {
	Ingestion view.Directives `json:"ingestion"`
	Query     view.Directives `json:"query"`
}
