package pipeline

// Sentinel stage values reported by the job service once a job has ended.
const (
	StageReady = "ready"
	StageError = "error"
)

type Terminal int

const (
	TerminalNone Terminal = iota
	TerminalReady
	TerminalError
)

func (t Terminal) String() string {
	switch t {
	case TerminalReady:
		return "ready"
	case TerminalError:
		return "error"
	default:
		return "none"
	}
}

// Counts carries the document statistics the job service reports alongside status.
type Counts struct {
	Pages  int `json:"pages_count"`
	Chunks int `json:"chunks_count"`
}

// Snapshot is one point-in-time status report from the job service.
type Snapshot struct {
	Stage    string
	Progress int
	Message  string
	Terminal Terminal
	Counts   *Counts
}

// TerminalFor maps a reported stage name to its terminal state.
func TerminalFor(stage string) Terminal {
	switch stage {
	case StageReady:
		return TerminalReady
	case StageError:
		return TerminalError
	default:
		return TerminalNone
	}
}

// Reconcile derives the full stage state for prev after applying s.
//
// The result depends only on the content of prev and s. A snapshot that
// reports a stage behind the last applied one is ignored, and the active
// stage's progress never moves backwards.
func Reconcile(prev Pipeline, s Snapshot) Pipeline {
	if s.Terminal == TerminalReady {
		return AllCompleted(prev)
	}

	next := prev.Clone()
	if idx := prev.IndexOf(s.Stage); idx >= 0 && !stale(prev, idx) {
		next = positional(prev, idx, s.Progress)
	}

	if s.Terminal == TerminalError {
		if i, ok := next.Active(); ok {
			next.Stages[i].Status = StatusError
		}
	}
	return next
}

func stale(prev Pipeline, idx int) bool {
	frontier := prev.Frontier()
	if idx < frontier {
		return true
	}
	return idx == frontier && prev.Stages[idx].Status != StatusActive
}

func positional(prev Pipeline, idx, progress int) Pipeline {
	next := prev.Clone()
	for i := range next.Stages {
		switch {
		case i < idx:
			next.Stages[i].Status = StatusCompleted
			next.Stages[i].Progress = 100
		case i == idx:
			p := Clamp(progress)
			if prev.Stages[i].Status == StatusActive && prev.Stages[i].Progress > p {
				p = prev.Stages[i].Progress
			}
			next.Stages[i].Status = StatusActive
			next.Stages[i].Progress = p
		default:
			next.Stages[i].Status = StatusPending
			next.Stages[i].Progress = 0
		}
	}
	return next
}
