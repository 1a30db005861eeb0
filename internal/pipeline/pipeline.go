// Package pipeline models the ordered stages of an ingestion or query job and
// reconciles job service status snapshots into render-ready stage state.
package pipeline

import "fmt"

// Kind identifies which of the two fixed pipelines a Pipeline represents.
type Kind string

const (
	KindIngestion Kind = "ingestion"
	KindQuery     Kind = "query"
)

// Ingestion stage ids as reported by the job service's get_status endpoint.
const (
	StageLoading     = "loading"
	StageSplitting   = "splitting"
	StageEmbedding   = "embedding"
	StageVectorStore = "vectorstore"
)

// Query stage ids. The job service never reports these; they are animated locally.
const (
	StageQuery    = "query"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

var stageOrder = map[Kind][]string{
	KindIngestion: {StageLoading, StageSplitting, StageEmbedding, StageVectorStore},
	KindQuery:     {StageQuery, StageRetrieve, StageGenerate},
}

// StageIDs returns the ordered stage ids for kind, or nil for an unknown kind.
func StageIDs(kind Kind) []string {
	ids := stageOrder[kind]
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, c := range []Status{StatusPending, StatusActive, StatusCompleted, StatusError} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown stage status %q", text)
}

// Stage is a single step of a Pipeline. Progress is always within 0..100.
type Stage struct {
	ID       string `json:"id"`
	Order    int    `json:"order"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
}

// Pipeline is an ordered sequence of stages. Stages are stored in Order.
type Pipeline struct {
	Kind   Kind    `json:"kind"`
	Stages []Stage `json:"stages"`
}

// Fresh returns a pipeline of the given kind with every stage pending at 0%.
func Fresh(kind Kind) Pipeline {
	ids := stageOrder[kind]
	p := Pipeline{Kind: kind, Stages: make([]Stage, len(ids))}
	for i, id := range ids {
		p.Stages[i] = Stage{ID: id, Order: i, Status: StatusPending}
	}
	return p
}

// AllCompleted returns a copy of p with every stage completed at 100%.
func AllCompleted(p Pipeline) Pipeline {
	out := p.Clone()
	for i := range out.Stages {
		out.Stages[i].Status = StatusCompleted
		out.Stages[i].Progress = 100
	}
	return out
}

func (p Pipeline) Clone() Pipeline {
	out := Pipeline{Kind: p.Kind, Stages: make([]Stage, len(p.Stages))}
	copy(out.Stages, p.Stages)
	return out
}

// IndexOf returns the position of the stage with the given id, or -1.
func (p Pipeline) IndexOf(id string) int {
	for i, s := range p.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Active returns the index of the active stage, if any.
func (p Pipeline) Active() (int, bool) {
	for i, s := range p.Stages {
		if s.Status == StatusActive {
			return i, true
		}
	}
	return -1, false
}

// Frontier returns the highest index whose stage has left Pending, or -1.
func (p Pipeline) Frontier() int {
	for i := len(p.Stages) - 1; i >= 0; i-- {
		if p.Stages[i].Status != StatusPending {
			return i
		}
	}
	return -1
}

// Done reports whether every stage is completed.
func (p Pipeline) Done() bool {
	if len(p.Stages) == 0 {
		return false
	}
	for _, s := range p.Stages {
		if s.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Validate checks the ordering and stage-state invariants.
func (p Pipeline) Validate() error {
	active := -1
	for i, s := range p.Stages {
		if i > 0 && s.Order <= p.Stages[i-1].Order {
			return fmt.Errorf("stage %q: order %d not greater than %d", s.ID, s.Order, p.Stages[i-1].Order)
		}
		if s.Progress < 0 || s.Progress > 100 {
			return fmt.Errorf("stage %q: progress %d out of range", s.ID, s.Progress)
		}
		if s.Status == StatusActive {
			if active >= 0 {
				return fmt.Errorf("stages %q and %q are both active", p.Stages[active].ID, s.ID)
			}
			active = i
		}
	}
	if active < 0 {
		return nil
	}
	for i, s := range p.Stages {
		if i < active && s.Status != StatusCompleted {
			return fmt.Errorf("stage %q before active stage is %s", s.ID, s.Status)
		}
		if i > active && s.Status != StatusPending {
			return fmt.Errorf("stage %q after active stage is %s", s.ID, s.Status)
		}
	}
	return nil
}

// Clamp bounds a progress value to 0..100.
func Clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
