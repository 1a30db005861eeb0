// Package view projects pipeline stage state into render directives:
// progress fills, status labels, state classes, connector activation and
// flow-animation triggers.
package view

import (
	"fmt"

	"github.com/pipetrace/agent/internal/pipeline"
)

// Status labels shown under each stage.
const (
	LabelReady      = "Ready"
	LabelProcessing = "Processing"
	LabelCompleted  = "Completed"
	LabelError      = "Error"
)

// State classes, one per stage status.
const (
	ClassPending   = "pending"
	ClassActive    = "active"
	ClassCompleted = "completed"
	ClassError     = "error"
)

var stageTitles = map[string]string{
	pipeline.StageLoading:     "Document Loading",
	pipeline.StageSplitting:   "Text Splitting",
	pipeline.StageEmbedding:   "Embeddings",
	pipeline.StageVectorStore: "Vector Store",
	pipeline.StageQuery:       "Query",
	pipeline.StageRetrieve:    "Retrieval",
	pipeline.StageGenerate:    "Generation",
}

type StageDirective struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Fill  int    `json:"fill"`
	Label string `json:"label"`
	Class string `json:"class"`
}

// ConnectorDirective joins stage From to stage To.
type ConnectorDirective struct {
	ID         string `json:"id"`
	ParticleID string `json:"particle_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Active     bool   `json:"active"`
}

type Directives struct {
	Kind       pipeline.Kind        `json:"kind"`
	Stages     []StageDirective     `json:"stages"`
	Connectors []ConnectorDirective `json:"connectors"`
}

// Project derives the directives for p. It never modifies p.
//
// The connector leaving stage i is active once stage i has left Pending.
// Reconciliation never returns a stage to Pending short of a reset, so
// connectors stay active until the pipeline is recreated.
func Project(p pipeline.Pipeline) Directives {
	d := Directives{
		Kind:   p.Kind,
		Stages: make([]StageDirective, len(p.Stages)),
	}
	for i, s := range p.Stages {
		d.Stages[i] = StageDirective{
			ID:    s.ID,
			Title: Title(s.ID),
			Fill:  pipeline.Clamp(s.Progress),
			Label: Label(s.Status),
			Class: Class(s.Status),
		}
	}
	if len(p.Stages) > 1 {
		d.Connectors = make([]ConnectorDirective, len(p.Stages)-1)
		for i := 0; i < len(p.Stages)-1; i++ {
			d.Connectors[i] = ConnectorDirective{
				ID:         ConnectorID(p.Kind, i),
				ParticleID: ParticleID(p.Kind, i),
				From:       p.Stages[i].ID,
				To:         p.Stages[i+1].ID,
				Active:     p.Stages[i].Status != pipeline.StatusPending,
			}
		}
	}
	return d
}

// Triggers returns the particle ids whose connectors became active between
// prev and next, in connector order. Those flow animations should (re)start.
func Triggers(prev, next Directives) []string {
	was := make(map[string]bool, len(prev.Connectors))
	if prev.Kind == next.Kind {
		for _, c := range prev.Connectors {
			was[c.ID] = c.Active
		}
	}
	var out []string
	for _, c := range next.Connectors {
		if c.Active && !was[c.ID] {
			out = append(out, c.ParticleID)
		}
	}
	return out
}

// ActiveConnectors counts the active connectors in d.
func (d Directives) ActiveConnectors() int {
	n := 0
	for _, c := range d.Connectors {
		if c.Active {
			n++
		}
	}
	return n
}

func Title(id string) string {
	if t, ok := stageTitles[id]; ok {
		return t
	}
	return id
}

func Label(s pipeline.Status) string {
	switch s {
	case pipeline.StatusActive:
		return LabelProcessing
	case pipeline.StatusCompleted:
		return LabelCompleted
	case pipeline.StatusError:
		return LabelError
	default:
		return LabelReady
	}
}

func Class(s pipeline.Status) string {
	switch s {
	case pipeline.StatusActive:
		return ClassActive
	case pipeline.StatusCompleted:
		return ClassCompleted
	case pipeline.StatusError:
		return ClassError
	default:
		return ClassPending
	}
}

// ConnectorID names the connector leaving stage i, e.g. "conn-1-2" for
// ingestion or "query-conn-1-2" for the query pipeline.
func ConnectorID(kind pipeline.Kind, i int) string {
	return fmt.Sprintf("%sconn-%d-%d", prefix(kind), i+1, i+2)
}

// ParticleID names the flow animation on the connector leaving stage i.
func ParticleID(kind pipeline.Kind, i int) string {
	return fmt.Sprintf("%sparticle-%d", prefix(kind), i+1)
}

func prefix(kind pipeline.Kind) string {
	if kind == pipeline.KindQuery {
		return "query-"
	}
	return ""
}
