// Package jobsvc talks to the external document job service that loads,
// splits, embeds and indexes uploaded PDFs and answers questions about them.
package jobsvc

import (
	"context"
	"io"

	"github.com/pipetrace/agent/internal/pipeline"
)

// Client is the job service surface the agent consumes.
type Client interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*UploadResult, error)
	GetStatus(ctx context.Context) (pipeline.Snapshot, error)
	Ask(ctx context.Context, question string) (*Answer, error)
}

type UploadResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DocumentStats accompanies an answer.
type DocumentStats struct {
	PagesCount     int `json:"pages_count"`
	ChunksCount    int `json:"chunks_count"`
	RetrievalCount int `json:"retrieval_count"`
}

type Answer struct {
	Success  bool           `json:"success"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Stats    *DocumentStats `json:"document_stats,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
}

type statusResponse struct {
	Stage       string `json:"stage"`
	Progress    *int   `json:"progress,omitempty"`
	Message     string `json:"message"`
	PagesCount  *int   `json:"pages_count,omitempty"`
	ChunksCount *int   `json:"chunks_count,omitempty"`
}

func (r statusResponse) snapshot() pipeline.Snapshot {
	s := pipeline.Snapshot{
		Stage:    r.Stage,
		Message:  r.Message,
		Terminal: pipeline.TerminalFor(r.Stage),
	}
	if r.Progress != nil {
		s.Progress = *r.Progress
	}
	if r.PagesCount != nil || r.ChunksCount != nil {
		s.Counts = &pipeline.Counts{}
		if r.PagesCount != nil {
			s.Counts.Pages = *r.PagesCount
		}
		if r.ChunksCount != nil {
			s.Counts.Chunks = *r.ChunksCount
		}
	}
	return s
}
