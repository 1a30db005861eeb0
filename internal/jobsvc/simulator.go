package jobsvc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pipetrace/agent/internal/pipeline"
	"github.com/pipetrace/agent/internal/upload"
)

// StageInitializing is reported between embedding and ready. It is not one
// of the ingestion stages.
const StageInitializing = "initializing"

const defaultRetrievalCount = 3

type SimulatorConfig struct {
	// Step is the unit of simulated work; embedding takes two steps, every
	// other stage one.
	Step time.Duration
	// FailStage makes the job fail on reaching the named stage.
	FailStage string
	Now       func() time.Time
}

type simStep struct {
	stage    string
	progress int
	weight   int
	message  func(pages, chunks int) string
}

var simSteps = []simStep{
	{pipeline.StageLoading, 0, 1, func(int, int) string { return "Loading PDF document..." }},
	{pipeline.StageSplitting, 25, 1, func(p, _ int) string {
		return fmt.Sprintf("Splitting document into chunks... Found %d pages", p)
	}},
	{pipeline.StageEmbedding, 50, 2, func(_, c int) string {
		return fmt.Sprintf("Creating embeddings for %d chunks...", c)
	}},
	{StageInitializing, 75, 1, func(int, int) string { return "Initializing Q&A system..." }},
}

// Simulator is an in-process job service. It walks an uploaded document
// through the ingestion stages on a fixed schedule and answers questions
// with canned text. The agent uses it when no service URL is configured.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger

	mu       sync.Mutex
	started  time.Time
	uploaded bool
	filename string
	pages    int
	chunks   int
}

func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Simulator{cfg: cfg, logger: logger}
}

func (s *Simulator) Upload(ctx context.Context, filename string, body io.Reader) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}
	if filename == "" {
		return nil, &BackendError{Op: "upload", StatusCode: http.StatusBadRequest, Message: "No file selected"}
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, &BackendError{Op: "upload", StatusCode: http.StatusBadRequest, Message: "Please upload a PDF file"}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}

	pages, err := upload.CountPages(bytes.NewReader(data))
	if err != nil || pages < 1 {
		pages = 1
	}
	chunks := len(data) / 2048
	if chunks < pages {
		chunks = pages
	}

	s.mu.Lock()
	s.started = s.cfg.Now()
	s.uploaded = true
	s.filename = upload.SanitizeName(filename)
	s.pages = pages
	s.chunks = chunks
	s.mu.Unlock()

	s.logger.Info("simulator: document accepted", "filename", filename, "pages", pages, "chunks", chunks)
	return &UploadResult{Success: true, Filename: s.filename}, nil
}

func (s *Simulator) GetStatus(ctx context.Context) (pipeline.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Snapshot{}, &TransportError{Op: "get_status", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(), nil
}

func (s *Simulator) statusLocked() pipeline.Snapshot {
	if !s.uploaded {
		return pipeline.Snapshot{}
	}

	elapsed := s.cfg.Now().Sub(s.started)
	var at time.Duration
	for i, step := range simSteps {
		if step.stage == s.cfg.FailStage {
			return pipeline.Snapshot{
				Stage:    pipeline.StageError,
				Message:  "Error processing document: simulated failure at " + step.stage,
				Terminal: pipeline.TerminalError,
			}
		}
		at += time.Duration(step.weight) * s.cfg.Step
		if elapsed < at {
			snap := pipeline.Snapshot{
				Stage:    step.stage,
				Progress: step.progress,
				Message:  step.message(s.pages, s.chunks),
			}
			if i >= 1 {
				snap.Counts = &pipeline.Counts{Pages: s.pages}
			}
			if i >= 2 {
				snap.Counts.Chunks = s.chunks
			}
			return snap
		}
	}
	return pipeline.Snapshot{
		Stage:    pipeline.StageReady,
		Progress: 100,
		Message:  "RAG system ready! You can now ask questions.",
		Terminal: pipeline.TerminalReady,
		Counts:   &pipeline.Counts{Pages: s.pages, Chunks: s.chunks},
	}
}

func (s *Simulator) Ask(ctx context.Context, question string) (*Answer, error) {
	const op = "ask_question"
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	s.mu.Lock()
	snap := s.statusLocked()
	pages, chunks, name := s.pages, s.chunks, s.filename
	s.mu.Unlock()

	if snap.Terminal != pipeline.TerminalReady {
		return nil, &BackendError{Op: op, StatusCode: http.StatusBadRequest, Message: "Please process a document first"}
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, &BackendError{Op: op, StatusCode: http.StatusBadRequest, Message: "Please enter a question"}
	}

	return &Answer{
		Success:  true,
		Question: q,
		Answer: fmt.Sprintf("This is a simulated answer to %q, drawn from the %d most relevant of %d chunks in %s.",
			q, defaultRetrievalCount, chunks, name),
		Stats: &DocumentStats{
			PagesCount:     pages,
			ChunksCount:    chunks,
			RetrievalCount: defaultRetrievalCount,
		},
	}, nil
}
