package jobsvc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pipetrace/agent/internal/pipeline"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSimulator(failStage string) (*Simulator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sim := NewSimulator(SimulatorConfig{Step: time.Second, FailStage: failStage, Now: clock.now}, testLogger())
	return sim, clock
}

func TestSimulator_WalksStages(t *testing.T) {
	sim, clock := newTestSimulator("")
	ctx := context.Background()

	snap, _ := sim.GetStatus(ctx)
	if snap.Stage != "" {
		t.Fatalf("stage before upload = %q, want empty", snap.Stage)
	}

	if _, err := sim.Upload(ctx, "My Report.pdf", strings.NewReader(strings.Repeat("x", 8192))); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	steps := []struct {
		after    time.Duration
		stage    string
		progress int
	}{
		{0, pipeline.StageLoading, 0},
		{time.Second, pipeline.StageSplitting, 25},
		{time.Second, pipeline.StageEmbedding, 50},
		{time.Second, pipeline.StageEmbedding, 50},
		{time.Second, StageInitializing, 75},
		{time.Second, pipeline.StageReady, 100},
	}
	for i, step := range steps {
		clock.advance(step.after)
		snap, err := sim.GetStatus(ctx)
		if err != nil {
			t.Fatalf("step %d: GetStatus() error = %v", i, err)
		}
		if snap.Stage != step.stage || snap.Progress != step.progress {
			t.Errorf("step %d: got %s/%d, want %s/%d", i, snap.Stage, snap.Progress, step.stage, step.progress)
		}
	}

	snap, _ = sim.GetStatus(ctx)
	if snap.Terminal != pipeline.TerminalReady {
		t.Errorf("terminal = %s, want ready", snap.Terminal)
	}
	if snap.Counts == nil || snap.Counts.Pages != 1 || snap.Counts.Chunks != 4 {
		t.Errorf("counts = %+v, want pages=1 chunks=4", snap.Counts)
	}
}

func TestSimulator_FailStage(t *testing.T) {
	sim, clock := newTestSimulator(pipeline.StageEmbedding)
	ctx := context.Background()
	sim.Upload(ctx, "doc.pdf", strings.NewReader("x"))

	clock.advance(2 * time.Second)
	snap, _ := sim.GetStatus(ctx)
	if snap.Terminal != pipeline.TerminalError || snap.Stage != pipeline.StageError {
		t.Fatalf("snapshot = %+v, want error", snap)
	}
	if !strings.Contains(snap.Message, "embedding") {
		t.Errorf("message = %q", snap.Message)
	}
}

func TestSimulator_RejectsNonPDF(t *testing.T) {
	sim, _ := newTestSimulator("")
	_, err := sim.Upload(context.Background(), "notes.txt", strings.NewReader("hello"))
	if !IsBackend(err) || err.Error() != "Please upload a PDF file" {
		t.Fatalf("err = %v, want BackendError", err)
	}
}

func TestSimulator_AskBeforeReady(t *testing.T) {
	sim, _ := newTestSimulator("")
	_, err := sim.Ask(context.Background(), "anything?")
	if !IsBackend(err) {
		t.Fatalf("err = %v, want BackendError", err)
	}
}

func TestSimulator_Ask(t *testing.T) {
	sim, clock := newTestSimulator("")
	ctx := context.Background()
	sim.Upload(ctx, "doc.pdf", strings.NewReader("x"))
	clock.advance(10 * time.Second)

	if _, err := sim.Ask(ctx, "   "); !IsBackend(err) {
		t.Errorf("blank question err = %v, want BackendError", err)
	}

	ans, err := sim.Ask(ctx, "  What is it about? ")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Question != "What is it about?" {
		t.Errorf("question = %q", ans.Question)
	}
	if ans.Stats == nil || ans.Stats.RetrievalCount != 3 {
		t.Errorf("stats = %+v", ans.Stats)
	}
}
