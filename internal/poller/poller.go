// Package poller drives periodic status fetches from the job service until
// a terminal snapshot arrives.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipetrace/agent/internal/pipeline"
)

const (
	DefaultInterval = 500 * time.Millisecond

	// TransportFailureMessage is reported when a status fetch fails. Polling
	// is not retried.
	TransportFailureMessage = "Lost connection to the processing service while checking status."
)

// Fetcher returns the current job status snapshot.
type Fetcher interface {
	GetStatus(ctx context.Context) (pipeline.Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (pipeline.Snapshot, error)

func (f FetcherFunc) GetStatus(ctx context.Context) (pipeline.Snapshot, error) {
	return f(ctx)
}

type State int32

const (
	StateNeverStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "never_started"
	}
}

type Config struct {
	Interval time.Duration
}

// Poller owns at most one active polling loop at a time.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	current *Handle
}

func New(fetcher Fetcher, cfg Config, logger *slog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
	}
}

// Handle controls a single polling loop.
type Handle struct {
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	ticks  atomic.Int64
}

// State reports whether the loop is running or has stopped.
func (h *Handle) State() State {
	if h == nil {
		return StateNeverStarted
	}
	return State(h.state.Load())
}

// Stop ends the loop. It is safe to call more than once, after the loop
// stopped itself, and from inside the snapshot callback.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	if h.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		h.cancel()
	}
}

// Done is closed once the loop goroutine has exited and its ticker is released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Ticks returns how many status fetches the loop has issued.
func (h *Handle) Ticks() int64 {
	return h.ticks.Load()
}

// Start begins polling, stopping any loop previously started by p. Every
// snapshot is passed to onSnapshot in arrival order from the loop goroutine.
func (p *Poller) Start(ctx context.Context, onSnapshot func(pipeline.Snapshot)) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Stop()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	h.state.Store(int32(StateRunning))
	p.current = h

	go p.loop(loopCtx, h, onSnapshot)
	return h
}

// Stop stops the active loop, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.current
	p.mu.Unlock()
	h.Stop()
}

// Active reports whether a loop is currently running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.State() == StateRunning
}

func (p *Poller) loop(ctx context.Context, h *Handle, onSnapshot func(pipeline.Snapshot)) {
	defer close(h.done)
	defer h.Stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug("status polling started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("status polling stopped")
			return
		case <-ticker.C:
			h.ticks.Add(1)
			snap, err := p.fetcher.GetStatus(ctx)
			if h.State() != StateRunning || ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.Warn("status fetch failed, polling stopped", "error", err)
				h.Stop()
				onSnapshot(pipeline.Snapshot{
					Stage:    pipeline.StageError,
					Message:  TransportFailureMessage,
					Terminal: pipeline.TerminalError,
				})
				return
			}

			terminal := snap.Terminal != pipeline.TerminalNone
			if terminal {
				h.Stop()
			}
			onSnapshot(snap)
			if terminal {
				p.logger.Info("status polling finished", "stage", snap.Stage)
				return
			}
		}
	}
}
