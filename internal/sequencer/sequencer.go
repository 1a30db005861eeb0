// Package sequencer plays the fixed, timed stage animation for the query
// pipeline, whose stages the job service does not report individually.
package sequencer

import (
	"context"
	"time"

	"github.com/pipetrace/agent/internal/config"
	"github.com/pipetrace/agent/internal/pipeline"
)

type Config struct {
	StageDuration   time.Duration
	InterStageDelay time.Duration
	FrameInterval   time.Duration
}

// DefaultConfig returns the standard animation timing.
func DefaultConfig() Config {
	return Config{
		StageDuration:   config.AnimationStageDuration,
		InterStageDelay: config.AnimationInterStageDelay,
		FrameInterval:   config.AnimationFrameInterval,
	}
}

// Total returns the wall-clock length of one full run over n stages.
func (c Config) Total(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n)*c.StageDuration + time.Duration(n-1)*c.InterStageDelay
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a time.Timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type EventKind int

const (
	EventTransition EventKind = iota
	EventProgress
)

func (k EventKind) String() string {
	if k == EventProgress {
		return "progress"
	}
	return "transition"
}

// Event describes one observable step of a run.
type Event struct {
	Kind     EventKind
	Stage    string
	Status   pipeline.Status
	Progress int
}

// Observer receives a copy of the pipeline after every step.
type Observer func(pipeline.Pipeline, Event)

type Sequencer struct {
	cfg     Config
	sleeper Sleeper
}

func New(cfg Config, sleeper Sleeper) *Sequencer {
	def := DefaultConfig()
	if cfg.StageDuration <= 0 {
		cfg.StageDuration = def.StageDuration
	}
	if cfg.InterStageDelay < 0 {
		cfg.InterStageDelay = 0
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &Sequencer{cfg: cfg, sleeper: sleeper}
}

func (s *Sequencer) Config() Config {
	return s.cfg
}

// Run animates a fresh query pipeline to completion. Stages are visited
// strictly in order and stage N+1 never starts before stage N reaches 100.
// Only ctx cancellation ends a run early, in which case the pipeline as far
// as it got is returned with ctx's error.
func (s *Sequencer) Run(ctx context.Context, observe Observer) (pipeline.Pipeline, error) {
	p := pipeline.Fresh(pipeline.KindQuery)
	if observe == nil {
		observe = func(pipeline.Pipeline, Event) {}
	}
	emit := func(kind EventKind, i int) {
		st := p.Stages[i]
		observe(p.Clone(), Event{Kind: kind, Stage: st.ID, Status: st.Status, Progress: st.Progress})
	}

	frames := s.frames()
	step := s.cfg.StageDuration / time.Duration(frames)

	for i := range p.Stages {
		p.Stages[i].Status = pipeline.StatusActive
		p.Stages[i].Progress = 0
		emit(EventTransition, i)

		for f := 1; f <= frames; f++ {
			if err := s.sleeper.Sleep(ctx, step); err != nil {
				return p, err
			}
			if f == frames {
				break
			}
			p.Stages[i].Progress = f * 100 / frames
			emit(EventProgress, i)
		}

		p.Stages[i].Status = pipeline.StatusCompleted
		p.Stages[i].Progress = 100
		emit(EventTransition, i)

		if i < len(p.Stages)-1 && s.cfg.InterStageDelay > 0 {
			if err := s.sleeper.Sleep(ctx, s.cfg.InterStageDelay); err != nil {
				return p, err
			}
		}
	}
	return p, nil
}

func (s *Sequencer) frames() int {
	n := int(s.cfg.StageDuration / s.cfg.FrameInterval)
	if n < 1 {
		return 1
	}
	return n
}
