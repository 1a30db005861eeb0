// Package session owns the operator session: it wires document uploads and
// questions to the job service, the status poller and the query animation,
// and enforces that at most one job or question is in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipetrace/agent/internal/config"
	"github.com/pipetrace/agent/internal/jobsvc"
	"github.com/pipetrace/agent/internal/logging"
	"github.com/pipetrace/agent/internal/pipeline"
	"github.com/pipetrace/agent/internal/poller"
	"github.com/pipetrace/agent/internal/sequencer"
	"github.com/pipetrace/agent/internal/upload"
	"github.com/pipetrace/agent/internal/view"
)

const (
	DefaultNoticeTTL      = config.NoticeTTL
	defaultRetrievalCount = 3
	uploadedMessage       = "File uploaded successfully! Processing document..."
	jobFailedMessage      = "Document processing failed."
)

// Validator runs local pre-flight on a file before it is uploaded.
type Validator func(path, declaredType string) (*upload.Document, error)

type Config struct {
	Client    jobsvc.Client
	Poller    *poller.Poller
	Sequencer *sequencer.Sequencer
	Validate  Validator
	Logger    *slog.Logger
	NoticeTTL time.Duration
}

type Orchestrator struct {
	client    jobsvc.Client
	poller    *poller.Poller
	sequencer *sequencer.Sequencer
	validate  Validator
	logger    *slog.Logger
	noticeTTL time.Duration

	// ctx bounds background work (polling, animation) to the orchestrator's
	// lifetime rather than to the request that started it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	pollGen     uint64
	handle      *poller.Handle
	noticeSeq   uint64
	noticeTimer *time.Timer
	closed      bool

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "session")

	p := cfg.Poller
	if p == nil {
		p = poller.New(cfg.Client, poller.Config{}, logger)
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = sequencer.New(sequencer.DefaultConfig(), nil)
	}
	validate := cfg.Validate
	if validate == nil {
		validate = upload.Validate
	}
	ttl := cfg.NoticeTTL
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		client:    cfg.Client,
		poller:    p,
		sequencer: seq,
		validate:  validate,
		logger:    logger,
		noticeTTL: ttl,
		ctx:       ctx,
		cancel:    cancel,
		state:     initialState(),
		subs:      make(map[chan struct{}]struct{}),
	}
}

// State returns a deep copy of the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Directives projects both pipelines for rendering.
func (o *Orchestrator) Directives() Directives {
	o.mu.Lock()
	ing, q := o.state.Ingestion.Clone(), o.state.Query.Clone()
	o.mu.Unlock()
	return Directives{Ingestion: view.Project(ing), Query: view.Project(q)}
}

// SubmitFile is the entry point for a user-selected or dropped file. While a
// job or question is in flight the request is dropped with ErrBusy. A file
// failing pre-flight is reported as an error notice and never uploaded.
func (o *Orchestrator) SubmitFile(ctx context.Context, path, declaredType string) error {
	if o.busy() {
		o.logger.Info("file submission dropped while processing", "path", logging.SanitizePath(path))
		return ErrBusy
	}

	doc, err := o.validate(path, declaredType)
	if err != nil {
		o.mu.Lock()
		o.setNoticeLocked(DisplayMessage(err), view.ToneError)
		o.mu.Unlock()
		o.notify()
		return err
	}
	return o.Upload(ctx, doc)
}

// Upload resets the session, sends doc to the job service and, once it is
// accepted, starts polling for ingestion status.
func (o *Orchestrator) Upload(ctx context.Context, doc *upload.Document) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state.Phase.processing() {
		o.mu.Unlock()
		o.logger.Info("upload dropped while processing", "document", doc.Name)
		return ErrBusy
	}
	o.resetLocked(doc.Name)
	gen := o.pollGen
	sessionID := o.state.SessionID
	o.mu.Unlock()
	o.notify()

	log := logging.WithSessionID(o.logger, sessionID)
	log.Info("uploading document", "document", doc.Name, "pages", doc.Pages)

	err := o.sendDocument(ctx, doc)

	o.mu.Lock()
	if gen != o.pollGen || o.closed {
		o.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	if err != nil {
		msg := DisplayMessage(err)
		o.state.Phase = PhaseError
		o.state.Processing = false
		o.state.LastError = msg
		o.state.System = SystemStatus{Label: StatusError, Tone: view.ToneError}
		o.setNoticeLocked("Upload failed: "+msg, view.ToneError)
		o.mu.Unlock()
		o.notify()
		log.Warn("upload failed", "error", err, "kind", Classify(err))
		return fmt.Errorf("upload %s: %w", doc.Name, err)
	}

	o.state.Phase = PhasePolling
	o.setNoticeLocked(uploadedMessage, view.ToneSuccess)
	o.handle = o.poller.Start(o.ctx, func(s pipeline.Snapshot) {
		o.applySnapshot(gen, s)
	})
	o.mu.Unlock()
	o.notify()

	log.Info("document accepted, polling status")
	return nil
}

func (o *Orchestrator) sendDocument(ctx context.Context, doc *upload.Document) error {
	f, err := doc.Open()
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	_, err = o.client.Upload(ctx, doc.Name, f)
	return err
}

// applySnapshot folds one status snapshot into the ingestion pipeline.
// Snapshots from a superseded poll are ignored.
func (o *Orchestrator) applySnapshot(gen uint64, s pipeline.Snapshot) {
	o.mu.Lock()
	if gen != o.pollGen || o.state.Phase != PhasePolling {
		o.mu.Unlock()
		return
	}

	prev := o.state.Ingestion
	next := pipeline.Reconcile(prev, s)
	o.state.Ingestion = next

	if s.Counts != nil {
		if o.state.Details == nil {
			o.state.Details = &Details{}
		}
		if s.Counts.Pages > 0 {
			o.state.Details.Pages = s.Counts.Pages
		}
		if s.Counts.Chunks > 0 {
			o.state.Details.Chunks = s.Counts.Chunks
		}
	}

	if s.Message != "" {
		o.state.Message = s.Message
		tone := view.ToneInfo
		if s.Stage == pipeline.StageError {
			tone = view.ToneError
		}
		o.setNoticeLocked(s.Message, tone)
	}

	switch s.Terminal {
	case pipeline.TerminalReady:
		o.state.Phase = PhaseReady
		o.state.Processing = false
		o.state.QuestionEnabled = true
		o.state.QueryViewEnabled = true
		o.state.System = SystemStatus{Label: StatusReady, Tone: view.ToneSuccess}
		if o.state.Details == nil {
			o.state.Details = &Details{}
		}
		o.state.Details.Visible = true
		o.handle = nil
	case pipeline.TerminalError:
		jobErr := &TerminalJobError{Message: s.Message}
		o.state.Phase = PhaseError
		o.state.Processing = false
		o.state.LastError = jobErr.Error()
		o.state.System = SystemStatus{Label: StatusError, Tone: view.ToneError}
		if s.Message == "" {
			o.setNoticeLocked(jobFailedMessage, view.ToneError)
		}
		o.handle = nil
	}
	sessionID := o.state.SessionID
	o.mu.Unlock()
	o.notify()

	log := logging.WithSessionID(o.logger, sessionID)
	if flows := view.Triggers(view.Project(prev), view.Project(next)); len(flows) > 0 {
		log.Debug("connectors activated", "particles", flows)
	}
	switch s.Terminal {
	case pipeline.TerminalReady:
		log.Info("document ready")
	case pipeline.TerminalError:
		log.Warn("document processing failed", "message", s.Message)
	default:
		log.Debug("status", "stage", s.Stage, "progress", s.Progress)
	}
}

// Ask plays the query animation to completion, then requests the answer.
// Whatever the outcome, the session returns to Ready afterwards.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Result, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}

	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return nil, ErrClosed
	case o.state.Phase.processing():
		o.mu.Unlock()
		return nil, ErrBusy
	case o.state.Phase != PhaseReady:
		o.mu.Unlock()
		return nil, ErrNotReady
	}
	o.state.Phase = PhaseAsking
	o.state.Processing = true
	o.state.ActiveView = ViewQuery
	o.state.System = SystemStatus{Label: StatusThinking, Tone: view.ToneWarning}
	o.state.Query = pipeline.Fresh(pipeline.KindQuery)
	sessionID := o.state.SessionID
	o.mu.Unlock()
	o.notify()

	defer func() {
		o.mu.Lock()
		if o.state.Phase == PhaseAsking {
			o.state.Phase = PhaseReady
		}
		o.state.Processing = false
		o.mu.Unlock()
		o.notify()
	}()

	log := logging.WithSessionID(o.logger, sessionID)
	log.Info("question submitted", "length", len(q))

	_, err := o.sequencer.Run(o.ctx, func(p pipeline.Pipeline, _ sequencer.Event) {
		o.mu.Lock()
		o.state.Query = p
		o.mu.Unlock()
		o.notify()
	})
	if err != nil {
		return nil, fmt.Errorf("query animation: %w", err)
	}

	ans, err := o.client.Ask(ctx, q)
	if err != nil {
		msg := DisplayMessage(err)
		o.mu.Lock()
		o.state.LastError = msg
		o.state.System = SystemStatus{Label: StatusError, Tone: view.ToneError}
		o.setNoticeLocked("Error: "+msg, view.ToneError)
		o.mu.Unlock()
		log.Warn("question failed", "error", err, "kind", Classify(err))
		return nil, fmt.Errorf("ask: %w", err)
	}

	res := &Result{
		Question:  ans.Question,
		Answer:    ans.Answer,
		Retrieval: defaultRetrievalCount,
		Visible:   true,
	}
	if res.Question == "" {
		res.Question = q
	}
	if ans.Stats != nil {
		res.Pages = ans.Stats.PagesCount
		res.Chunks = ans.Stats.ChunksCount
		if ans.Stats.RetrievalCount > 0 {
			res.Retrieval = ans.Stats.RetrievalCount
		}
	}

	o.mu.Lock()
	o.state.Result = res
	o.state.LastError = ""
	o.state.System = SystemStatus{Label: StatusComplete, Tone: view.ToneSuccess}
	out := *res
	o.mu.Unlock()

	log.Info("question answered")
	return &out, nil
}

// SwitchView selects the pipeline shown to the operator.
func (o *Orchestrator) SwitchView(v ViewMode) error {
	o.mu.Lock()
	switch v {
	case ViewDocument:
	case ViewQuery:
		if !o.state.QueryViewEnabled {
			o.mu.Unlock()
			return ErrQueryViewDisabled
		}
	default:
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidView, v)
	}
	changed := o.state.ActiveView != v
	o.state.ActiveView = v
	o.mu.Unlock()
	if changed {
		o.notify()
	}
	return nil
}

// DismissResults hides the answer panel. Pipeline state is untouched.
func (o *Orchestrator) DismissResults() {
	o.mu.Lock()
	if o.state.Result != nil {
		o.state.Result.Visible = false
	}
	o.mu.Unlock()
	o.notify()
}

// DismissNotice clears the current status message.
func (o *Orchestrator) DismissNotice() {
	o.mu.Lock()
	o.clearNoticeLocked()
	o.mu.Unlock()
	o.notify()
}

// Wait blocks until nothing is in flight and returns the resulting state.
// A job that ended in the error stage is reported as a *TerminalJobError.
func (o *Orchestrator) Wait(ctx context.Context) (State, error) {
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	for {
		st := o.State()
		if !st.Processing {
			if st.Phase == PhaseError {
				return st, &TerminalJobError{Message: st.LastError}
			}
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return o.State(), ErrClosed
			}
		}
	}
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce; receivers should re-read State. The channel is
// closed by Close or by the returned cancel func.
func (o *Orchestrator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	o.subMu.Lock()
	if o.subs == nil {
		close(ch)
		o.subMu.Unlock()
		return ch, func() {}
	}
	o.subs[ch] = struct{}{}
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			if _, ok := o.subs[ch]; ok {
				delete(o.subs, ch)
				close(ch)
			}
			o.subMu.Unlock()
		})
	}
}

// Close stops polling, cancels any running animation and releases timers.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.pollGen++
	o.handle.Stop()
	o.handle = nil
	if o.noticeTimer != nil {
		o.noticeTimer.Stop()
		o.noticeTimer = nil
	}
	o.mu.Unlock()

	o.cancel()
	o.poller.Stop()

	o.subMu.Lock()
	for ch := range o.subs {
		close(ch)
	}
	o.subs = nil
	o.subMu.Unlock()
	return nil
}

func (o *Orchestrator) busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase.processing()
}

// resetLocked starts a new session for an upload of name.
func (o *Orchestrator) resetLocked(name string) {
	o.pollGen++
	o.handle.Stop()
	o.handle = nil

	st := initialState()
	st.SessionID = uuid.NewString()
	st.Phase = PhaseUploading
	st.Processing = true
	st.Document = name
	st.System = SystemStatus{Label: StatusProcessing, Tone: view.ToneWarning}
	o.state = st
	o.setNoticeLocked(fmt.Sprintf("Uploading %q...", name), view.ToneInfo)
}

func (o *Orchestrator) setNoticeLocked(msg string, tone view.Tone) {
	if o.noticeTimer != nil {
		o.noticeTimer.Stop()
		o.noticeTimer = nil
	}
	o.noticeSeq++
	id := o.noticeSeq
	o.state.Notice = &Notice{ID: id, Message: msg, Tone: tone, At: time.Now()}

	if tone == view.ToneSuccess && !o.closed {
		o.noticeTimer = time.AfterFunc(o.noticeTTL, func() {
			o.mu.Lock()
			if o.state.Notice == nil || o.state.Notice.ID != id {
				o.mu.Unlock()
				return
			}
			o.state.Notice = nil
			o.noticeTimer = nil
			o.mu.Unlock()
			o.notify()
		})
	}
}

func (o *Orchestrator) clearNoticeLocked() {
	if o.noticeTimer != nil {
		o.noticeTimer.Stop()
		o.noticeTimer = nil
	}
	o.state.Notice = nil
}

func (o *Orchestrator) notify() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for ch := range o.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// IsBusy reports whether err means the request was dropped because a job
// or question was already in flight.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
