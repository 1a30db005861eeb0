// Command pipetrace processes one document and answers questions about it,
// drawing the ingestion and query pipelines as they run. On a terminal it
// starts the interactive view; otherwise it prints progress line by line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/pipetrace/agent/internal/config"
	"github.com/pipetrace/agent/internal/jobsvc"
	"github.com/pipetrace/agent/internal/logging"
	"github.com/pipetrace/agent/internal/pipeline"
	"github.com/pipetrace/agent/internal/poller"
	"github.com/pipetrace/agent/internal/session"
	"github.com/pipetrace/agent/internal/tui"
	"github.com/pipetrace/agent/internal/view"
)

type questions []string

func (q *questions) String() string     { return strings.Join(*q, "; ") }
func (q *questions) Set(v string) error { *q = append(*q, v); return nil }

func main() {
	os.Exit(run())
}

func run() int {
	var (
		asks    questions
		plain   bool
		verbose bool
	)
	flag.Var(&asks, "q", "question to ask once the document is ready (repeatable)")
	flag.BoolVar(&plain, "plain", false, "print progress lines instead of the interactive view")
	flag.BoolVar(&verbose, "v", false, "log to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pipetrace [-plain] [-q question]... [file.pdf]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = logging.New(cfg.LogLevel(), os.Stderr)
	}

	var client jobsvc.Client
	if cfg.Simulated() {
		client = jobsvc.NewSimulator(jobsvc.SimulatorConfig{}, logger)
	} else {
		client = jobsvc.NewHTTPClient(cfg.ServiceURL(), cfg.HTTPTimeout(), logger)
	}
	orch := session.New(session.Config{
		Client: client,
		Poller: poller.New(client, poller.Config{Interval: cfg.PollInterval()}, logger),
		Logger: logger,
	})
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := !plain && isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		if path := flag.Arg(0); path != "" {
			go orch.SubmitFile(ctx, path, "")
		}
		if err := tui.Run(ctx, orch); err != nil {
			fmt.Fprintln(os.Stderr, "tui:", err)
			return 1
		}
		return 0
	}

	path := flag.Arg(0)
	if path == "" {
		flag.Usage()
		return 2
	}
	return runPlain(ctx, orch, path, asks)
}

// runPlain processes path, then asks each question in turn, printing stage
// transitions as they happen.
func runPlain(ctx context.Context, orch *session.Orchestrator, path string, asks []string) int {
	p := newPrinter(os.Stdout)
	changes, unsubscribe := orch.Subscribe()
	defer unsubscribe()
	go func() {
		for range changes {
			p.update(orch.State())
		}
	}()

	if err := orch.SubmitFile(ctx, path, ""); err != nil {
		p.fail(session.DisplayMessage(err))
		return 1
	}
	st, err := orch.Wait(ctx)
	p.update(st)
	if err != nil {
		p.fail(session.DisplayMessage(err))
		return 1
	}
	if st.Details != nil {
		p.info(fmt.Sprintf("%d pages, %d chunks", st.Details.Pages, st.Details.Chunks))
	}

	code := 0
	for _, q := range asks {
		res, err := orch.Ask(ctx, q)
		p.update(orch.State())
		if err != nil {
			p.fail(session.DisplayMessage(err))
			code = 1
			continue
		}
		p.answer(res)
	}
	return code
}

type printer struct {
	mu       sync.Mutex
	w        io.Writer
	statuses map[string]pipeline.Status
	noticeID uint64
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, statuses: make(map[string]pipeline.Status)}
}

// update prints every stage whose status changed since the last call, and
// any new notice.
func (p *printer) update(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pl := range []pipeline.Pipeline{st.Ingestion, st.Query} {
		for _, s := range pl.Stages {
			key := string(pl.Kind) + "/" + s.ID
			if prev, ok := p.statuses[key]; ok && prev == s.Status {
				continue
			}
			if s.Status == pipeline.StatusPending {
				p.statuses[key] = s.Status
				continue
			}
			p.statuses[key] = s.Status
			fmt.Fprintf(p.w, "%s %s\n", statusColor(s.Status).Sprintf("%-10s", view.Label(s.Status)), view.Title(s.ID))
		}
	}
	if n := st.Notice; n != nil && n.ID != p.noticeID {
		p.noticeID = n.ID
		fmt.Fprintln(p.w, toneColor(n.Tone).Sprint(n.Message))
	}
}

func (p *printer) info(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, color.New(color.Faint).Sprint(msg))
}

func (p *printer) fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, color.RedString("error: %s", msg))
}

func (p *printer) answer(r *session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n%s %s\n%s\n%s\n\n",
		color.New(color.Bold).Sprint("Q:"), r.Question,
		r.Answer,
		color.New(color.Faint).Sprintf("%d pages • %d chunks • %d retrieved", r.Pages, r.Chunks, r.Retrieval))
}

func statusColor(s pipeline.Status) *color.Color {
	switch s {
	case pipeline.StatusActive:
		return color.New(color.FgYellow)
	case pipeline.StatusCompleted:
		return color.New(color.FgGreen)
	case pipeline.StatusError:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

func toneColor(t view.Tone) *color.Color {
	switch t {
	case view.ToneSuccess:
		return color.New(color.FgGreen)
	case view.ToneError:
		return color.New(color.FgRed)
	case view.ToneWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
