// Package tui is the interactive terminal client for a session: it draws
// both pipelines, takes a document path or a question, and follows state
// changes as they happen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pipetrace/agent/internal/session"
	"github.com/pipetrace/agent/internal/view"
)

const (
	pulseFrames   = 6
	pulseInterval = 150 * time.Millisecond
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	flowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	answerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("34")).Padding(0, 1)
)

// Session is the orchestrator surface the TUI drives.
type Session interface {
	State() session.State
	Directives() session.Directives
	Subscribe() (<-chan struct{}, func())
	SubmitFile(ctx context.Context, path, declaredType string) error
	Ask(ctx context.Context, question string) (*session.Result, error)
	SwitchView(v session.ViewMode) error
	DismissResults()
	DismissNotice()
}

type inputMode int

const (
	inputNone inputMode = iota
	inputPath
	inputQuestion
)

type stateChangedMsg struct{ open bool }

type submitDoneMsg struct{ err error }

type askDoneMsg struct {
	result *session.Result
	err    error
}

type pulseTickMsg struct{}

type Model struct {
	session     Session
	ctx         context.Context
	changes     <-chan struct{}
	unsubscribe func()

	state session.State
	dirs  session.Directives

	input   textinput.Model
	mode    inputMode
	spinner spinner.Model
	hint    string

	// particle id -> remaining frames of its flow animation
	pulses  map[string]int
	pulsing bool

	width int
}

func New(ctx context.Context, s Session) *Model {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ch, unsubscribe := s.Subscribe()
	return &Model{
		session:     s,
		ctx:         ctx,
		changes:     ch,
		unsubscribe: unsubscribe,
		state:       s.State(),
		dirs:        s.Directives(),
		input:       ti,
		spinner:     sp,
		pulses:      make(map[string]int),
	}
}

// Init satisfies the tea.Model interface.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.spinner.Tick)
}

func (m *Model) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		_, ok := <-ch
		return stateChangedMsg{open: ok}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateChangedMsg:
		if !msg.open {
			return m, tea.Quit
		}
		return m, tea.Batch(m.refresh(), m.waitForChange())

	case submitDoneMsg:
		if msg.err != nil {
			m.hint = session.DisplayMessage(msg.err)
		}
		return m, nil

	case askDoneMsg:
		if msg.err != nil {
			m.hint = session.DisplayMessage(msg.err)
		}
		return m, nil

	case pulseTickMsg:
		for id, n := range m.pulses {
			if n <= 1 {
				delete(m.pulses, id)
			} else {
				m.pulses[id] = n - 1
			}
		}
		if len(m.pulses) == 0 {
			m.pulsing = false
			return m, nil
		}
		return m, pulseTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.unsubscribe()
		return m, tea.Quit
	}

	if m.mode != inputNone {
		switch msg.Type {
		case tea.KeyEsc:
			m.closeInput()
			return m, nil
		case tea.KeyEnter, tea.KeyCtrlJ:
			return m, m.submitInput()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	m.hint = ""
	switch msg.String() {
	case "q":
		m.unsubscribe()
		return m, tea.Quit
	case "tab":
		next := session.ViewQuery
		if m.state.ActiveView == session.ViewQuery {
			next = session.ViewDocument
		}
		if err := m.session.SwitchView(next); err != nil {
			m.hint = session.DisplayMessage(err)
		}
	case "u":
		if m.state.Processing {
			m.hint = session.DisplayMessage(session.ErrBusy)
			return m, nil
		}
		return m, m.openInput(inputPath, "path to a PDF")
	case "a", "/":
		if !m.state.QuestionEnabled {
			m.hint = session.DisplayMessage(session.ErrNotReady)
			return m, nil
		}
		return m, m.openInput(inputQuestion, "ask a question about the document")
	case "d":
		m.session.DismissResults()
	case "x":
		m.session.DismissNotice()
	}
	return m, nil
}

func (m *Model) openInput(mode inputMode, placeholder string) tea.Cmd {
	m.mode = mode
	m.input.Reset()
	m.input.Placeholder = placeholder
	return m.input.Focus()
}

func (m *Model) closeInput() {
	m.mode = inputNone
	m.input.Blur()
	m.input.Reset()
}

// submitInput hands the input to the session. Empty or whitespace-only input
// is ignored and the field stays open.
func (m *Model) submitInput() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	mode := m.mode
	m.closeInput()

	s, ctx := m.session, m.ctx
	switch mode {
	case inputPath:
		return func() tea.Msg {
			return submitDoneMsg{err: s.SubmitFile(ctx, text, "")}
		}
	case inputQuestion:
		return func() tea.Msg {
			res, err := s.Ask(ctx, text)
			return askDoneMsg{result: res, err: err}
		}
	}
	return nil
}

// refresh re-reads the session and starts flow animations for connectors
// that just became active.
func (m *Model) refresh() tea.Cmd {
	prev := m.dirs
	m.state = m.session.State()
	m.dirs = m.session.Directives()

	triggered := append(view.Triggers(prev.Ingestion, m.dirs.Ingestion), view.Triggers(prev.Query, m.dirs.Query)...)
	for _, id := range triggered {
		m.pulses[id] = pulseFrames
	}
	if len(m.pulses) > 0 && !m.pulsing {
		m.pulsing = true
		return pulseTick()
	}
	return nil
}

func pulseTick() tea.Cmd {
	return tea.Tick(pulseInterval, func(time.Time) tea.Msg { return pulseTickMsg{} })
}

func (m *Model) View() string {
	st := m.state
	var b strings.Builder

	status := st.System.Label
	if status == "" {
		status = session.StatusIdle
	}
	fmt.Fprintf(&b, "%s %s", headerStyle.Render("Pipetrace"), view.Badge(status, st.System.Tone, false))
	if st.Processing {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")

	if st.Document != "" {
		line := "Document: " + st.Document
		if st.Details != nil && st.Details.Visible {
			line += fmt.Sprintf("  •  %d pages, %d chunks", st.Details.Pages, st.Details.Chunks)
		}
		b.WriteString(mutedStyle.Render(line) + "\n")
	}
	b.WriteString("\n")

	active, title := m.dirs.Ingestion, "Document Pipeline"
	if st.ActiveView == session.ViewQuery {
		active, title = m.dirs.Query, "Query Pipeline"
	}
	b.WriteString(panelStyle.Render(title + "\n\n" + strings.TrimRight(view.Render(active, view.RenderOptions{}), "\n")))
	b.WriteString("\n")

	if flow := m.flowLine(active); flow != "" {
		b.WriteString(flowStyle.Render(flow) + "\n")
	}

	if st.Notice != nil {
		b.WriteString(view.Badge(st.Notice.Message, st.Notice.Tone, false) + "\n")
	}

	if r := st.Result; r != nil && r.Visible {
		body := fmt.Sprintf("Q: %s\n\n%s\n\n%s", r.Question, r.Answer,
			mutedStyle.Render(fmt.Sprintf("%d pages • %d chunks • %d retrieved", r.Pages, r.Chunks, r.Retrieval)))
		if m.width > 8 {
			b.WriteString(answerStyle.Width(m.width - 4).Render(body))
		} else {
			b.WriteString(answerStyle.Render(body))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.mode != inputNone {
		b.WriteString(m.input.View() + "\n")
		b.WriteString(mutedStyle.Render("enter submit • esc cancel") + "\n")
	} else {
		if m.hint != "" {
			b.WriteString(view.Badge(m.hint, view.ToneWarning, false) + "\n")
		}
		b.WriteString(mutedStyle.Render(m.helpLine()) + "\n")
	}
	return b.String()
}

// flowLine names the connectors in d whose flow animation is running.
func (m *Model) flowLine(d view.Directives) string {
	var parts []string
	for _, c := range d.Connectors {
		if _, ok := m.pulses[c.ParticleID]; ok {
			parts = append(parts, fmt.Sprintf("%s ➜ %s", view.Title(c.From), view.Title(c.To)))
		}
	}
	return strings.Join(parts, "   ")
}

func (m *Model) helpLine() string {
	keys := []string{"u upload"}
	if m.state.QuestionEnabled {
		keys = append(keys, "a ask")
	}
	if m.state.QueryViewEnabled {
		keys = append(keys, "tab switch view")
	}
	if m.state.Result != nil && m.state.Result.Visible {
		keys = append(keys, "d hide answer")
	}
	if m.state.Notice != nil {
		keys = append(keys, "x dismiss")
	}
	keys = append(keys, "q quit")
	return strings.Join(keys, " • ")
}

// Run drives the TUI until the user quits, ctx is done or the session closes.
func Run(ctx context.Context, s Session) error {
	m := New(ctx, s)
	defer m.unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil) {
		return nil
	}
	return err
}
