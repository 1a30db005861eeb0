// Package ui shows the session's status badge in the system tray.
package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/pipetrace/agent/internal/session"
)

//go:embed icon.png
var iconBytes []byte

// Session is what the tray reads and controls.
type Session interface {
	State() session.State
	Subscribe() (<-chan struct{}, func())
	SwitchView(v session.ViewMode) error
	DismissResults()
	DismissNotice()
}

type Tray struct {
	session Session
	logger  *slog.Logger

	statusItem   *systray.MenuItem
	documentItem *systray.MenuItem
	noticeItem   *systray.MenuItem
	documentView *systray.MenuItem
	queryView    *systray.MenuItem
	dismissItem  *systray.MenuItem

	mu sync.Mutex

	onOpenInbox func() error
	onQuit      func()
	unsubscribe func()
}

type TrayConfig struct {
	Session     Session
	Logger      *slog.Logger
	OnOpenInbox func() error
	OnQuit      func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		session:     cfg.Session,
		logger:      cfg.Logger,
		onOpenInbox: cfg.OnOpenInbox,
		onQuit:      cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Pipetrace")
	systray.SetTooltip("Pipetrace Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current session status")
	t.statusItem.Disable()

	t.documentItem = systray.AddMenuItem("No document", "Document in this session")
	t.documentItem.Disable()

	t.noticeItem = systray.AddMenuItem("", "Dismiss this message")
	t.noticeItem.Hide()

	systray.AddSeparator()

	t.documentView = systray.AddMenuItemCheckbox("Document Pipeline", "Show the ingestion pipeline", true)
	t.queryView = systray.AddMenuItemCheckbox("Query Pipeline", "Show the query pipeline", false)
	t.queryView.Disable()

	t.dismissItem = systray.AddMenuItem("Hide Answer", "Hide the results panel")
	t.dismissItem.Disable()

	inboxItem := systray.AddMenuItem("Open Inbox...", "Drop a PDF here to process it")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Pipetrace Agent")

	changes, unsubscribe := t.session.Subscribe()
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	t.Refresh(t.session.State())

	go func() {
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
				t.Refresh(t.session.State())
			case <-t.documentView.ClickedCh:
				t.switchView(session.ViewDocument)
			case <-t.queryView.ClickedCh:
				t.switchView(session.ViewQuery)
			case <-t.dismissItem.ClickedCh:
				t.session.DismissResults()
			case <-t.noticeItem.ClickedCh:
				t.session.DismissNotice()
			case <-inboxItem.ClickedCh:
				t.handleOpenInbox()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.mu.Unlock()
	t.logger.Info("system tray exiting")
}

func (t *Tray) switchView(v session.ViewMode) {
	if err := t.session.SwitchView(v); err != nil {
		t.logger.Warn("view switch rejected", "view", v, "error", err)
	}
}

func (t *Tray) handleOpenInbox() {
	if t.onOpenInbox != nil {
		if err := t.onOpenInbox(); err != nil {
			t.logger.Error("failed to open inbox", "error", err)
		}
	}
}

// Refresh redraws the menu from st.
func (t *Tray) Refresh(st session.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}

	m := menuFor(st)
	t.statusItem.SetTitle(m.status)
	systray.SetTooltip(m.tooltip)
	t.documentItem.SetTitle(m.document)

	if m.notice == "" {
		t.noticeItem.Hide()
	} else {
		t.noticeItem.SetTitle(m.notice)
		t.noticeItem.Show()
	}

	setChecked(t.documentView, st.ActiveView == session.ViewDocument)
	setChecked(t.queryView, st.ActiveView == session.ViewQuery)
	setEnabled(t.queryView, st.QueryViewEnabled)
	setEnabled(t.dismissItem, m.resultVisible)
}

func (t *Tray) Quit() {
	systray.Quit()
}

// menu is the platform-independent content of the tray menu.
type menu struct {
	status        string
	tooltip       string
	document      string
	notice        string
	resultVisible bool
}

func menuFor(st session.State) menu {
	label := st.System.Label
	if label == "" {
		label = session.StatusIdle
	}
	m := menu{
		status:   "Status: " + label,
		tooltip:  "Pipetrace Agent: " + label,
		document: "No document",
	}
	if st.Document != "" {
		m.document = "Document: " + st.Document
		if st.Details != nil && st.Details.Visible {
			m.document += fmt.Sprintf(" (%d pages, %d chunks)", st.Details.Pages, st.Details.Chunks)
		}
	}
	if st.Notice != nil {
		m.notice = st.Notice.Message
	}
	m.resultVisible = st.Result != nil && st.Result.Visible
	return m
}

func setChecked(item *systray.MenuItem, on bool) {
	if on {
		item.Check()
	} else {
		item.Uncheck()
	}
}

func setEnabled(item *systray.MenuItem, on bool) {
	if on {
		item.Enable()
	} else {
		item.Disable()
	}
}
