package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Tone colors a status badge or notice.
type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneError   Tone = "error"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	fillStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	linkOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	linkOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	classStyles = map[string]lipgloss.Style{
		ClassPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Background(lipgloss.Color("238")).Padding(0, 1),
		ClassActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("33")).Padding(0, 1),
		ClassCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("34")).Padding(0, 1),
		ClassError:     lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Padding(0, 1),
	}

	toneStyles = map[Tone]lipgloss.Style{
		ToneInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("63")).Padding(0, 1),
		ToneSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("34")).Padding(0, 1),
		ToneWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("232")).Background(lipgloss.Color("178")).Padding(0, 1),
		ToneError:   lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Padding(0, 1),
	}
)

const defaultBarWidth = 24

type RenderOptions struct {
	BarWidth int
	// Plain disables styling, for logs and non-terminal output.
	Plain bool
}

// Render draws d as a vertical stage list joined by connectors.
func Render(d Directives, opts RenderOptions) string {
	width := opts.BarWidth
	if width <= 0 {
		width = defaultBarWidth
	}

	titleWidth := 0
	for _, s := range d.Stages {
		if n := len(s.Title); n > titleWidth {
			titleWidth = n
		}
	}

	var b strings.Builder
	for i, s := range d.Stages {
		title := fmt.Sprintf("%-*s", titleWidth, s.Title)
		badge := s.Label
		if !opts.Plain {
			title = titleStyle.Render(title)
			badge = classStyles[s.Class].Render(s.Label)
		} else {
			badge = "[" + badge + "]"
		}
		fmt.Fprintf(&b, "%s  %s %3d%%  %s\n", title, bar(s, width, opts.Plain), s.Fill, badge)

		if i < len(d.Connectors) {
			b.WriteString(connector(d.Connectors[i], opts.Plain))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Badge renders a status label in its tone.
func Badge(label string, tone Tone, plain bool) string {
	if plain {
		return "(" + label + ")"
	}
	style, ok := toneStyles[tone]
	if !ok {
		style = toneStyles[ToneInfo]
	}
	return style.Render(label)
}

func bar(s StageDirective, width int, plain bool) string {
	filled := s.Fill * width / 100
	full := strings.Repeat("█", filled)
	empty := strings.Repeat("░", width-filled)
	if plain {
		return full + empty
	}
	style := fillStyle
	if s.Class == ClassCompleted {
		style = doneStyle
	}
	return style.Render(full) + faintStyle.Render(empty)
}

func connector(c ConnectorDirective, plain bool) string {
	if c.Active {
		line := "  ┃ ▼"
		if plain {
			return line
		}
		return linkOnStyle.Render(line)
	}
	line := "  │"
	if plain {
		return line
	}
	return linkOffStyle.Render(line)
}
