// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"beatzero/internal/bus"
	"beatzero/internal/frame"
	"beatzero/internal/onset"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// hintHold is how long, in stream time, a kick or hi-hat stays lit.
const hintHold = 150 * time.Millisecond

const barWidth = 30

var (
	onsetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#E0475B")).
			Padding(0, 1).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0475B")).
			Bold(true)
)

type frameMsg frame.AnalysisFrame

type endMsg struct{ status error }

type liveKeys struct {
	Quit key.Binding
}

func (k liveKeys) ShortHelp() []key.Binding { return []key.Binding{k.Quit} }
func (k liveKeys) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Quit}} }

// LiveModel is the live analysis view: per-method onset state, pitch,
// tempo, band energies and drum hints of the newest frame.
type LiveModel struct {
	title   string
	methods []onset.Method
	table   table.Model
	help    help.Model
	keys    liveKeys

	last      frame.AnalysisFrame
	hasFrame  bool
	onsets    int
	hints     frame.Hints
	hintsAt   time.Duration
	lastOnset time.Duration

	ended  bool
	status error
	stats  func() bus.Stats
}

// NewLiveModel creates the view for the given onset methods. stats, when
// not nil, supplies bus counters for the footer.
func NewLiveModel(title string, methods []onset.Method, stats func() bus.Stats) LiveModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Method", Width: 10},
			{Title: "Fired", Width: 6},
		}),
		table.WithHeight(len(methods)+1),
		table.WithFocused(false),
	)
	m := LiveModel{
		title:   title,
		methods: methods,
		table:   t,
		help:    help.New(),
		keys: liveKeys{
			Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		stats: stats,
	}
	m.table.SetRows(m.methodRows())
	return m
}

func (m LiveModel) Init() tea.Cmd { return nil }

func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		f := frame.AnalysisFrame(msg)
		m.last, m.hasFrame = f, true
		if f.Onset.Onset {
			m.onsets++
			m.lastOnset = f.Timestamp
			if f.Hints != 0 {
				m.hints, m.hintsAt = f.Hints, f.Timestamp
			}
		}
		if f.Timestamp-m.hintsAt > hintHold {
			m.hints = 0
		}
		m.table.SetRows(m.methodRows())

	case endMsg:
		m.ended, m.status = true, msg.status

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m LiveModel) methodRows() []table.Row {
	rows := make([]table.Row, len(m.methods))
	for i, method := range m.methods {
		fired := ""
		if m.last.Onset.Methods.Has(method) {
			fired = "●"
		}
		rows[i] = table.Row{method.String(), fired}
	}
	return rows
}

func (m LiveModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	if !m.hasFrame {
		sb.WriteString(dimStyle.Render("Waiting for audio..."))
		sb.WriteString("\n")
	} else {
		f := m.last
		onsetLabel := dimStyle.Render("  ·  ")
		if f.Onset.Onset {
			onsetLabel = onsetStyle.Render("ONSET")
		}
		fmt.Fprintf(&sb, "%s  %8.2fs  onsets %d  confidence %.2f\n\n",
			onsetLabel, f.Timestamp.Seconds(), m.onsets, f.Onset.Confidence)

		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			m.table.View(), "    ", m.summary(f)))
		sb.WriteString("\n\n")
		sb.WriteString(m.bandBars(f))
	}

	sb.WriteString("\n")
	if m.ended {
		if m.status != nil {
			sb.WriteString(errorStyle.Render("Stream failed: " + m.status.Error()))
		} else {
			sb.WriteString(infoStyle.Render("Stream ended."))
		}
		sb.WriteString("\n")
	}
	if m.stats != nil {
		s := m.stats()
		sb.WriteString(dimStyle.Render(fmt.Sprintf("frames %d  dropped %d", s.Published, s.Dropped())))
		sb.WriteString("\n")
	}
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m LiveModel) summary(f frame.AnalysisFrame) string {
	var sb strings.Builder
	if f.BPM > 0 {
		fmt.Fprintf(&sb, "Tempo  %s (%.2f)\n", highlightStyle.Render(fmt.Sprintf("%.1f BPM", f.BPM)), f.BPMConfidence)
	} else {
		sb.WriteString("Tempo  " + dimStyle.Render("--") + "\n")
	}
	if f.Pitch.Valid {
		fmt.Fprintf(&sb, "Pitch  %s %.1f Hz (%.2f)\n", highlightStyle.Render(f.Pitch.Note), f.Pitch.Hz, f.Pitch.Confidence)
	} else {
		sb.WriteString("Pitch  " + dimStyle.Render("--") + "\n")
	}
	fmt.Fprintf(&sb, "Level  %s\n", bar(f.Level, barWidth))

	kick, hihat := dimStyle.Render("kick"), dimStyle.Render("hihat")
	if m.hints.Has(frame.HintKick) {
		kick = onsetStyle.Render("KICK")
	}
	if m.hints.Has(frame.HintHiHat) {
		hihat = onsetStyle.Render("HIHAT")
	}
	fmt.Fprintf(&sb, "Drums  %s %s\n", kick, hihat)
	return sb.String()
}

func (m LiveModel) bandBars(f frame.AnalysisFrame) string {
	var sb strings.Builder
	for i := range f.Bands.Len() {
		name, v := f.Bands.At(i)
		fmt.Fprintf(&sb, "%-6s %s %.2f\n", name, bar(v, barWidth), v)
	}
	return sb.String()
}

// bar renders v in [0, 1] as a horizontal bar of width cells.
func bar(v float64, width int) string {
	n := int(v*float64(width) + 0.5)
	n = max(0, min(width, n))
	return highlightStyle.Render(strings.Repeat("█", n)) + dimStyle.Render(strings.Repeat("░", width-n))
}

// LiveConsumer forwards frames from a bus subscription to a running
// program.
type LiveConsumer struct {
	program *tea.Program
}

func NewLiveConsumer(p *tea.Program) *LiveConsumer {
	return &LiveConsumer{program: p}
}

func (c *LiveConsumer) Receive(f frame.AnalysisFrame) error {
	c.program.Send(frameMsg(f))
	return nil
}

func (c *LiveConsumer) Finish(status error) error {
	c.program.Send(endMsg{status: status})
	return nil
}

var _ bus.Finisher = (*LiveConsumer)(nil)
