package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tether/types"
)

// Prober performs one health probe and returns the resulting state.
// The status view calls it on every tick.
type Prober func(ctx context.Context) types.HealthState

// probeMsg carries a completed probe result into the model.
type probeMsg struct {
	state types.HealthState
}

// tickMsg schedules the next probe.
type tickMsg time.Time

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "probe now"),
	),
}

// StatusModel is a Bubble Tea model showing live bridge health.
type StatusModel struct {
	addr     string
	prober   Prober
	interval time.Duration

	spinner  spinner.Model
	state    types.HealthState
	probes   int
	width    int
	height   int
	quitting bool
}

// NewStatusModel creates a live status model probing through the given
// prober on the given interval.
func NewStatusModel(addr string, prober Prober, interval time.Duration) StatusModel {
	if interval <= 0 {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return StatusModel{
		addr:     addr,
		prober:   prober,
		interval: interval,
		spinner:  sp,
		state:    types.HealthState{Status: types.HealthDisconnected},
	}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.probeCmd(), m.tickCmd())
}

func (m StatusModel) probeCmd() tea.Cmd {
	prober := m.prober
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return probeMsg{state: prober(ctx)}
	}
}

func (m StatusModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.probeCmd()
		}
		return m, nil

	case probeMsg:
		m.state = msg.state
		m.probes++
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.probeCmd(), m.tickCmd())

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Bridge Status"))
	b.WriteString("\n\n")

	status := string(m.state.Status)
	b.WriteString(fmt.Sprintf("%s %s %s\n",
		LabelStyle.Render("Host:"),
		ValueStyle.Render(m.addr),
		m.spinner.View()))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Health:"),
		HealthStyle(status).Render(status)))

	if m.state.LastRTT > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last RTT:"),
			ValueStyle.Render(m.state.LastRTT.String())))
	}
	if !m.state.LastProbeTime.IsZero() {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last Probe:"),
			ValueStyle.Render(m.state.LastProbeTime.Format("15:04:05"))))
	}

	boxes := []string{
		m.renderStatBox("Probes", fmt.Sprintf("%d", m.probes), highlightColor),
		m.renderStatBox("Failures", fmt.Sprintf("%d", m.state.ConsecutiveFailures), errorColor),
	}
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	help := HelpStyle.Render("Press r to probe now, q to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func (m StatusModel) renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatusTUI runs the live status view until the user quits.
func RunStatusTUI(addr string, prober Prober, interval time.Duration) error {
	p := tea.NewProgram(NewStatusModel(addr, prober, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatusStatic renders one status snapshot without the full TUI.
func RenderStatusStatic(addr string, state types.HealthState) string {
	m := NewStatusModel(addr, nil, time.Second)
	m.state = state
	m.probes = 1
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
