// Package tui provides the live status dashboard: per-resource snapshot
// freshness polled from a running server.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"boardcache/internal/client"
)

// StatusClient is the subset of the API client the dashboard needs.
type StatusClient interface {
	Freshness(ctx context.Context) ([]client.Freshness, error)
}

// Model represents the dashboard state.
type Model struct {
	client   StatusClient
	ctx      context.Context
	interval time.Duration

	entries []client.Freshness
	loaded  bool
	err     error

	spinner spinner.Model
	width   int

	headerStyle  lipgloss.Style
	staleStyle   lipgloss.Style
	freshStyle   lipgloss.Style
	missingStyle lipgloss.Style
	errStyle     lipgloss.Style
	helpStyle    lipgloss.Style
}

type freshnessMsg struct {
	entries []client.Freshness
}

type errMsg struct {
	err error
}

type pollMsg time.Time

// New creates a dashboard model polling c on the given interval.
func New(c StatusClient, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		client:   c,
		ctx:      context.Background(),
		interval: interval,
		spinner:  sp,
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		staleStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		freshStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		missingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		errStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Init starts the spinner and the first poll.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.client.Freshness(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return freshnessMsg{entries: entries}
	}
}

func (m *Model) schedulePoll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case freshnessMsg:
		m.entries = msg.entries
		m.loaded = true
		m.err = nil
		return m, m.schedulePoll()

	case errMsg:
		m.err = msg.err
		m.loaded = true
		return m, m.schedulePoll()

	case pollMsg:
		return m, m.load()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerStyle.Render("boardcache status"))
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString(m.spinner.View())
		b.WriteString(" connecting...\n")
	case m.err != nil:
		b.WriteString(m.errStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	default:
		fmt.Fprintf(&b, "%-10s %-8s %-10s %-8s %s\n", "RESOURCE", "VERSION", "AGE", "RECORDS", "STATE")
		for _, entry := range m.entries {
			b.WriteString(m.renderEntry(entry))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.helpStyle.Render("r: refresh view • q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderEntry(entry client.Freshness) string {
	if !entry.Populated {
		line := fmt.Sprintf("%-10s %-8s %-10s %-8s %s", entry.Resource, "-", "-", "-", "not populated")
		return m.missingStyle.Render(line)
	}

	state := "fresh"
	style := m.freshStyle
	if entry.Stale {
		state = "stale"
		style = m.staleStyle
	}
	if entry.Refreshing {
		state += " " + m.spinner.View() + "refreshing"
	}
	if entry.LastError != "" {
		state += " !" + truncate(entry.LastError, 40)
	}

	line := fmt.Sprintf("%-10s %-8d %-10s %-8d %s",
		entry.Resource, entry.Version, formatAge(entry.AgeSeconds), entry.RecordCount, state)
	return style.Render(line)
}

func formatAge(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// Run starts the dashboard and blocks until the user quits.
func Run(c StatusClient, interval time.Duration) error {
	p := tea.NewProgram(New(c, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
