package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gastown/pkg/protocol"
)

// tickMsg is sent on every refresh interval.
type tickMsg time.Time

// feedMsg carries a fetched feed page plus the rig list.
// err is set when the fetch failed; the previous page stays on screen.
type feedMsg struct {
	page *feedPage
	rigs []protocol.Rig
	err  error
}

// refreshInterval is the polling fallback when fsnotify is unavailable.
const refreshInterval = 5 * time.Second

// tickCmd returns a command that sends a tickMsg after the interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd returns a tea.Cmd that fetches the rig list and feed page.
func fetchCmd(src *dataSource, since string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rigs, err := src.fetchRigs(ctx)
		if err != nil {
			return feedMsg{err: err}
		}
		page, err := src.fetchFeed(ctx, since, 0)
		if err != nil {
			return feedMsg{err: err}
		}
		return feedMsg{page: page, rigs: rigs}
	}
}

// Model is the Bubble Tea model for the gastown dashboard.
type Model struct {
	src   *dataSource
	theme Theme

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	loading  bool

	rigs   []protocol.Rig
	events []protocol.TaggedEvent
	page   *feedPage
	err    error

	width  int
	height int
}

// newModel creates a dashboard model wired to the given data source.
func newModel(src *dataSource) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		src:     src,
		theme:   DefaultTheme(),
		spinner: sp,
		loading: true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, fetchCmd(m.src, ""), tickCmd()}
	if watch := watchDBDir(); watch != nil {
		cmds = append(cmds, watch)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, fetchCmd(m.src, "")
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		m.viewport.SetContent(m.renderEvents())

	case feedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.rigs = msg.rigs
		m.page = msg.page
		m.events = msg.page.Events
		if m.ready {
			atBottom := m.viewport.AtBottom()
			m.viewport.SetContent(m.renderEvents())
			if atBottom {
				m.viewport.GotoBottom()
			}
		}

	case fsChangeMsg:
		cmds := []tea.Cmd{fetchCmd(m.src, "")}
		if watch := watchDBDir(); watch != nil {
			cmds = append(cmds, watch)
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.src, ""), tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.renderEvents())
	}
	return b.String()
}

// renderHeader draws the town summary line and any fetch error.
func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).
		Render("gastown " + m.src.townID)
	status := fmt.Sprintf("  %d rig(s), %d event(s)", len(m.rigs), len(m.events))
	if m.page != nil && m.page.Partial {
		status += lipgloss.NewStyle().Foreground(m.theme.Warning).
			Render(fmt.Sprintf("  [%d rig(s) unavailable]", m.page.OmittedRigs))
	}
	if m.loading {
		status += " " + m.spinner.View()
	}
	line := title + status
	if m.err != nil {
		line += "\n" + lipgloss.NewStyle().Foreground(m.theme.Error).
			Render("fetch error: "+m.err.Error())
	}
	help := lipgloss.NewStyle().Foreground(m.theme.Muted).
		Render("j/k scroll · r refresh · q quit")
	return line + "\n" + help + "\n"
}

// renderEvents formats the feed, one event per line, newest last.
func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("no activity yet")
	}
	var b strings.Builder
	rigStyle := lipgloss.NewStyle().Foreground(m.theme.Secondary).Width(12)
	timeStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)
	for _, ev := range m.events {
		typeStyle := lipgloss.NewStyle().Foreground(m.theme.eventColor(string(ev.Type)))
		fmt.Fprintf(&b, "%s %s %s %s\n",
			timeStyle.Render(shortTime(ev.CreatedAt)),
			rigStyle.Render(ev.RigName),
			typeStyle.Render(string(ev.Type)),
			eventDetail(ev),
		)
	}
	return b.String()
}

// shortTime trims a feed timestamp down to HH:MM:SS for display.
func shortTime(ts string) string {
	t, err := time.Parse(protocol.TimestampLayout, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

// eventDetail picks the most useful one-line description for an event.
func eventDetail(ev protocol.TaggedEvent) string {
	switch {
	case ev.Type == protocol.EventMailSent:
		if subject, ok := ev.Metadata["subject"].(string); ok {
			return subject
		}
	case ev.Type == protocol.EventEscalated:
		if category, ok := ev.Metadata["category"].(string); ok {
			return category
		}
	case ev.OldValue != "" || ev.NewValue != "":
		return strings.TrimSpace(ev.OldValue + " -> " + ev.NewValue)
	}
	return ev.BeadID
}
