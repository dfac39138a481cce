package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// phaseWeights gives each named phase its position in the overall-progress
// bar. Failed and completed rows show a "FAILED" or "done" label instead
// of a bar.
var phaseWeights = map[string]float64{
	"none":         0,
	"recipe_fetch": 1,
	"check":        2,
	"fetch":        3,
	"stage":        4,
	"build":        5,
	"install":      6,
	"deploy":       7,
	"completion":   8,
}

const totalPhases = 8

// Row is one package's dashboard state, folded from the Events the
// dashboard receives.
type Row struct {
	Key      string
	Phase    string
	LastLine string
	Failed   bool
	Err      error
}

// Event is what engine-side collaborators send to the dashboard. Line
// events carry build output; Transition events carry phase changes.
type Event struct {
	Key      string
	Line     string
	Phase    string
	Failed   bool
	Err      error
	IsLine   bool
}

// Model is the bubbletea model driving the package dashboard.
type Model struct {
	styles Styles
	rows   map[string]*Row
	order  []string
	events <-chan Event
	done   bool
	width  int
	prog   progress.Model
}

// New builds a dashboard Model that reads Events from events until the
// channel is closed.
func New(events <-chan Event) Model {
	return Model{
		styles: DefaultStyles(),
		rows:   make(map[string]*Row),
		events: events,
		width:  100,
		prog:   progress.New(progress.WithDefaultGradient()),
	}
}

type eventMsg Event
type channelClosedMsg struct{}

func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.prog.Width = msg.Width - 10
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	case channelClosedMsg:
		m.done = true
		return m, tea.Quit
	case eventMsg:
		m.apply(Event(msg))
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m *Model) apply(ev Event) {
	row, ok := m.rows[ev.Key]
	if !ok {
		row = &Row{Key: ev.Key}
		m.rows[ev.Key] = row
		m.order = append(m.order, ev.Key)
	}
	if ev.IsLine {
		row.LastLine = ev.Line
		return
	}
	row.Phase = ev.Phase
	row.Failed = ev.Failed
	row.Err = ev.Err
}

func (m Model) View() string {
	if len(m.order) == 0 {
		return m.styles.Muted.Render("waiting for packages...") + "\n"
	}

	sorted := make([]string, len(m.order))
	copy(sorted, m.order)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render("envy build") + "\n\n")

	for _, k := range sorted {
		row := m.rows[k]
		sb.WriteString(m.renderRow(row) + "\n")
	}
	sb.WriteString("\n" + m.styles.Muted.Render("q to quit") + "\n")
	return sb.String()
}

func (m Model) renderRow(row *Row) string {
	label := fmt.Sprintf("%-40s", truncate(row.Key, 40))

	if row.Failed {
		status := m.styles.Error.Render("FAILED")
		return fmt.Sprintf("%s %s", m.styles.Bold.Render(label), status)
	}
	if row.Phase == "completion" {
		return fmt.Sprintf("%s %s", m.styles.Bold.Render(label), m.styles.Success.Render("done"))
	}

	frac := phaseWeights[row.Phase] / float64(totalPhases)
	bar := m.prog.ViewAs(frac)
	phaseLabel := m.styles.Info.Render(fmt.Sprintf("%-12s", row.Phase))
	line := ""
	if row.LastLine != "" {
		line = " " + m.styles.Muted.Render(truncate(row.LastLine, 60))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Bold.Render(label), " ", phaseLabel, " ", bar, line)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// RunDashboard blocks until the events channel closes or the user quits.
func RunDashboard(events <-chan Event) error {
	p := tea.NewProgram(New(events))
	_, err := p.Run()
	return err
}

// FormatDuration renders a duration for envy build's final summary line in
// Go duration syntax, rounded to milliseconds under one second and to
// whole seconds otherwise.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
