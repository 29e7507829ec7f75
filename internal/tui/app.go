// Package tui is the interactive chat front end. Questions go to the
// workflow engine in the background; the run history browser reads the
// sqlite audit log the CLI keeps alongside.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/stride/internal/models"
	"github.com/mpataki/stride/internal/storage"
)

type View int

const (
	ViewChat View = iota
	ViewRunList
	ViewRunDetail
)

// AskFunc runs one query end to end and returns its persisted record. The
// TUI never talks to the engine directly; the CLI wires this up.
type AskFunc func(ctx context.Context, query string, includeChart bool) (*models.Run, error)

type chatEntry struct {
	role string // "you" or "stride"
	text string
}

type App struct {
	store *storage.Storage
	ask   AskFunc

	view View

	input        textinput.Model
	spin         spinner.Model
	history      []chatEntry
	busy         bool
	includeChart bool

	runs        []*models.Run
	selectedIdx int
	selectedRun *models.Run
	attempts    []*models.Attempt

	width  int
	height int
	err    error
}

func NewApp(store *storage.Storage, ask AskFunc) *App {
	input := textinput.New()
	input.Placeholder = "Ask about your runs..."
	input.Focus()
	input.CharLimit = 500

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = accentStyle

	return &App{
		store:        store,
		ask:          ask,
		view:         ViewChat,
		input:        input,
		spin:         spin,
		includeChart: true,
	}
}

func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		return a, nil

	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case answerMsg:
		a.busy = false
		if msg.err != nil {
			a.history = append(a.history, chatEntry{role: "stride", text: "Error: " + msg.err.Error()})
			return a, nil
		}
		text := msg.run.Response
		if msg.run.ChartPath != "" {
			text += "\n\n" + dimStyle.Render("chart saved to "+msg.run.ChartPath)
		}
		a.history = append(a.history, chatEntry{role: "stride", text: text})
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		return a, nil

	case runDetailMsg:
		a.selectedRun = msg.run
		a.attempts = msg.attempts
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.runs)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadRuns
	}

	if a.view == ViewChat && !a.busy {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewChat:
		return a.handleChatKey(msg)
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "ctrl+l":
		a.view = ViewRunList
		return a, a.loadRuns

	case "ctrl+g":
		a.includeChart = !a.includeChart
		return a, nil

	case "enter":
		if a.busy {
			return a, nil
		}
		query := strings.TrimSpace(a.input.Value())
		if query == "" {
			return a, nil
		}
		a.history = append(a.history, chatEntry{role: "you", text: query})
		a.input.Reset()
		a.busy = true
		return a, tea.Batch(a.spin.Tick, a.askCmd(query))
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewChat
		a.err = nil

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.attempts = nil

	case "ctrl+c":
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewChat:
		return a.viewChat()
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	youStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewChat() string {
	s := titleStyle.Render("Stride") + "\n\n"

	if len(a.history) == 0 {
		s += dimStyle.Render("Ask a question about your running data.") + "\n"
	}
	for _, entry := range a.history {
		if entry.role == "you" {
			s += youStyle.Render("you: ") + entry.text + "\n\n"
		} else {
			s += accentStyle.Render("stride: ") + entry.text + "\n\n"
		}
	}

	if a.busy {
		s += a.spin.View() + " thinking...\n"
	} else {
		s += a.input.View() + "\n"
	}

	chartHint := "on"
	if !a.includeChart {
		chartHint = "off"
	}
	s += "\n" + helpStyle.Render(fmt.Sprintf("[enter] ask  [ctrl+g] charts: %s  [ctrl+l] history  [ctrl+c] quit", chartHint))

	return s
}

func (a *App) viewRunList() string {
	s := titleStyle.Render("Run History") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet.\n"
	} else {
		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [esc] back")

	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	status := a.formatStatus(run.Status)
	age := formatAge(run.CreatedAt)
	query := truncate(run.Query, 40)
	return fmt.Sprintf("#%-3d %s  %-6s  %s", run.ID, status, age, query)
}

func (a *App) formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running")
	case models.RunStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return string(status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	run := a.selectedRun
	s := titleStyle.Render(fmt.Sprintf("Run #%d", run.ID)) + "  " + a.formatStatus(run.Status) + "\n\n"
	s += run.Query + "\n\n"

	if run.DurationMS > 0 {
		s += labelStyle.Render("Duration: ") + dimStyle.Render(formatDuration(time.Duration(run.DurationMS)*time.Millisecond)) + "\n"
	}
	if run.ChartPath != "" {
		s += labelStyle.Render("Chart: ") + dimStyle.Render(run.ChartPath) + "\n"
	}
	if run.Error != "" {
		s += labelStyle.Render("Error: ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\n"

	s += "Attempts\n"
	s += "────────\n"
	if len(a.attempts) == 0 {
		s += "(no attempts recorded)\n"
	} else {
		for _, att := range a.attempts {
			verdict := statusComplete.Render("✓ accepted")
			if !att.Accepted {
				verdict = statusFailed.Render("✗ " + truncate(att.Reason, 50))
			}
			s += fmt.Sprintf("%s #%d  %s\n", att.Branch, att.AttemptNum, verdict)
		}
	}

	if run.Response != "" {
		s += "\nResponse\n"
		s += "────────\n"
		s += run.Response + "\n"
	}

	s += "\n" + helpStyle.Render("[esc] back  [ctrl+c] quit")

	return s
}

// Messages

type answerMsg struct {
	run *models.Run
	err error
}

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run      *models.Run
	attempts []*models.Attempt
	err      error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) askCmd(query string) tea.Cmd {
	includeChart := a.includeChart
	return func() tea.Msg {
		run, err := a.ask(context.Background(), query, includeChart)
		return answerMsg{run: run, err: err}
	}
}

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(20)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.store.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		attempts, err := a.store.GetAttemptsForRun(id)
		return runDetailMsg{run: run, attempts: attempts, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.store.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
