// Package ui renders live sync progress in the terminal using bubbletea's
// Elm architecture.
//
// The [Model] is a pure observer: it consumes [tasks.ProgressUpdate] values
// from a channel while the sync run executes in its own goroutine, and never
// feeds anything back into the engine. Closing the channel ends the program.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/tdx/internal/tasks"
)

// Model tracks the state of one observed sync run.
type Model struct {
	bar     progress.Model
	updates <-chan tasks.ProgressUpdate

	title   string
	current tasks.ProgressUpdate

	matched  int
	failed   int
	notFound int

	done bool
}

type updateMsg tasks.ProgressUpdate

type doneMsg struct{}

// NewModel creates an observer over the given update channel.
func NewModel(title string, updates <-chan tasks.ProgressUpdate) *Model {
	return &Model{
		bar:     progress.New(progress.WithDefaultGradient()),
		updates: updates,
		title:   title,
	}
}

// Init starts listening on the update channel.
func (m *Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > 60 {
			width = 60
		}
		if width > 0 {
			m.bar.Width = width
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case updateMsg:
		m.current = tasks.ProgressUpdate(msg)
		if item := m.current.Item; item != nil {
			switch {
			case item.Failed:
				m.failed++
			case item.Matched:
				m.matched++
			default:
				m.notFound++
			}
		}
		return m, m.waitForUpdate()

	case doneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

// View renders the title, the bar for the current phase, and running counts.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	if m.current.Total > 0 {
		percent := float64(m.current.Step) / float64(m.current.Total)
		b.WriteString(m.bar.ViewAs(percent))
		b.WriteString("\n")
	}

	if m.current.Message != "" {
		b.WriteString(m.current.Message)
		b.WriteString("\n")
	}

	counts := fmt.Sprintf(
		"%s  %s  %s",
		styles.ok.Render(fmt.Sprintf("matched %d", m.matched)),
		styles.warn.Render(fmt.Sprintf("not found %d", m.notFound)),
		styles.err.Render(fmt.Sprintf("failed %d", m.failed)),
	)
	b.WriteString("\n")
	b.WriteString(counts)
	b.WriteString("\n")
	if m.done {
		b.WriteString(styles.ok.Render("Done."))
	} else {
		b.WriteString(styles.help.Render("q to quit"))
	}
	b.WriteString("\n")

	return b.String()
}

// Observe runs the progress display until the channel closes. Call from the
// main goroutine while the sync runs elsewhere.
func Observe(title string, updates <-chan tasks.ProgressUpdate) error {
	_, err := tea.NewProgram(NewModel(title, updates)).Run()
	return err
}
