// Package tui renders a job's lifecycle as a full-screen bubbletea view.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// StateMsg carries a lifecycle transition into the program.
type StateMsg struct {
	State lifecycle.State
}

// DoneMsg reports that the lifecycle run has ended.
type DoneMsg struct {
	Err   error
	State lifecycle.State
}

// steps lists the phases shown as a checklist, in order.
var steps = []lifecycle.Phase{
	lifecycle.PhaseSubmitted,
	lifecycle.PhaseWaitingUploaded,
	lifecycle.PhaseClassifying,
	lifecycle.PhaseWaitingTerminal,
	lifecycle.PhaseCompleted,
}

// Model is the progress view.
type Model struct {
	started  time.Time
	err      error
	detach   func()
	theme    Theme
	keymap   KeyMap
	title    string
	state    lifecycle.State
	spinner  spinner.Model
	seen     map[lifecycle.Phase]bool
	done     bool
	detached bool
}

// NewModel creates the view. detach is called when the user leaves before
// the job has finished.
func NewModel(title string, detach func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = DefaultTheme.Spinner

	return Model{
		title:   title,
		detach:  detach,
		theme:   DefaultTheme,
		keymap:  DefaultKeyMap(),
		spinner: s,
		seen:    make(map[lifecycle.Phase]bool),
		started: time.Now(),
		state:   lifecycle.State{Phase: lifecycle.PhaseIdle},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.observe(msg.State)
		return m, nil

	case DoneMsg:
		m.observe(msg.State)
		m.done = true
		m.err = msg.Err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.ForceQuit):
			m.leave()
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Quit) && m.done:
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Detach):
			m.leave()
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) observe(s lifecycle.State) {
	// A fresh map keeps copies of the model independent.
	seen := make(map[lifecycle.Phase]bool, len(m.seen)+1)
	for k, v := range m.seen {
		seen[k] = v
	}
	seen[s.Phase] = true
	m.seen = seen
	m.state = s
}

func (m *Model) leave() {
	if m.done || m.detached {
		return
	}
	m.detached = true
	if m.detach != nil {
		m.detach()
	}
}

// State returns the last observed lifecycle state.
func (m Model) State() lifecycle.State {
	return m.state
}

// Detached reports whether the user left before the job finished.
func (m Model) Detached() bool {
	return m.detached
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render(m.title))
	b.WriteString("\n")
	if m.state.JobID != "" {
		b.WriteString(m.theme.Phase.Render("Job " + m.state.JobID))
		b.WriteString("\n\n")
	}

	current := m.state.Phase
	for _, step := range steps {
		line := "  " + step.Description()
		switch {
		case step == current && !current.IsTerminal() && m.state.Err == nil:
			line = m.spinner.View() + " " + m.theme.PhaseActive.Render(step.Description())
		case m.seen[step]:
			line = m.theme.PhaseDone.Render("✓ " + step.Description())
		default:
			line = m.theme.Phase.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case current == lifecycle.PhaseCompleted:
		b.WriteString(m.theme.Success.Render("Classification complete"))
	case current == lifecycle.PhaseFailed:
		b.WriteString(m.theme.Error.Render("✗ " + m.state.Failure))
	case m.state.Err != nil:
		b.WriteString(m.theme.Error.Render(fmt.Sprintf("✗ Stopped: %v", m.state.Err)))
	case m.err != nil:
		b.WriteString(m.theme.Error.Render(fmt.Sprintf("✗ Stopped: %v", m.err)))
	default:
		b.WriteString(m.theme.Phase.Render(fmt.Sprintf("Elapsed %s", time.Since(m.started).Round(time.Second))))
	}

	help := "d: detach • ctrl+c: quit"
	if m.done {
		help = "q: quit"
	}
	b.WriteString("\n")
	b.WriteString(m.theme.Help.Render(help))

	return m.theme.Box.Render(b.String())
}
