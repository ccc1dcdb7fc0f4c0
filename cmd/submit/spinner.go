package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ditto-assistant/txt2img/types/rp"
)

type statusMsg string

type doneMsg struct {
	status rp.JobStatus
	err    error
}

// waitModel shows a spinner and the latest job status until the job is done.
type waitModel struct {
	spinner  spinner.Model
	status   string
	done     *doneMsg
	canceled bool
}

func newWaitModel() waitModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return waitModel{spinner: s, status: "submitting"}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.canceled = true
			return m, tea.Quit
		}
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case doneMsg:
		m.done = &msg
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m waitModel) View() string {
	if m.done != nil || m.canceled {
		return ""
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.status)
}
