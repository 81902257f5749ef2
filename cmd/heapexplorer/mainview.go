package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// MainViewModel wraps the main UI (region map + stats) for use as overlay background
type MainViewModel struct {
	model *Model
}

func NewMainViewModel(m *Model) *MainViewModel {
	return &MainViewModel{model: m}
}

func (m *MainViewModel) Init() tea.Cmd {
	return nil
}

// Update is a no-op; the parent Model handles all messages
func (m *MainViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

func (m *MainViewModel) View() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.model.renderHeader(),
		m.model.renderContent(),
		m.model.renderStatus(),
	)
}
