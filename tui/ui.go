package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type doneMsg struct{}

type model struct {
	viewport   viewport.Model
	builder    *TranscriptBuilder
	logEntries []string
	ready      bool
	results    chan Result
	showLog    bool
}

func initialModel(results chan Result) model {
	return model{
		builder:    NewTranscriptBuilder(),
		logEntries: []string{},
		results:    results,
	}
}

func (m model) Init() tea.Cmd {
	return waitForResult(m.results)
}

func waitForResult(results chan Result) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-results
		if !ok {
			return doneMsg{}
		}
		return r
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case Result:
		m.builder.Add(msg)
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()

		m.logEntries = append(m.logEntries, fmt.Sprintf("%s %d %q",
			getLogPrefix(msg.IsPartial),
			msg.ChunkID,
			msg.Text,
		))

		cmds = append(cmds, waitForResult(m.results))

	case doneMsg:
		return m, tea.Quit
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Live Transcription")
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) footerView() string {
	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Press q to quit, Tab to switch views")
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.builder.Render()
}

func (m model) logView() string {
	var content strings.Builder
	for _, entry := range m.logEntries {
		content.WriteString(entry)
		content.WriteString("\n")
	}
	return content.String()
}

func getLogPrefix(isPartial bool) string {
	if isPartial {
		return "TMP"
	}
	return "FIN"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run displays the live transcript until the results channel closes or
// the user quits.
func Run(results chan Result) error {
	p := tea.NewProgram(initialModel(results))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running transcript UI: %w", err)
	}
	return nil
}
