package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Result is one pipeline delivery shown in the UI.
type Result struct {
	ChunkID   uint64
	Text      string
	IsPartial bool
}

// TranscriptBuilder assembles the running transcript view. Finals
// accumulate as lines; the pending partial is replaced in place and
// drawn dark gray until a final supersedes it.
type TranscriptBuilder struct {
	finals  []string
	partial string
}

func NewTranscriptBuilder() *TranscriptBuilder {
	return &TranscriptBuilder{}
}

func (tb *TranscriptBuilder) Add(r Result) {
	if r.IsPartial {
		tb.partial = r.Text
		return
	}
	tb.finals = append(tb.finals, r.Text)
	tb.partial = ""
}

func (tb *TranscriptBuilder) Render() string {
	finalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	partialStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")) // Dark gray foreground for partial transcripts

	var result strings.Builder
	for _, text := range tb.finals {
		result.WriteString(finalStyle.Render(text))
		result.WriteString("\n")
	}
	if tb.partial != "" {
		result.WriteString(partialStyle.Render(tb.partial))
		result.WriteString("\n")
	}
	return result.String()
}
