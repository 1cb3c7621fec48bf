package notify

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	fadingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	stackBox     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// StyleFor returns the text style for a severity.
func StyleFor(sev Severity) lipgloss.Style {
	switch sev {
	case SeveritySuccess:
		return successStyle
	case SeverityError:
		return errorStyle
	default:
		return infoStyle
	}
}

// ViewSlot renders ch's slot, or an empty string when it is hidden.
func (q *Queue) ViewSlot(ch Channel) string {
	n, ok := q.slots[ch]
	if !ok {
		return ""
	}
	return StyleFor(n.Severity).Render(n.Text)
}

// ViewStack renders the floating messages in a box, or an empty string when
// the stack is empty.
func (q *Queue) ViewStack() string {
	if !q.StackVisible() {
		return ""
	}
	lines := make([]string, 0, len(q.stack))
	for _, n := range q.stack {
		if n.Removing {
			lines = append(lines, fadingStyle.Render(n.Text))
			continue
		}
		lines = append(lines, StyleFor(n.Severity).Render(n.Text))
	}
	return stackBox.Render(strings.Join(lines, "\n"))
}
