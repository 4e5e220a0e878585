package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/domain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	badgeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("9")).Padding(0, 1)
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	selfStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	typingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	paneStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))
	focusStyle   = paneStyle.BorderForeground(lipgloss.Color("63"))
)

// Markers appended to optimistic entries.
const (
	PendingMarker = "(sending)"
	FailedMarker  = "(failed, ctrl+r to retry)"
)

func renderMessage(m domain.Message, selfID string) string {
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}
	sender := senderStyle.Render(name)
	if m.SenderID == selfID {
		sender = selfStyle.Render(name)
	}

	var b strings.Builder
	if !m.CreatedAt.IsZero() {
		b.WriteString(timeStyle.Render(m.CreatedAt.Local().Format("15:04")))
		b.WriteByte(' ')
	}
	b.WriteString(sender)
	b.WriteString(": ")
	b.WriteString(m.Body)
	switch m.Status {
	case domain.StatusPending:
		b.WriteByte(' ')
		b.WriteString(pendingStyle.Render(PendingMarker))
	case domain.StatusFailed:
		b.WriteByte(' ')
		b.WriteString(failedStyle.Render(FailedMarker))
	}
	return b.String()
}

func renderMessages(snap chat.Snapshot, selfID string) string {
	if !snap.Selected {
		return statusStyle.Render("Select a channel to start chatting.")
	}
	if snap.Phase == chat.PhaseLoading && len(snap.Messages) == 0 {
		return statusStyle.Render("Loading messages...")
	}
	if len(snap.Messages) == 0 {
		return statusStyle.Render("No messages yet.")
	}
	lines := make([]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		lines = append(lines, renderMessage(m, selfID))
	}
	return strings.Join(lines, "\n")
}

func renderTyping(snap chat.Snapshot) string {
	if snap.Typing == nil {
		return ""
	}
	return typingStyle.Render(fmt.Sprintf("%s is typing...", snap.Typing.Name))
}

func renderHeader(snap chat.Snapshot, badge string, connected bool) string {
	title := "fellowship"
	if snap.Selected {
		title = snap.Channel.Label()
	}
	parts := []string{titleStyle.Render(title)}
	if badge != "" {
		parts = append(parts, badgeStyle.Render(badge))
	}
	if !connected {
		parts = append(parts, errStyle.Render("offline"))
	}
	return strings.Join(parts, " ")
}

// lastFailed returns the id of the newest failed entry.
func lastFailed(msgs []domain.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == domain.StatusFailed {
			return msgs[i].ID, true
		}
	}
	return "", false
}
