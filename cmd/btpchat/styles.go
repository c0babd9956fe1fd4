package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"btplive/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	idStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	unreadStyle = lipgloss.NewStyle().Bold(true)
	readStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func renderMessage(msg models.Message, selfID string) string {
	name := senderStyle.Render(msg.SenderName)
	if msg.SenderID == selfID {
		name = selfStyle.Render(msg.SenderName)
	}
	line := fmt.Sprintf("%s %s %s", timeStyle.Render(msg.Timestamp.Local().Format("15:04")), name, msg.Content)
	if msg.Pending() {
		line += " " + pendingStyle.Render("(envoi…)")
	}
	return line
}

func renderRoster(roster []models.PresenceEntry) string {
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.UserName)
	}
	return statusStyle.Render(fmt.Sprintf("En ligne (%d): %s", len(roster), strings.Join(names, ", ")))
}

func renderTyping(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return statusStyle.Render(names[0] + " est en train d'écrire…")
	default:
		return statusStyle.Render(strings.Join(names, ", ") + " écrivent…")
	}
}

func renderNotification(n models.Notification) string {
	style := readStyle
	marker := " "
	if !n.IsRead {
		style = unreadStyle
		marker = "•"
	}
	line := fmt.Sprintf("%s [%s] %s: %s", marker, n.Type, n.Title, n.Message)
	if n.Link != "" {
		line += " (" + n.Link + ")"
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(n.CreatedAt.Local().Format("02/01 15:04")), style.Render(line), idStyle.Render(n.ID))
}

func renderBadge(label string) string {
	if label == "" {
		return ""
	}
	return badgeStyle.Render(label)
}
