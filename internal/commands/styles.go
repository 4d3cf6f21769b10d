package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lalith-99/dmstream/internal/chat"
)

var (
	colorGreen  = lipgloss.Color("#9ece6a")
	colorYellow = lipgloss.Color("#e0af68")
	colorBlue   = lipgloss.Color("#7aa2f7")
	colorGray   = lipgloss.Color("#565f89")
)

var (
	selfStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	peerStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	timeStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			PaddingLeft(1)
)

// formatMessage renders one chat line: "15:04 name: content".
func formatMessage(m chat.MessagePayload, selfID int64, peerName string) string {
	name, style := peerName, peerStyle
	switch {
	case m.SenderID == selfID:
		name, style = "you", selfStyle
	case m.SenderName != "":
		name = m.SenderName
	case name == "":
		name = "#" + strconv.FormatInt(m.SenderID, 10)
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(clock(m.CreatedAt)), style.Render(name+":"), m.Content)
}

// clock shortens an RFC 3339 timestamp to local HH:MM.
func clock(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04")
}
