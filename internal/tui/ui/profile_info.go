package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is the daemon status shown in the header.
type ProfileData struct {
	Profile       string
	UserID        string
	Connection    string
	Conversations int
	Unread        int
	PendingSends  int
	Uptime        time.Duration
}

// ProfileInfo displays the profile and connection summary in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the profile info. A nil data shows the daemon as unreachable.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	fgColor := colorName(pi.theme.FgColor)
	if data == nil {
		_, _ = fmt.Fprintf(pi, "[%s::b]Daemon:[-:-:-] [%s]unreachable[-]",
			fgColor, colorName(pi.theme.OfflineColor))
		return
	}

	counterColor := colorName(pi.theme.CounterColor)
	connColor := colorName(pi.theme.ConnectionColor(data.Connection))

	user := data.UserID
	if user == "" {
		user = "-"
	}

	_, _ = fmt.Fprintf(pi,
		"[%s::b]Profile:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Link:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d (%d unread)[-]\n"+
			"[%s::b]Pending:[-:-:-] [%s]%d[-]\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fgColor, counterColor, data.Profile,
		fgColor, counterColor, user,
		fgColor, connColor, data.Connection,
		fgColor, counterColor, data.Conversations, data.Unread,
		fgColor, counterColor, data.PendingSends,
		fgColor, counterColor, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
