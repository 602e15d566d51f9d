package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// PageDetails is the page key of the ConversationInfo view.
const PageDetails = "details"

// Page implements Component.
func (ci *ConversationInfo) Page() string { return PageDetails }

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c store.Conversation, selfID string) {
	ci.Clear()

	fg := colorName(ci.theme.FgColor)
	ct := colorName(ci.theme.CounterColor)

	id := c.ID
	if c.IsTemp {
		id = "(draft, created on first send)"
	}
	var people []string
	for _, p := range c.Participants {
		label := p.Name()
		if p.Username != "" && p.Username != label {
			label += " @" + p.Username
		}
		if p.UserID == selfID {
			label += " (you)"
		}
		people = append(people, label)
	}
	last := "-"
	if c.LastMessage != nil {
		last = firstLine(c.LastMessage.Content)
	}
	active := formatTimestamp(c.LastMessageAt)
	if active == "" {
		active = "-"
	}

	row := func(label, value string) string {
		return fmt.Sprintf(" [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, tview.Escape(sanitizeForTerminal(value)))
	}
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(row("Title", c.Title(selfID)))
	b.WriteString(row("ID", id))
	b.WriteString(row("Participants", strings.Join(people, ", ")))
	b.WriteString(row("Unread", fmt.Sprint(c.UnreadCount)))
	b.WriteString(row("Pinned", yesNo(c.IsPinned)))
	b.WriteString(row("Archived", yesNo(c.IsArchived)))
	b.WriteString(row("Last Active", active))
	b.WriteString(row("Last Message", last))

	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeForTerminal(c.Title(selfID)))))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
