package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme    *ui.Theme
	convs    []store.Conversation
	selfID   string
	activeID string
	archived bool
	filter   string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// PageConversations is the page key of the ConversationList view.
const PageConversations = "conversations"

// Page implements Component.
func (cl *ConversationList) Page() string { return PageConversations }

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "p", Description: "Pin/Unpin"},
		{Key: "a", Description: "Archive/Restore"},
		{Key: "A", Description: "Archived"},
		{Key: "r", Description: "Refresh"},
		{Key: "d", Description: "Details"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the rows. activeID marks the open conversation.
func (cl *ConversationList) Update(convs []store.Conversation, selfID, activeID string, archived bool) {
	cl.convs = convs
	cl.selfID = selfID
	cl.activeID = activeID
	cl.archived = archived
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = strings.TrimSpace(filter)
	cl.render()
	cl.Select(1, 0)
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

// Filter returns the active filter text.
func (cl *ConversationList) Filter() string { return cl.filter }

// Visible returns the conversations that pass the filter, in display order.
func (cl *ConversationList) Visible() []store.Conversation {
	if cl.filter == "" {
		return cl.convs
	}
	var out []store.Conversation
	for _, c := range cl.convs {
		if MatchConversation(c, cl.selfID, cl.filter) {
			out = append(out, c)
		}
	}
	return out
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text  string
		exp   int
		align int
	}{
		{"  ", 0, tview.AlignLeft},
		{" NAME", 1, tview.AlignLeft},
		{" LAST MESSAGE", 2, tview.AlignLeft},
		{" NEW", 0, tview.AlignRight},
		{" TIME", 0, tview.AlignRight},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp).
			SetAlign(h.align))
	}

	visible := cl.Visible()
	for i, c := range visible {
		row := i + 1
		fg := cl.theme.FgColor
		if c.IsTemp {
			fg = cl.theme.DraftColor
		}
		marker, markerColor := cl.marker(c)

		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Content
			if c.LastMessage.SenderID != "" && c.LastMessage.SenderID == cl.selfID {
				preview = "You: " + preview
			}
		} else if c.IsTemp {
			preview = "(draft)"
		}

		unread := ""
		unreadAttr := tcell.AttrNone
		if c.UnreadCount > 0 {
			unread = strconv.Itoa(c.UnreadCount)
			unreadAttr = tcell.AttrBold
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+marker).SetTextColor(markerColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.Title(cl.selfID)))).SetExpansion(1).SetTextColor(fg).SetAttributes(unreadAttr))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(firstLine(preview)))).SetExpansion(2).SetTextColor(fg))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetTextColor(cl.theme.UnreadColor).SetAlign(tview.AlignRight).SetAttributes(tcell.AttrBold))
		cl.SetCell(row, 4, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt)).SetTextColor(fg).SetAlign(tview.AlignRight))
	}

	label := "Conversations"
	if cl.archived {
		label = "Archived"
	}
	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" %s (%d/%d) filter: %s ", label, len(visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" %s (%d) ", label, len(cl.convs)))
	}
}

func (cl *ConversationList) marker(c store.Conversation) (string, tcell.Color) {
	switch {
	case c.ID != "" && c.ID == cl.activeID:
		return "▶", cl.theme.TitleColor
	case c.IsTemp:
		return "✎", cl.theme.DraftColor
	case c.IsPinned:
		return "★", cl.theme.PinnedColor
	case c.UnreadCount > 0:
		return "●", cl.theme.UnreadColor
	default:
		return " ", cl.theme.FgColor
	}
}

// SelectedConversation returns the conversation under the cursor.
func (cl *ConversationList) SelectedConversation() (store.Conversation, bool) {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the Nth visible conversation (1-based).
func (cl *ConversationList) ConversationByIndex(n int) (store.Conversation, bool) {
	visible := cl.Visible()
	if n < 1 || n > len(visible) {
		return store.Conversation{}, false
	}
	return visible[n-1], true
}

// MatchConversation reports whether the conversation title, a participant
// or the last message contains filter, case-insensitively.
func MatchConversation(c store.Conversation, selfID, filter string) bool {
	f := strings.ToLower(filter)
	if f == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title(selfID)), f) {
		return true
	}
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(p.Username), f) || strings.Contains(strings.ToLower(p.UserID), f) {
			return true
		}
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), f)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
