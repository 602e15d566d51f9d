package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays messages and a composer for the active conversation.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	msgs     []store.Message
	selfID   string
	replyTo  string
	onSend   func(text string)
	onCancel func()
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}
	mt.renderComposerTitle()

	composer.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(composer.GetText())
			if text != "" && mt.onSend != nil {
				mt.onSend(text)
				composer.SetText("")
			}
		case tcell.KeyEscape:
			if mt.onCancel != nil {
				mt.onCancel()
			}
		}
	})

	return mt
}

// PageThread is the page key of the MessageThread view.
const PageThread = "thread"

// Page implements Component.
func (mt *MessageThread) Page() string { return PageThread }

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "R", Description: "Retry history"},
		{Key: "x", Description: "Clear reply"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetTitle updates the conversation title shown on the border.
func (mt *MessageThread) SetTitle(title string) {
	mt.title = title
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(title))))
}

// SetOnSend sets the callback when the composer submits text.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnCancel sets the callback when Esc is pressed in the composer.
func (mt *MessageThread) SetOnCancel(fn func()) {
	mt.onCancel = fn
}

// Update renders msgs, oldest first. replyTo is the pending reply target.
func (mt *MessageThread) Update(msgs []store.Message, selfID, replyTo string) {
	mt.msgs = msgs
	mt.selfID = selfID
	mt.replyTo = replyTo
	mt.renderComposerTitle()

	mt.messages.Clear()
	if len(msgs) == 0 {
		_, _ = fmt.Fprintf(mt.messages, "\n [%s]No messages yet.[-]", colorName(mt.theme.DraftColor))
		return
	}
	for i, m := range msgs {
		_, _ = fmt.Fprint(mt.messages, mt.formatMessage(i+1, m))
	}
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) formatMessage(n int, m store.Message) string {
	own := m.SenderID != "" && m.SenderID == mt.selfID
	sender := m.SenderID
	color := mt.theme.PeerColor
	if own || m.TempID != "" {
		sender = "You"
		color = mt.theme.OwnColor
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]#%d[-] [%s::b]%s[-:-:-] [::d]%s[-:-:-]",
		colorName(mt.theme.DraftColor), n,
		colorName(color), tview.Escape(sanitizeForTerminal(sender)),
		formatTimestamp(m.CreatedAt))
	switch m.Status {
	case store.StatusSending:
		fmt.Fprintf(&b, " [%s]⧗ sending[-]", colorName(mt.theme.PendingColor))
	case store.StatusFailed:
		fmt.Fprintf(&b, " [%s]✗ failed[-]", colorName(mt.theme.FailedColor))
	}
	if m.ID != "" && m.ID == mt.replyTo {
		fmt.Fprintf(&b, " [%s]← replying[-]", colorName(mt.theme.TitleColor))
	}
	b.WriteString("\n")

	if m.ReplyTo != "" {
		fmt.Fprintf(&b, "[::d]↪ %s[-:-:-]\n", tview.Escape(sanitizeForTerminal(mt.quote(m.ReplyTo))))
	}
	body := m.Content
	if m.Type != "" && m.Type != store.TypeText {
		body = fmt.Sprintf("[%s] %s", m.Type, body)
	}
	fmt.Fprintf(&b, "%s\n\n", tview.Escape(sanitizeForTerminal(body)))
	return b.String()
}

// quote returns a short excerpt of the message with the given id, or the id
// itself when the message is not loaded.
func (mt *MessageThread) quote(id string) string {
	for _, m := range mt.msgs {
		if m.ID == id {
			r := []rune(firstLine(m.Content))
			if len(r) > 60 {
				return string(r[:59]) + "…"
			}
			return string(r)
		}
	}
	return id
}

func (mt *MessageThread) renderComposerTitle() {
	if mt.replyTo == "" {
		mt.composer.SetTitle(" Compose (i to focus) ")
		return
	}
	mt.composer.SetTitle(fmt.Sprintf(" Reply to: %s (x to clear) ", tview.Escape(sanitizeForTerminal(mt.quote(mt.replyTo)))))
}

// MessageAt returns the message labelled #n in the thread.
func (mt *MessageThread) MessageAt(n int) (store.Message, bool) {
	if n < 1 || n > len(mt.msgs) {
		return store.Message{}, false
	}
	return mt.msgs[n-1], true
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

func colorName(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
