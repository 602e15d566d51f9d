package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays the key binding and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// PageHelp is the page key of the HelpView view.
const PageHelp = "help"

// Page implements Component.
func (hv *HelpView) Page() string { return PageHelp }

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

type helpEntry struct{ key, text string }

var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{"Global Keys", []helpEntry{
		{":", "Command mode"},
		{"/", "Filter conversations"},
		{"?", "Help"},
		{"Esc", "Cancel / Go back"},
		{"q", "Quit / Back"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Conversation List", []helpEntry{
		{"Enter", "Open conversation"},
		{"1-9", "Open the Nth conversation"},
		{"0", "Clear filter"},
		{"p", "Pin or unpin"},
		{"a", "Archive or restore"},
		{"A", "Toggle archived list"},
		{"r", "Refetch from server"},
		{"d", "Show details"},
	}},
	{"Message Thread", []helpEntry{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"Esc", "Leave composer"},
		{"x", "Clear reply target"},
		{"R", "Retry loading history"},
		{"d", "Show details"},
	}},
	{"Commands", []helpEntry{
		{":new <user> [name]", "Open or draft a direct conversation"},
		{":search <query>", "Search conversations"},
		{":reply <#n|id>", "Reply to a message in the thread"},
		{":reply", "Clear the reply target"},
		{":retry", "Retry loading history"},
		{":pin / :unpin", "Pin state of the selected conversation"},
		{":archive / :unarchive", "Archive state of the selected conversation"},
		{":delete", "Delete the selected conversation"},
		{":archived", "Toggle archived list"},
		{":refresh", "Refetch conversations"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := colorName(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, e := range s.entries {
			fmt.Fprintf(&b, "  [%s]%-24s[-:-:-] %s\n", kc, tview.Escape(e.key), e.text)
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
