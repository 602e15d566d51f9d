package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

func sample() []store.Conversation {
	return []store.Conversation{
		{ID: "c1", Participants: []store.Participant{{UserID: "me"}, {UserID: "u1", Username: "ana", DisplayName: "Ana Lima"}},
			LastMessage: &store.Message{ID: "m1", Content: "see you Friday"}, UnreadCount: 2},
		{ID: "c2", IsPinned: true, Participants: []store.Participant{{UserID: "me"}, {UserID: "u2", Username: "bob"}}},
		{IsTemp: true, Participants: []store.Participant{{UserID: "me"}, {UserID: "u3", Username: "zoe"}}},
	}
}

func TestMatchConversation(t *testing.T) {
	c := sample()[0]
	tests := []struct {
		filter string
		want   bool
	}{
		{"", true},
		{"ana lima", true},
		{"ANA", true},
		{"u1", true},
		{"friday", true},
		{"bob", false},
	}
	for _, tt := range tests {
		if got := MatchConversation(c, "me", tt.filter); got != tt.want {
			t.Errorf("MatchConversation(%q) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestConversationListFilterAndIndex(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(sample(), "me", "c1", false)

	if got := len(cl.Visible()); got != 3 {
		t.Fatalf("Visible() = %d rows, want 3", got)
	}
	if c, ok := cl.ConversationByIndex(3); !ok || !c.IsTemp {
		t.Errorf("ConversationByIndex(3) = %+v, %v, want the draft", c, ok)
	}
	if _, ok := cl.ConversationByIndex(4); ok {
		t.Error("index past the end resolved")
	}

	cl.SetFilter("bob")
	if got := cl.Visible(); len(got) != 1 || got[0].ID != "c2" {
		t.Errorf("filtered = %+v", got)
	}
	if c, ok := cl.ConversationByIndex(1); !ok || c.ID != "c2" {
		t.Errorf("ConversationByIndex(1) after filter = %+v, %v", c, ok)
	}
	if !strings.Contains(cl.GetTitle(), "1/3") {
		t.Errorf("title = %q, want filtered count", cl.GetTitle())
	}

	cl.ClearFilter()
	if cl.Filter() != "" || len(cl.Visible()) != 3 {
		t.Errorf("filter not cleared")
	}
}

func TestConversationListMarkers(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(sample(), "me", "c1", false)

	want := []string{"▶", "★", "✎"}
	for i, w := range want {
		if got := strings.TrimSpace(cl.GetCell(i+1, 0).Text); got != w {
			t.Errorf("row %d marker = %q, want %q", i+1, got, w)
		}
	}
	if got := cl.GetCell(1, 3).Text; got != "2" {
		t.Errorf("unread cell = %q, want 2", got)
	}
	if got := cl.GetCell(3, 2).Text; !strings.Contains(got, "(draft)") {
		t.Errorf("draft preview = %q", got)
	}
}

func TestMessageThreadRendering(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme())
	now := time.Now()
	msgs := []store.Message{
		{ID: "m1", SenderID: "u1", Content: "hello there", CreatedAt: now},
		{ID: "m2", SenderID: "me", Content: "hi", ReplyTo: "m1", CreatedAt: now, Status: store.StatusSent},
		{TempID: "t1", Content: "pending", CreatedAt: now, Status: store.StatusSending},
		{TempID: "t2", Content: "lost", CreatedAt: now, Status: store.StatusFailed},
	}
	mt.Update(msgs, "me", "m1")

	text := mt.Messages().GetText(true)
	for _, want := range []string{"#1", "u1", "You", "↪ hello there", "sending", "failed", "replying"} {
		if !strings.Contains(text, want) {
			t.Errorf("thread missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(mt.Composer().GetTitle(), "hello there") {
		t.Errorf("composer title = %q, want reply excerpt", mt.Composer().GetTitle())
	}
	if m, ok := mt.MessageAt(2); !ok || m.ID != "m2" {
		t.Errorf("MessageAt(2) = %+v, %v", m, ok)
	}
	if _, ok := mt.MessageAt(5); ok {
		t.Error("MessageAt past the end resolved")
	}

	mt.Update(nil, "me", "")
	if !strings.Contains(mt.Messages().GetText(true), "No messages") {
		t.Error("empty thread placeholder missing")
	}
	if strings.Contains(mt.Composer().GetTitle(), "Reply") {
		t.Error("reply banner kept after clearing")
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"👍🏻", "👍"},
		{"a\x1b[31mb", "a[31mb"},
		{"line\nnext\tcol", "line\nnext\tcol"},
		{"❤️", "❤"},
	}
	for _, tt := range tests {
		if got := sanitizeForTerminal(tt.in); got != tt.want {
			t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchViewSelection(t *testing.T) {
	sv := NewSearchView(ui.DefaultTheme())
	sv.Update(sample()[:2], "me")

	c, ok := sv.SelectedResult()
	if !ok || c.ID != "c1" {
		t.Errorf("SelectedResult() = %+v, %v, want first row", c, ok)
	}
	sv.Update(nil, "me")
	if _, ok := sv.SelectedResult(); ok {
		t.Error("selection survived an empty result set")
	}
}

func TestViewsArePages(t *testing.T) {
	theme := ui.DefaultTheme()
	thread := NewMessageThread(theme)
	components := []ui.Component{
		NewConversationList(theme), thread, NewConversationInfo(theme), NewHelpView(theme), NewSearchView(theme),
	}
	seen := make(map[string]bool)
	for _, c := range components {
		if c.Page() == "" || seen[c.Page()] {
			t.Errorf("page key %q is empty or duplicated", c.Page())
		}
		seen[c.Page()] = true
		if c.Name() == "" {
			t.Errorf("page %s has no crumb label", c.Page())
		}
	}

	thread.SetTitle("Ana Lima")
	if thread.Name() != "Ana Lima" || thread.Page() != PageThread {
		t.Errorf("thread = %q/%q, want the conversation title on the thread page", thread.Name(), thread.Page())
	}
}
