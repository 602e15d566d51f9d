package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// fakeDaemon records calls and serves canned replies.
type fakeDaemon struct {
	mu       sync.Mutex
	calls    []string
	convs    []store.Conversation
	archived []store.Conversation
	active   string
	msgs     []store.Message
	replyTo  string
	started  store.Conversation
	sent     []string
	err      error
}

func (f *fakeDaemon) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeDaemon) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeDaemon) Status(context.Context) (*api.StatusReply, error) {
	if err := f.record("Status"); err != nil {
		return nil, err
	}
	return &api.StatusReply{Profile: "p", UserID: "me", Connection: "CONNECTED", ActiveID: f.active, UptimeMs: 120000}, nil
}

func (f *fakeDaemon) Conversations(_ context.Context, archived bool) (*api.ConversationsReply, error) {
	if err := f.record("Conversations"); err != nil {
		return nil, err
	}
	if archived {
		return &api.ConversationsReply{Conversations: f.archived, ActiveID: f.active}, nil
	}
	return &api.ConversationsReply{Conversations: f.convs, ActiveID: f.active}, nil
}

func (f *fakeDaemon) LoadConversations(context.Context) (*api.ConversationsReply, error) {
	if err := f.record("LoadConversations"); err != nil {
		return nil, err
	}
	return &api.ConversationsReply{Conversations: f.convs, ActiveID: f.active}, nil
}

func (f *fakeDaemon) Select(_ context.Context, id string) (*api.MessagesReply, error) {
	if err := f.record("Select"); err != nil {
		return nil, err
	}
	f.active = id
	return &api.MessagesReply{ConversationID: id, Messages: f.msgs}, nil
}

func (f *fakeDaemon) Start(_ context.Context, p store.Participant) (store.Conversation, error) {
	if err := f.record("Start"); err != nil {
		return store.Conversation{}, err
	}
	return f.started, nil
}

func (f *fakeDaemon) Messages(context.Context) (*api.MessagesReply, error) {
	if err := f.record("Messages"); err != nil {
		return nil, err
	}
	return &api.MessagesReply{ConversationID: f.active, Messages: f.msgs, ReplyTo: f.replyTo}, nil
}

func (f *fakeDaemon) Send(_ context.Context, content string, _ store.MessageType, replyTo string) (store.Message, error) {
	if err := f.record("Send"); err != nil {
		return store.Message{}, err
	}
	f.sent = append(f.sent, content+"|"+replyTo)
	return store.Message{TempID: "t1", Content: content, Status: store.StatusSending}, nil
}

func (f *fakeDaemon) SetReplyContext(_ context.Context, id string) error {
	if err := f.record("SetReplyContext"); err != nil {
		return err
	}
	f.replyTo = id
	return nil
}

func (f *fakeDaemon) RetryHistory(ctx context.Context) (*api.MessagesReply, error) {
	if err := f.record("RetryHistory"); err != nil {
		return nil, err
	}
	return &api.MessagesReply{ConversationID: f.active, Messages: f.msgs}, nil
}

func (f *fakeDaemon) SetArchived(context.Context, string, bool) error { return f.record("SetArchived") }
func (f *fakeDaemon) SetPinned(context.Context, string, bool) error   { return f.record("SetPinned") }
func (f *fakeDaemon) Delete(context.Context, string) error            { return f.record("Delete") }

func (f *fakeDaemon) Search(_ context.Context, q string) (*api.ConversationsReply, error) {
	if err := f.record("Search"); err != nil {
		return nil, err
	}
	var out []store.Conversation
	for _, c := range f.convs {
		if strings.Contains(c.Title("me"), q) {
			out = append(out, c)
		}
	}
	return &api.ConversationsReply{Conversations: out}, nil
}

func conv(id, peer string) store.Conversation {
	return store.Conversation{ID: id, Participants: []store.Participant{{UserID: "me"}, {UserID: peer, Username: peer}}}
}

// sliceEvents replays a fixed list of events, then reports EOF.
type sliceEvents struct {
	events []api.Event
	err    error
}

func (s *sliceEvents) Recv() (api.Event, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return api.Event{}, s.err
		}
		return api.Event{}, io.EOF
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, nil
}

func event(t *testing.T, kind string, payload any) api.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return api.Event{Kind: kind, Payload: raw}
}

func TestOpenLoadsThread(t *testing.T) {
	d := &fakeDaemon{
		convs: []store.Conversation{conv("c1", "ana")},
		msgs:  []store.Message{{ID: "m1", ConversationID: "c1", Content: "hi"}},
	}
	vm := NewViewModel(d)
	ctx := context.Background()
	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if err := vm.LoadConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if err := vm.Open(ctx, d.convs[0]); err != nil {
		t.Fatal(err)
	}

	if vm.ActiveID() != "c1" || len(vm.Messages()) != 1 {
		t.Fatalf("active = %q, messages = %d", vm.ActiveID(), len(vm.Messages()))
	}
	c, ok := vm.Active()
	if !ok || c.Title(vm.SelfID()) != "ana" {
		t.Errorf("Active() = %+v, %v", c, ok)
	}
	select {
	case <-vm.RefreshCh():
	default:
		t.Error("no refresh signalled")
	}
}

func TestOpenDraftGoesThroughStart(t *testing.T) {
	draft := store.Conversation{IsTemp: true, Participants: []store.Participant{{UserID: "me"}, {UserID: "u9", Username: "zoe"}}}
	d := &fakeDaemon{started: draft, convs: []store.Conversation{draft}}
	vm := NewViewModel(d)
	ctx := context.Background()
	_ = vm.LoadStatus(ctx)

	if err := vm.Open(ctx, draft); err != nil {
		t.Fatal(err)
	}
	if d.called("Start") != 1 || d.called("Select") != 0 {
		t.Errorf("calls = %v, want Start and no Select", d.calls)
	}
	c, ok := vm.Active()
	if !ok || !c.IsTemp {
		t.Errorf("Active() = %+v, %v, want the draft", c, ok)
	}
	if msg := vm.Flash.GetMessage(); msg == nil || !strings.Contains(msg.Text, "zoe") {
		t.Errorf("flash = %+v, want a draft notice", msg)
	}
}

func TestSendUsesReplyTarget(t *testing.T) {
	d := &fakeDaemon{active: "c1"}
	vm := NewViewModel(d)
	ctx := context.Background()

	if err := vm.SetReply(ctx, "m7"); err != nil {
		t.Fatal(err)
	}
	if err := vm.Send(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if len(d.sent) != 1 || d.sent[0] != "hello|m7" {
		t.Errorf("sent = %v, want reply to m7", d.sent)
	}
	if vm.ReplyTo() != "m7" {
		t.Errorf("ReplyTo() = %q", vm.ReplyTo())
	}
}

func TestToggleArchivedSwitchesList(t *testing.T) {
	d := &fakeDaemon{
		convs:    []store.Conversation{conv("c1", "ana")},
		archived: []store.Conversation{conv("c2", "bob"), conv("c3", "cy")},
	}
	vm := NewViewModel(d)
	ctx := context.Background()

	if err := vm.ToggleArchived(ctx); err != nil {
		t.Fatal(err)
	}
	if !vm.ShowArchived() || len(vm.Conversations()) != 2 {
		t.Errorf("archived view = %v with %d rows", vm.ShowArchived(), len(vm.Conversations()))
	}
	if err := vm.ToggleArchived(ctx); err != nil {
		t.Fatal(err)
	}
	if vm.ShowArchived() || len(vm.Conversations()) != 1 {
		t.Errorf("inbox view = %v with %d rows", vm.ShowArchived(), len(vm.Conversations()))
	}
}

func TestWatchAppliesEvents(t *testing.T) {
	d := &fakeDaemon{convs: []store.Conversation{conv("c1", "ana")}, active: "c1"}
	vm := NewViewModel(d)
	ctx := context.Background()

	src := &sliceEvents{events: []api.Event{
		{Kind: bus.ConversationsChanged},
		{Kind: bus.MessagesChanged},
		event(t, bus.SendFailed, intsync.SendFailure{TempID: "t1", ConversationID: "c1", Reason: "boom"}),
	}}
	if err := vm.Watch(ctx, src); err != nil {
		t.Fatalf("Watch() error = %v, want nil on EOF", err)
	}
	if d.called("Conversations") != 1 || d.called("Messages") != 1 {
		t.Errorf("calls = %v", d.calls)
	}
	if msg := vm.Flash.GetMessage(); msg == nil || msg.Text != "Send failed: boom" {
		t.Errorf("flash = %+v", msg)
	}
}

func TestConnectionEventReloadsStatus(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	vm.Apply(context.Background(), event(t, bus.ConnectionChanged, status.StatusChange{From: status.Connected, To: status.Reconnecting}))

	if d.called("Status") != 1 {
		t.Errorf("calls = %v, want a status reload", d.calls)
	}
	if msg := vm.Flash.GetMessage(); msg == nil || !strings.Contains(msg.Text, "reconnecting") {
		t.Errorf("flash = %+v", msg)
	}
	p := vm.Profile()
	if p == nil || p.Connection != "CONNECTED" || p.UserID != "me" {
		t.Errorf("Profile() = %+v", p)
	}
}

func TestWatchFailureMarksUnreachable(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	ctx := context.Background()
	_ = vm.LoadStatus(ctx)
	if vm.Profile() == nil {
		t.Fatal("profile missing after status load")
	}

	boom := errors.New("connection reset")
	if err := vm.Watch(ctx, &sliceEvents{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("Watch() error = %v, want %v", err, boom)
	}
	if vm.Profile() != nil {
		t.Error("profile still shown after the stream failed")
	}
}

func TestApplyFlashesReloadErrors(t *testing.T) {
	d := &fakeDaemon{err: errors.New("daemon gone")}
	vm := NewViewModel(d)
	vm.Apply(context.Background(), api.Event{Kind: bus.ConversationsChanged})

	if msg := vm.Flash.GetMessage(); msg == nil || msg.Text != "daemon gone" {
		t.Errorf("flash = %+v", msg)
	}
}
