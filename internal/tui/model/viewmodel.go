package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Daemon is the subset of the daemon client the view model drives.
// *api.Client satisfies it.
type Daemon interface {
	Status(ctx context.Context) (*api.StatusReply, error)
	Conversations(ctx context.Context, archived bool) (*api.ConversationsReply, error)
	LoadConversations(ctx context.Context) (*api.ConversationsReply, error)
	Select(ctx context.Context, id string) (*api.MessagesReply, error)
	Start(ctx context.Context, p store.Participant) (store.Conversation, error)
	Messages(ctx context.Context) (*api.MessagesReply, error)
	Send(ctx context.Context, content string, typ store.MessageType, replyTo string) (store.Message, error)
	SetReplyContext(ctx context.Context, messageID string) error
	RetryHistory(ctx context.Context) (*api.MessagesReply, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string) (*api.ConversationsReply, error)
}

// EventSource yields daemon events until it returns an error.
type EventSource interface {
	Recv() (api.Event, error)
}

// ViewModel caches daemon state for the views and signals UI refreshes.
// Watched events trigger the reloads; the views only read snapshots.
type ViewModel struct {
	mu sync.RWMutex

	daemon        Daemon
	status        *api.StatusReply
	conversations []store.Conversation
	activeID      string
	messages      []store.Message
	replyTo       string
	draft         *store.Conversation
	showArchived  bool
	reachable     bool

	Flash *ui.FlashModel

	refreshCh chan struct{}
}

// NewViewModel creates a new view model connected to the daemon.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon:    d,
		Flash:     ui.NewFlashModel(),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status. A failure marks the daemon
// unreachable.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	vm.mu.Lock()
	vm.reachable = err == nil
	if err == nil {
		vm.status = st
		vm.activeID = st.ActiveID
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return err
}

// LoadConversations reads the daemon's in-memory list for the current view.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	vm.mu.RLock()
	archived := vm.showArchived
	vm.mu.RUnlock()
	reply, err := vm.daemon.Conversations(ctx, archived)
	if err != nil {
		return err
	}
	vm.applyConversations(reply)
	return nil
}

// Refresh asks the daemon to refetch the list from the server.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	if _, err := vm.daemon.LoadConversations(ctx); err != nil {
		return err
	}
	return vm.LoadConversations(ctx)
}

func (vm *ViewModel) applyConversations(reply *api.ConversationsReply) {
	vm.mu.Lock()
	vm.conversations = reply.Conversations
	vm.activeID = reply.ActiveID
	vm.mu.Unlock()
	vm.signalRefresh()
}

// ToggleArchived switches between the main and archived lists.
func (vm *ViewModel) ToggleArchived(ctx context.Context) error {
	vm.mu.Lock()
	vm.showArchived = !vm.showArchived
	vm.mu.Unlock()
	return vm.LoadConversations(ctx)
}

// Open makes c the active conversation. A draft is reopened through its
// counterpart since it has no id yet.
func (vm *ViewModel) Open(ctx context.Context, c store.Conversation) error {
	if c.IsTemp || c.ID == "" {
		vm.mu.RLock()
		self := vm.selfIDLocked()
		vm.mu.RUnlock()
		p, ok := c.Counterpart(self)
		if !ok {
			return errors.New("draft has no counterpart")
		}
		return vm.StartWith(ctx, p)
	}
	reply, err := vm.daemon.Select(ctx, c.ID)
	if err != nil {
		return err
	}
	vm.applyMessages(reply)
	return nil
}

// StartWith opens the direct conversation with p, or a draft for it.
func (vm *ViewModel) StartWith(ctx context.Context, p store.Participant) error {
	conv, err := vm.daemon.Start(ctx, p)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.draft = nil
	if conv.IsTemp {
		vm.draft = &conv
	}
	vm.mu.Unlock()
	if conv.IsTemp {
		vm.Flash.Info(fmt.Sprintf("Draft with %s, the first message creates the conversation", p.Name()))
	}
	if err := vm.LoadConversations(ctx); err != nil {
		return err
	}
	return vm.LoadMessages(ctx)
}

// LoadMessages reads the active conversation's messages and reply target.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	reply, err := vm.daemon.Messages(ctx)
	if err != nil {
		return err
	}
	vm.applyMessages(reply)
	return nil
}

func (vm *ViewModel) applyMessages(reply *api.MessagesReply) {
	vm.mu.Lock()
	vm.activeID = reply.ConversationID
	if reply.ConversationID != "" {
		vm.draft = nil
	}
	vm.messages = reply.Messages
	vm.replyTo = reply.ReplyTo
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Send sends text to the active conversation, replying to the current reply
// target if one is set. The optimistic entry arrives through the watch.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	vm.mu.RLock()
	replyTo := vm.replyTo
	vm.mu.RUnlock()
	if _, err := vm.daemon.Send(ctx, text, store.TypeText, replyTo); err != nil {
		return err
	}
	return vm.LoadMessages(ctx)
}

// SetReply sets the reply target; an empty id clears it.
func (vm *ViewModel) SetReply(ctx context.Context, messageID string) error {
	if err := vm.daemon.SetReplyContext(ctx, messageID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.replyTo = messageID
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// RetryHistory refetches the active conversation's messages.
func (vm *ViewModel) RetryHistory(ctx context.Context) error {
	reply, err := vm.daemon.RetryHistory(ctx)
	if err != nil {
		return err
	}
	vm.applyMessages(reply)
	return nil
}

// SetPinned pins or unpins a conversation.
func (vm *ViewModel) SetPinned(ctx context.Context, id string, pinned bool) error {
	if err := vm.daemon.SetPinned(ctx, id, pinned); err != nil {
		return err
	}
	return vm.LoadConversations(ctx)
}

// SetArchived archives or restores a conversation.
func (vm *ViewModel) SetArchived(ctx context.Context, id string, archived bool) error {
	if err := vm.daemon.SetArchived(ctx, id, archived); err != nil {
		return err
	}
	return vm.LoadConversations(ctx)
}

// Delete removes a conversation.
func (vm *ViewModel) Delete(ctx context.Context, id string) error {
	if err := vm.daemon.Delete(ctx, id); err != nil {
		return err
	}
	if err := vm.LoadConversations(ctx); err != nil {
		return err
	}
	return vm.LoadMessages(ctx)
}

// Search returns the conversations matching query.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]store.Conversation, error) {
	reply, err := vm.daemon.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return reply.Conversations, nil
}

// Watch applies events from src until it fails or ctx ends.
func (vm *ViewModel) Watch(ctx context.Context, src EventSource) error {
	for {
		evt, err := src.Recv()
		if err != nil {
			if ctx.Err() != nil || api.IsEOF(err) {
				return nil
			}
			vm.mu.Lock()
			vm.reachable = false
			vm.mu.Unlock()
			vm.signalRefresh()
			return err
		}
		vm.Apply(ctx, evt)
	}
}

// Apply reloads whatever state evt invalidates.
func (vm *ViewModel) Apply(ctx context.Context, evt api.Event) {
	var err error
	switch evt.Kind {
	case bus.ConversationsChanged:
		err = vm.LoadConversations(ctx)
	case bus.MessagesChanged, bus.ActiveChanged:
		err = vm.LoadMessages(ctx)
	case bus.SendFailed:
		var f intsync.SendFailure
		if json.Unmarshal(evt.Payload, &f) == nil {
			vm.Flash.Warn("Send failed: " + f.Reason)
		}
	case bus.ConnectionChanged:
		var ch status.StatusChange
		if json.Unmarshal(evt.Payload, &ch) == nil {
			vm.connectionFlash(ch.To)
		}
		err = vm.LoadStatus(ctx)
	}
	if err != nil && ctx.Err() == nil {
		vm.Flash.Err(err)
	}
}

func (vm *ViewModel) connectionFlash(to status.State) {
	switch to {
	case status.Connected:
		vm.Flash.Info("Connected")
	case status.Reconnecting:
		vm.Flash.Warn("Connection lost, reconnecting")
	case status.Offline:
		vm.Flash.Warn("Offline, sends go over REST")
	}
}

// ShowArchived reports whether the archived list is shown.
func (vm *ViewModel) ShowArchived() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.showArchived
}

// Conversations returns a snapshot of the current list.
func (vm *ViewModel) Conversations() []store.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Messages returns a snapshot of the active conversation's messages.
func (vm *ViewModel) Messages() []store.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// ActiveID returns the active conversation id, empty for none or a draft.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}

// Active returns the active conversation from the cached list, or the draft
// opened last when no id is active.
func (vm *ViewModel) Active() (store.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.activeID == "" {
		if vm.draft != nil {
			return *vm.draft, true
		}
		return store.Conversation{}, false
	}
	for _, c := range vm.conversations {
		if c.ID == vm.activeID {
			return c, true
		}
	}
	return store.Conversation{}, false
}

// ReplyTo returns the pending reply target.
func (vm *ViewModel) ReplyTo() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.replyTo
}

// SelfID returns the user id of the daemon's identity.
func (vm *ViewModel) SelfID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.selfIDLocked()
}

func (vm *ViewModel) selfIDLocked() string {
	if vm.status == nil {
		return ""
	}
	return vm.status.UserID
}

// Profile returns the header data, or nil while the daemon is unreachable.
func (vm *ViewModel) Profile() *ui.ProfileData {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if !vm.reachable || vm.status == nil {
		return nil
	}
	st := vm.status
	return &ui.ProfileData{
		Profile:       st.Profile,
		UserID:        st.UserID,
		Connection:    st.Connection,
		Conversations: st.Conversations,
		Unread:        st.Unread,
		PendingSends:  st.PendingSends,
		Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
	}
}
