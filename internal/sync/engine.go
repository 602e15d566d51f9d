package sync

import (
	"context"
	"errors"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetch operation names, used in FetchError.Op and as metric labels.
const (
	OpList    = "list"
	OpHistory = "history"
	OpArchive = "archive"
	OpPin     = "pin"
	OpDelete  = "delete"
)

// Options tunes the engine.
type Options struct {
	// SelfID is the current user's id. Own messages never count as unread.
	SelfID         string
	RequestTimeout time.Duration
	// SendRate limits sends per second. Zero disables the limit.
	SendRate float64
}

// SendFailure is the payload of bus.SendFailed.
type SendFailure struct {
	TempID         string `json:"tempId"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// Engine is the synchronization core. It owns the conversation and message
// stores and is their only writer: user intents arrive as method calls,
// live events arrive through the bus.
//
// One mutex serializes every state change. Network calls run outside it,
// and every completion re-reads the active selection before applying.
type Engine struct {
	socket  transport.Socket
	api     transport.API
	bus     *bus.Bus
	tracker *outbox.Tracker
	recon   *Reconciler
	metrics *metrics.Metrics
	logger  *zap.Logger
	limiter *rate.Limiter
	opts    Options

	newTempID func() string
	now       func() time.Time

	convs *store.ConversationStore
	msgs  *store.MessageStore

	mu          gosync.Mutex
	activeID    string
	activeDraft string // counterpart user id while a draft is active
	selectSeq   uint64
	replyTo     string
	// ackedTemp maps server ids from socket acks to their temp ids, for
	// live events that come back without the temp id.
	ackedTemp map[string]string

	runMu  gosync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine. recon and m may be nil.
func NewEngine(socket transport.Socket, api transport.API, b *bus.Bus, tracker *outbox.Tracker, recon *Reconciler, m *metrics.Metrics, opts Options, logger *zap.Logger) *Engine {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
		burst = max(int(opts.SendRate), 1)
	}
	return &Engine{
		socket:    socket,
		api:       api,
		bus:       b,
		tracker:   tracker,
		recon:     recon,
		metrics:   m,
		logger:    logging.OrNop(logger).Named("sync"),
		limiter:   rate.NewLimiter(limit, burst),
		opts:      opts,
		newTempID: uuid.NewString,
		now:       time.Now,
		convs:     store.NewConversationStore(),
		msgs:      store.NewMessageStore(),
		ackedTemp: make(map[string]string),
	}
}

// Start subscribes to live socket events and starts the send tracker.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(bus.SocketPrefix, 256)
	e.tracker.Start(ctx, e)

	go func(done chan struct{}) {
		defer close(done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}(e.done)
}

// Stop releases the bus subscription and stops the tracker. No event
// handler runs after Stop returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.tracker.Stop()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.SocketMessageNew:
		if m, ok := evt.Payload.(store.Message); ok {
			e.OnIncomingMessage(m)
		}
	case bus.SocketMessageEdited:
		if m, ok := evt.Payload.(store.Message); ok {
			e.OnMessageEdited(m)
		}
	case bus.SocketMessageDeleted:
		if d, ok := evt.Payload.(transport.MessageDeleted); ok {
			e.OnMessageDeleted(d.ID)
		}
	case bus.SocketConnected:
		e.resync(ctx)
	}
}

// resync rejoins the active room and refetches its history, since live
// events may have been missed while the socket was down.
func (e *Engine) resync(ctx context.Context) {
	e.mu.Lock()
	id, seq := e.activeID, e.selectSeq
	e.mu.Unlock()
	if id == "" {
		return
	}
	if err := e.socket.Join(ctx, id); err != nil {
		e.logger.Warn("failed to rejoin room", zap.String("conversation_id", id), zap.Error(err))
	}
	if err := e.fetchHistory(ctx, seq, id); err != nil {
		e.logger.Warn("resync failed", zap.Error(err))
	}
}

// Bootstrap warms the conversation list from the cache, fetches the real
// one and reopens the last active conversation. Failures are logged.
func (e *Engine) Bootstrap(ctx context.Context) {
	if n := e.recon.Hydrate(e.convs); n > 0 {
		e.logger.Info("conversations restored from cache", zap.Int("count", n))
		e.publish(bus.ConversationsChanged, nil)
	}
	if err := e.LoadConversations(ctx); err != nil {
		e.logger.Warn("initial conversation load failed", zap.Error(err))
	}
	if id := e.recon.LastActive(); id != "" {
		if err := e.SelectConversationByID(ctx, id); err != nil && !errors.Is(err, ErrConversationNotFound) {
			e.logger.Warn("failed to reopen conversation", zap.String("conversation_id", id), zap.Error(err))
		}
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Now(kind, payload))
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.RequestTimeout)
}

// Conversations returns the conversation list. archived selects the
// archived view; drafts belong to the main one.
func (e *Engine) Conversations(archived bool) []store.Conversation {
	all := e.convs.List()
	out := all[:0]
	for _, c := range all {
		if c.IsArchived == archived {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns the active conversation's messages.
func (e *Engine) Messages() []store.Message {
	return e.msgs.List()
}

// Active returns the active conversation, which may be a draft.
func (e *Engine) Active() (store.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

func (e *Engine) activeLocked() (store.Conversation, bool) {
	switch {
	case e.activeID != "":
		if c, ok := e.convs.Get(e.activeID); ok {
			return c, true
		}
		return store.Conversation{ID: e.activeID}, true
	case e.activeDraft != "":
		return e.convs.Draft(e.activeDraft)
	}
	return store.Conversation{}, false
}

// SearchConversations filters the list by participant name or last message
// content, case-insensitively. An empty query matches everything.
func (e *Engine) SearchConversations(query string) []store.Conversation {
	all := e.convs.List()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if conversationMatches(c, q) {
			out = append(out, c)
		}
	}
	return out
}

func conversationMatches(c store.Conversation, q string) bool {
	for _, p := range c.Participants {
		for _, s := range []string{p.Username, p.DisplayName, p.UserID} {
			if s != "" && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), q)
}

// sortConversations puts pinned conversations first, then the most recent.
func sortConversations(convs []store.Conversation) {
	slices.SortStableFunc(convs, func(a, b store.Conversation) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
}

// LoadConversations fetches the conversation list and replaces the store.
// Drafts are kept. Live messages that landed while the request was in
// flight are kept too: a newer local last message wins over the fetched
// one, and a conversation first seen live after the request started stays.
// On failure the store is untouched.
func (e *Engine) LoadConversations(ctx context.Context) error {
	started := e.now()
	rctx, cancel := e.requestContext(ctx)
	convs, err := e.api.ListConversations(rctx)
	cancel()
	if err != nil {
		e.metrics.FetchFailed(OpList)
		return &FetchError{Op: OpList, Err: err}
	}

	e.mu.Lock()
	fetched := make(map[string]bool, len(convs))
	for i := range convs {
		c := &convs[i]
		fetched[c.ID] = true
		local, ok := e.convs.Get(c.ID)
		if ok && local.LastMessage != nil && local.LastMessageAt.After(c.LastMessageAt) {
			c.SetLastMessage(local.LastMessage)
			c.UnreadCount = max(c.UnreadCount, local.UnreadCount)
		}
		if c.ID != "" && c.ID == e.activeID {
			c.UnreadCount = 0
		}
	}
	for _, local := range e.convs.List() {
		if local.IsTemp || fetched[local.ID] || local.LastMessage == nil {
			continue
		}
		if local.LastMessageAt.After(started) {
			convs = append(convs, local)
		}
	}
	sortConversations(convs)
	e.convs.ReplaceAll(convs)
	snapshot := e.convs.List()
	e.mu.Unlock()

	e.recon.SaveConversations(snapshot)
	e.publish(bus.ConversationsChanged, nil)
	return nil
}

// SelectConversation makes conv the active conversation. For a persisted
// conversation it joins the room and loads its history; a history failure
// leaves the message store empty and returns a *FetchError. A result that
// arrives after another selection is dropped.
func (e *Engine) SelectConversation(ctx context.Context, conv store.Conversation) error {
	var counterpart store.Participant
	if conv.ID == "" || conv.IsTemp {
		p, ok := conv.Counterpart(e.opts.SelfID)
		if !ok || p.UserID == "" {
			return ErrInvalidParticipant
		}
		counterpart = p
	}
	draft := counterpart.UserID

	e.mu.Lock()
	prev := e.activeID
	e.selectSeq++
	seq := e.selectSeq
	e.replyTo = ""
	e.msgs.Clear()
	clear(e.ackedTemp)
	if draft != "" {
		e.convs.PutDraft(counterpart)
		e.activeID, e.activeDraft = "", draft
	} else {
		e.activeID, e.activeDraft = conv.ID, ""
		e.convs.Update(conv.ID, func(c *store.Conversation) { c.UnreadCount = 0 })
	}
	connected := e.socket.Connected()
	e.mu.Unlock()

	e.publish(bus.ActiveChanged, conv.ID)
	e.publish(bus.ConversationsChanged, nil)
	e.publish(bus.MessagesChanged, conv.ID)

	if prev != "" && prev != conv.ID && connected {
		if err := e.socket.Leave(ctx, prev); err != nil {
			e.logger.Debug("leave failed", zap.String("conversation_id", prev), zap.Error(err))
		}
	}
	e.recon.SaveActive(conv.ID)
	if draft != "" {
		return nil
	}
	if connected {
		if err := e.socket.Join(ctx, conv.ID); err != nil {
			e.logger.Debug("join failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return e.fetchHistory(ctx, seq, conv.ID)
}

// SelectConversationByID selects a conversation already in the store.
func (e *Engine) SelectConversationByID(ctx context.Context, id string) error {
	c, ok := e.convs.Get(id)
	if !ok {
		return ErrConversationNotFound
	}
	return e.SelectConversation(ctx, c)
}

// StartConversation opens a conversation with participant: an existing
// direct conversation if there is one, otherwise a draft.
func (e *Engine) StartConversation(ctx context.Context, participant store.Participant) (store.Conversation, error) {
	if participant.UserID == "" || participant.UserID == e.opts.SelfID {
		return store.Conversation{}, ErrInvalidParticipant
	}
	if c, ok := e.convs.FindDirect(participant.UserID); ok {
		return c, e.SelectConversation(ctx, c)
	}
	d := e.convs.PutDraft(participant)
	return d, e.SelectConversation(ctx, d)
}

// RetryHistory refetches the active conversation's history. A failure
// leaves the current messages in place.
func (e *Engine) RetryHistory(ctx context.Context) error {
	e.mu.Lock()
	id, draft, seq := e.activeID, e.activeDraft, e.selectSeq
	e.mu.Unlock()
	if id == "" {
		if draft != "" {
			return nil
		}
		return ErrNoActiveConversation
	}
	return e.fetchHistory(ctx, seq, id)
}

func messageKey(m store.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return "tmp:" + m.TempID
}

// fetchHistory loads id's history and applies it if seq is still the
// current selection. Local entries the response cannot know about survive:
// unconfirmed sends, messages that arrived while the request was in
// flight, and anything newer than the newest fetched message. A pending
// send the response already contains is replaced by the fetched copy.
func (e *Engine) fetchHistory(ctx context.Context, seq uint64, id string) error {
	e.mu.Lock()
	before := make(map[string]bool)
	for _, m := range e.msgs.List() {
		before[messageKey(m)] = true
	}
	e.mu.Unlock()

	rctx, cancel := e.requestContext(ctx)
	fetched, err := e.api.GetConversationHistory(rctx, id, transport.Ascending)
	cancel()

	e.mu.Lock()
	if seq != e.selectSeq || id != e.activeID {
		e.mu.Unlock()
		e.metrics.StaleFetch()
		e.logger.Debug("dropping stale history", zap.String("conversation_id", id))
		return nil
	}
	if err != nil {
		e.mu.Unlock()
		e.metrics.FetchFailed(OpHistory)
		return &FetchError{Op: OpHistory, ConversationID: id, Err: err}
	}

	merged := slices.Clone(fetched)
	have := make(map[string]bool, len(merged))
	// settled holds temp ids the response confirms, by echo or by ack.
	settled := make(map[string]bool)
	var newest time.Time
	for i := range merged {
		m := &merged[i]
		if m.ID != "" {
			have[m.ID] = true
		}
		if m.TempID != "" {
			settled[m.TempID] = true
			m.TempID = ""
		}
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}
	for serverID, tempID := range e.ackedTemp {
		if have[serverID] {
			settled[tempID] = true
			delete(e.ackedTemp, serverID)
		}
	}
	for _, m := range e.msgs.List() {
		if m.ID != "" && have[m.ID] {
			continue
		}
		pending := m.ID == "" && m.TempID != ""
		if pending && settled[m.TempID] {
			e.tracker.Untrack(m.TempID)
			continue
		}
		if pending || !before[messageKey(m)] || m.CreatedAt.After(newest) {
			merged = append(merged, m)
		}
	}
	e.msgs.Replace(merged)
	e.mu.Unlock()

	e.publish(bus.MessagesChanged, id)
	return nil
}

// SetReplyContext sets the message the next send replies to. An empty id
// clears it.
func (e *Engine) SetReplyContext(messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeID == "" && e.activeDraft == "" {
		return ErrNoActiveConversation
	}
	if messageID != "" && !e.msgs.HasID(messageID) {
		return ErrMessageNotFound
	}
	e.replyTo = messageID
	return nil
}

// ReplyContext returns the pending reply target.
func (e *Engine) ReplyContext() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replyTo
}

// SendMessage sends content to the active conversation. replyTo overrides
// the pending reply context, which is cleared by every attempt.
//
// A draft is promoted by creating the conversation with this first message.
// Otherwise an optimistic entry is shown at once and the message goes over
// the socket, or over REST when the socket is down. A socket send is
// finalized by the live event, never by the ack.
func (e *Engine) SendMessage(ctx context.Context, content string, typ store.MessageType, replyTo string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyMessage
	}
	if !typ.Valid() {
		typ = store.TypeText
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return store.Message{}, err
	}

	e.mu.Lock()
	if e.activeID == "" && e.activeDraft == "" {
		e.mu.Unlock()
		return store.Message{}, ErrNoActiveConversation
	}
	if replyTo == "" {
		replyTo = e.replyTo
	}
	e.replyTo = ""
	out := transport.OutgoingMessage{Content: content, Type: typ, ReplyTo: replyTo}

	if e.activeID == "" {
		draft := e.activeDraft
		e.mu.Unlock()
		return e.sendToDraft(ctx, draft, out)
	}

	id := e.activeID
	opt := store.Message{
		TempID:         e.newTempID(),
		ConversationID: id,
		SenderID:       e.opts.SelfID,
		Content:        content,
		Type:           typ,
		ReplyTo:        replyTo,
		CreatedAt:      e.now(),
		Status:         store.StatusSending,
	}
	e.msgs.Append(opt)
	e.tracker.Track(opt.TempID, id)
	connected := e.socket.Connected()
	e.mu.Unlock()
	e.publish(bus.MessagesChanged, id)

	out.ConversationID = id
	out.TempID = opt.TempID
	if connected {
		done, err := e.sendLive(ctx, opt, out)
		if done {
			return opt, err
		}
	}
	return e.sendREST(ctx, opt, out)
}

// sendLive emits the message on the socket. It returns done=false only when
// the frame was never written, so the REST path can take over without
// sending the message twice.
func (e *Engine) sendLive(ctx context.Context, opt store.Message, out transport.OutgoingMessage) (bool, error) {
	rctx, cancel := e.requestContext(ctx)
	ack, err := e.socket.SendMessage(rctx, out)
	cancel()

	switch {
	case errors.Is(err, transport.ErrNotConnected):
		return false, nil
	case errors.Is(err, transport.ErrAckTimeout), errors.Is(err, transport.ErrAckLost):
		// The server may still have it. The live event, the resync after
		// reconnect or the tracker settles the entry.
		e.logger.Warn("send not acknowledged", zap.String("temp_id", opt.TempID), zap.Error(err))
		return true, nil
	case err != nil:
		return true, e.rollback(opt, "socket", err)
	case !ack.Success:
		reason := ack.Error
		if reason == "" {
			reason = "rejected by server"
		}
		return true, e.rollback(opt, "rejected", errors.New(reason))
	}

	e.metrics.Sent(metrics.PathSocket)
	if ack.Message == nil || ack.Message.ID == "" {
		return true, nil
	}
	serverID := ack.Message.ID
	e.mu.Lock()
	changed := false
	if e.msgs.HasID(serverID) {
		// The live event won the race without a temp id.
		changed = e.msgs.RemoveByTempID(opt.TempID)
		e.tracker.Untrack(opt.TempID)
	} else if _, pending := e.msgs.FindByTempID(opt.TempID); pending {
		e.ackedTemp[serverID] = opt.TempID
	}
	e.mu.Unlock()
	if changed {
		e.publish(bus.MessagesChanged, opt.ConversationID)
	}
	return true, nil
}

// sendREST posts the message, settles the optimistic entry with the
// response and resyncs the history, since no live event will follow.
func (e *Engine) sendREST(ctx context.Context, opt store.Message, out transport.OutgoingMessage) (store.Message, error) {
	rctx, cancel := e.requestContext(ctx)
	m, err := e.api.SendMessage(rctx, out)
	cancel()
	if err != nil {
		return store.Message{}, e.rollback(opt, "rest", err)
	}

	confirmed := *m
	confirmed.TempID = ""
	confirmed.Status = store.StatusSent
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = opt.ConversationID
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = opt.CreatedAt
	}
	id := opt.ConversationID

	e.mu.Lock()
	e.tracker.Untrack(opt.TempID)
	if e.msgs.HasID(confirmed.ID) {
		e.msgs.RemoveByTempID(opt.TempID)
	} else {
		e.msgs.ReplaceByTempID(opt.TempID, confirmed)
	}
	if e.convs.Update(id, func(c *store.Conversation) { c.SetLastMessage(&confirmed) }) {
		e.convs.MoveToFront(id)
	}
	seq, still := e.selectSeq, e.activeID == id
	e.mu.Unlock()

	e.metrics.Sent(metrics.PathREST)
	e.publish(bus.MessagesChanged, id)
	e.publish(bus.ConversationsChanged, nil)
	if still {
		if err := e.fetchHistory(ctx, seq, id); err != nil {
			e.logger.Warn("resync after send failed", zap.Error(err))
		}
	}
	return confirmed, nil
}

// sendToDraft creates the conversation with out as its first message and
// swaps the draft for it. The draft stays if creation fails.
func (e *Engine) sendToDraft(ctx context.Context, counterpart string, out transport.OutgoingMessage) (store.Message, error) {
	rctx, cancel := e.requestContext(ctx)
	created, err := e.api.CreateConversation(rctx, counterpart, out)
	cancel()
	if err != nil {
		e.metrics.SendFailed(metrics.PathCreate)
		return store.Message{}, &CreateConversationError{ParticipantID: counterpart, Err: err}
	}

	conv := created.Conversation
	msgs := created.Messages
	var last store.Message
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1]
		if conv.LastMessage == nil || !last.CreatedAt.Before(conv.LastMessageAt) {
			conv.SetLastMessage(&last)
		}
	}
	conv.UnreadCount = 0

	e.mu.Lock()
	e.convs.PromoteDraft(counterpart, conv)
	still := e.activeID == "" && e.activeDraft == counterpart
	if still {
		e.selectSeq++
		e.activeID, e.activeDraft = conv.ID, ""
		e.msgs.Replace(msgs)
		clear(e.ackedTemp)
	}
	connected := e.socket.Connected()
	e.mu.Unlock()

	e.metrics.Sent(metrics.PathCreate)
	e.publish(bus.ConversationsChanged, nil)
	if still {
		e.publish(bus.ActiveChanged, conv.ID)
		e.publish(bus.MessagesChanged, conv.ID)
		e.recon.SaveActive(conv.ID)
		if connected {
			if err := e.socket.Join(ctx, conv.ID); err != nil {
				e.logger.Debug("join failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			}
		}
	}
	return last, nil
}

// forgetAcked drops the ack mapping of tempID. Callers hold e.mu.
func (e *Engine) forgetAcked(tempID string) {
	for id, t := range e.ackedTemp {
		if t == tempID {
			delete(e.ackedTemp, id)
		}
	}
}

func (e *Engine) rollback(opt store.Message, reason string, err error) error {
	e.mu.Lock()
	e.tracker.Untrack(opt.TempID)
	removed := e.msgs.RemoveByTempID(opt.TempID)
	e.mu.Unlock()

	e.metrics.SendFailed(reason)
	e.logger.Warn("send failed", zap.String("temp_id", opt.TempID), zap.String("reason", reason), zap.Error(err))
	if removed {
		e.publish(bus.MessagesChanged, opt.ConversationID)
	}
	e.publish(bus.SendFailed, SendFailure{TempID: opt.TempID, ConversationID: opt.ConversationID, Reason: err.Error()})
	return &SendError{TempID: opt.TempID, ConversationID: opt.ConversationID, Err: err}
}

// ExpireSend flags an unconfirmed send as failed. The entry stays visible.
func (e *Engine) ExpireSend(tempID string) bool {
	e.mu.Lock()
	m, ok := e.msgs.FindByTempID(tempID)
	if !ok || m.Status != store.StatusSending {
		e.mu.Unlock()
		return false
	}
	e.msgs.UpdateByTempID(tempID, func(m *store.Message) { m.Status = store.StatusFailed })
	e.forgetAcked(tempID)
	e.mu.Unlock()

	e.metrics.SendFailed("timeout")
	e.publish(bus.MessagesChanged, m.ConversationID)
	e.publish(bus.SendFailed, SendFailure{TempID: tempID, ConversationID: m.ConversationID, Reason: "timed out"})
	return true
}

// OnIncomingMessage applies a live message. For the active conversation it
// is deduplicated by ID, then promoted over the optimistic entry with the
// same temp id, then appended. The owning conversation's last message is
// updated either way; an unknown conversation is inserted at the front.
func (e *Engine) OnIncomingMessage(msg store.Message) {
	if msg.ID == "" || msg.ConversationID == "" {
		e.logger.Warn("dropping live message without ids", zap.String("id", msg.ID), zap.String("conversation_id", msg.ConversationID))
		return
	}

	e.mu.Lock()
	tempID := msg.TempID
	if tempID == "" {
		tempID = e.ackedTemp[msg.ID]
	}
	delete(e.ackedTemp, msg.ID)
	if tempID != "" {
		e.tracker.Untrack(tempID)
	}

	final := msg
	final.TempID = ""
	final.Status = store.StatusSent
	if final.CreatedAt.IsZero() {
		final.CreatedAt = e.now()
		if opt, ok := e.msgs.FindByTempID(tempID); ok {
			final.CreatedAt = opt.CreatedAt
		}
	}

	id := msg.ConversationID
	active := id == e.activeID
	outcome := metrics.OutcomeInactive
	if active {
		switch {
		case e.msgs.HasID(final.ID):
			outcome = metrics.OutcomeDuplicate
			e.msgs.RemoveByTempID(tempID)
		case e.msgs.ReplaceByTempID(tempID, final):
			outcome = metrics.OutcomePromoted
		default:
			e.msgs.Append(final)
			outcome = metrics.OutcomeAppended
		}
	}

	own := final.SenderID != "" && final.SenderID == e.opts.SelfID
	known := e.convs.Update(id, func(c *store.Conversation) {
		dup := c.LastMessage != nil && c.LastMessage.ID == final.ID
		if c.LastMessage == nil || dup || !final.CreatedAt.Before(c.LastMessageAt) {
			c.SetLastMessage(&final)
		}
		if !active && !dup && !own {
			c.UnreadCount++
		}
	})
	if known {
		e.convs.MoveToFront(id)
	} else {
		c := store.Conversation{ID: id}
		if final.SenderID != "" && !own {
			c.Participants = []store.Participant{{UserID: final.SenderID}}
			c.UnreadCount = 1
		}
		if active {
			c.UnreadCount = 0
		}
		c.SetLastMessage(&final)
		e.convs.PutFront(c)
	}
	e.mu.Unlock()

	e.metrics.Incoming(outcome)
	if active {
		e.publish(bus.MessagesChanged, id)
	}
	e.publish(bus.ConversationsChanged, nil)
}

// OnMessageEdited replaces the active conversation's entry with the same ID.
func (e *Engine) OnMessageEdited(msg store.Message) {
	if msg.ID == "" {
		return
	}
	e.mu.Lock()
	if msg.ConversationID == "" {
		msg.ConversationID = e.activeID
	}
	msg.TempID = ""
	msg.Status = store.StatusSent
	replaced := msg.ConversationID == e.activeID && e.msgs.ReplaceByID(msg)
	e.convs.Update(msg.ConversationID, func(c *store.Conversation) {
		if c.LastMessage != nil && c.LastMessage.ID == msg.ID {
			c.SetLastMessage(&msg)
		}
	})
	e.mu.Unlock()

	if replaced {
		e.publish(bus.MessagesChanged, msg.ConversationID)
	}
}

// OnMessageDeleted removes the entry with the given ID, if present.
func (e *Engine) OnMessageDeleted(id string) {
	e.mu.Lock()
	removed := e.msgs.RemoveByID(id)
	conv := e.activeID
	e.mu.Unlock()

	if removed {
		e.publish(bus.MessagesChanged, conv)
	}
}

// SetArchived archives or restores a conversation.
func (e *Engine) SetArchived(ctx context.Context, id string, archived bool) error {
	return e.patch(ctx, OpArchive, id, transport.ConversationPatch{IsArchived: &archived}, func(c *store.Conversation) {
		c.IsArchived = archived
	})
}

// SetPinned pins or unpins a conversation.
func (e *Engine) SetPinned(ctx context.Context, id string, pinned bool) error {
	return e.patch(ctx, OpPin, id, transport.ConversationPatch{IsPinned: &pinned}, func(c *store.Conversation) {
		c.IsPinned = pinned
	})
}

func (e *Engine) patch(ctx context.Context, op, id string, p transport.ConversationPatch, apply func(*store.Conversation)) error {
	if _, ok := e.convs.Get(id); !ok {
		return ErrConversationNotFound
	}
	rctx, cancel := e.requestContext(ctx)
	err := e.api.UpdateConversation(rctx, id, p)
	cancel()
	if err != nil {
		e.metrics.FetchFailed(op)
		return &FetchError{Op: op, ConversationID: id, Err: err}
	}

	e.mu.Lock()
	e.convs.Update(id, apply)
	if op == OpPin {
		e.convs.MoveToFront(id)
	}
	snapshot := e.convs.List()
	e.mu.Unlock()

	e.recon.SaveConversations(snapshot)
	e.publish(bus.ConversationsChanged, nil)
	return nil
}

// DeleteConversation deletes a conversation and clears the selection if it
// was active.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := e.convs.Get(id); !ok {
		return ErrConversationNotFound
	}
	rctx, cancel := e.requestContext(ctx)
	err := e.api.DeleteConversation(rctx, id)
	cancel()
	if err != nil {
		e.metrics.FetchFailed(OpDelete)
		return &FetchError{Op: OpDelete, ConversationID: id, Err: err}
	}

	e.mu.Lock()
	e.convs.Remove(id)
	wasActive := e.activeID == id
	if wasActive {
		e.activeID = ""
		e.selectSeq++
		e.replyTo = ""
		e.msgs.Clear()
		clear(e.ackedTemp)
	}
	connected := e.socket.Connected()
	snapshot := e.convs.List()
	e.mu.Unlock()

	e.recon.SaveConversations(snapshot)
	e.publish(bus.ConversationsChanged, nil)
	if wasActive {
		e.recon.SaveActive("")
		e.publish(bus.ActiveChanged, "")
		e.publish(bus.MessagesChanged, "")
		if connected {
			if err := e.socket.Leave(ctx, id); err != nil {
				e.logger.Debug("leave failed", zap.String("conversation_id", id), zap.Error(err))
			}
		}
	}
	return nil
}
