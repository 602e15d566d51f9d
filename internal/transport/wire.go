package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// The backend is not consistent about identifiers: documents may carry
// "_id" or "id", and references to users or messages arrive either as bare
// id strings or as embedded objects. Everything is normalized here so the
// rest of the client only ever sees store.Message.ID, store.Conversation.ID
// and store.Participant.UserID.

type wireRef struct {
	ID          string          `json:"id"`
	MongoID     string          `json:"_id"`
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	DisplayName string          `json:"displayName"`
	Name        string          `json:"name"`
	User        json.RawMessage `json:"user"`
}

type wireMessage struct {
	ID             string          `json:"id"`
	MongoID        string          `json:"_id"`
	TempID         string          `json:"tempId"`
	ConversationID json.RawMessage `json:"conversationId"`
	Conversation   json.RawMessage `json:"conversation"`
	SenderID       string          `json:"senderId"`
	Sender         json.RawMessage `json:"sender"`
	Content        string          `json:"content"`
	Type           string          `json:"type"`
	ReplyTo        json.RawMessage `json:"replyTo"`
	CreatedAt      json.RawMessage `json:"createdAt"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Status         string          `json:"status"`
}

type wireConversation struct {
	ID            string            `json:"id"`
	MongoID       string            `json:"_id"`
	Participants  []json.RawMessage `json:"participants"`
	LastMessage   json.RawMessage   `json:"lastMessage"`
	LastMessageAt json.RawMessage   `json:"lastMessageAt"`
	UnreadCount   int               `json:"unreadCount"`
	IsPinned      bool              `json:"isPinned"`
	IsArchived    bool              `json:"isArchived"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeParticipant accepts "u1", {"_id":"u1","username":"ana"} and
// {"user":{"_id":"u1",...}}.
func decodeParticipant(raw json.RawMessage) (store.Participant, error) {
	if isNull(raw) {
		return store.Participant{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return store.Participant{UserID: s}, nil
	}
	var ref wireRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return store.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	if !isNull(ref.User) {
		inner, err := decodeParticipant(ref.User)
		if err != nil {
			return store.Participant{}, err
		}
		if inner.UserID != "" {
			return inner, nil
		}
	}
	return store.Participant{
		UserID:      firstNonEmpty(ref.UserID, ref.MongoID, ref.ID),
		Username:    ref.Username,
		DisplayName: firstNonEmpty(ref.DisplayName, ref.Name),
	}, nil
}

// decodeID accepts a bare id string or an object carrying one.
func decodeID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var ref wireRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("decode id: %w", err)
	}
	return firstNonEmpty(ref.MongoID, ref.ID), nil
}

// decodeTime accepts RFC 3339 strings and unix milliseconds.
func decodeTime(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
		}
		return t, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("decode time: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// DecodeMessage parses one message document.
func DecodeMessage(data []byte) (store.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return store.Message{}, fmt.Errorf("decode message: %w", err)
	}

	convID, err := decodeID(w.ConversationID)
	if err != nil {
		return store.Message{}, err
	}
	if convID == "" {
		if convID, err = decodeID(w.Conversation); err != nil {
			return store.Message{}, err
		}
	}
	sender, err := decodeParticipant(w.Sender)
	if err != nil {
		return store.Message{}, err
	}
	replyTo, err := decodeID(w.ReplyTo)
	if err != nil {
		return store.Message{}, err
	}
	createdAt, err := decodeTime(w.CreatedAt)
	if err != nil {
		return store.Message{}, err
	}
	if createdAt.IsZero() {
		if createdAt, err = decodeTime(w.Timestamp); err != nil {
			return store.Message{}, err
		}
	}

	m := store.Message{
		ID:             firstNonEmpty(w.MongoID, w.ID),
		TempID:         w.TempID,
		ConversationID: convID,
		SenderID:       firstNonEmpty(w.SenderID, sender.UserID),
		Content:        w.Content,
		Type:           store.MessageType(w.Type),
		ReplyTo:        replyTo,
		CreatedAt:      createdAt,
		Status:         store.MessageStatus(w.Status),
	}
	if !m.Type.Valid() {
		m.Type = store.TypeText
	}
	// Anything the server hands back with an id has been accepted.
	if m.ID != "" && m.Status != store.StatusFailed {
		m.Status = store.StatusSent
	}
	return m, nil
}

// DecodeConversation parses one conversation document.
func DecodeConversation(data []byte) (store.Conversation, error) {
	var w wireConversation
	if err := json.Unmarshal(data, &w); err != nil {
		return store.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}

	c := store.Conversation{
		ID:          firstNonEmpty(w.MongoID, w.ID),
		UnreadCount: max(w.UnreadCount, 0),
		IsPinned:    w.IsPinned,
		IsArchived:  w.IsArchived,
	}
	for _, raw := range w.Participants {
		p, err := decodeParticipant(raw)
		if err != nil {
			return store.Conversation{}, err
		}
		if p.UserID != "" {
			c.Participants = append(c.Participants, p)
		}
	}
	if !isNull(w.LastMessage) {
		// A bare id reference carries no content worth showing.
		var s string
		if json.Unmarshal(w.LastMessage, &s) != nil {
			m, err := DecodeMessage(w.LastMessage)
			if err != nil {
				return store.Conversation{}, err
			}
			if m.ConversationID == "" {
				m.ConversationID = c.ID
			}
			c.SetLastMessage(&m)
		}
	}
	at, err := decodeTime(w.LastMessageAt)
	if err != nil {
		return store.Conversation{}, err
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	return c, nil
}

// unwrapList returns the array held by data, which is either a bare array
// or an object with the array under one of keys (or under "data").
func unwrapList(data []byte, keys ...string) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	var list []json.RawMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, k := range append(keys, "data") {
		raw, ok := obj[k]
		if !ok || isNull(raw) {
			continue
		}
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			return unwrapList(raw, keys...)
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	return nil, nil
}

// DecodeConversations parses a conversation list response.
func DecodeConversations(data []byte) ([]store.Conversation, error) {
	raws, err := unwrapList(data, "conversations")
	if err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	out := make([]store.Conversation, 0, len(raws))
	for _, raw := range raws {
		c, err := DecodeConversation(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeMessages parses a message list response.
func DecodeMessages(data []byte) ([]store.Message, error) {
	raws, err := unwrapList(data, "messages")
	if err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	out := make([]store.Message, 0, len(raws))
	for _, raw := range raws {
		m, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeCreated parses the create-conversation response:
// {"conversation": {...}, "messages": [...]} or {"conversation": {...}, "message": {...}}.
func DecodeCreated(data []byte) (*Created, error) {
	var w struct {
		Conversation json.RawMessage   `json:"conversation"`
		Messages     []json.RawMessage `json:"messages"`
		Message      json.RawMessage   `json:"message"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode created conversation: %w", err)
	}
	if isNull(w.Conversation) {
		return nil, fmt.Errorf("decode created conversation: response has no conversation")
	}
	conv, err := DecodeConversation(w.Conversation)
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("decode created conversation: conversation has no id")
	}
	raws := w.Messages
	if len(raws) == 0 && !isNull(w.Message) {
		raws = []json.RawMessage{w.Message}
	}
	out := &Created{Conversation: conv}
	for _, raw := range raws {
		m, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		if m.ConversationID == "" {
			m.ConversationID = conv.ID
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}

// DecodeDeleted parses a message:deleted payload, which is either the bare
// message id or an object with the id and its conversation.
func DecodeDeleted(data []byte) (id, conversationID string, err error) {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s, "", nil
	}
	var w struct {
		ID             string          `json:"id"`
		MongoID        string          `json:"_id"`
		MessageID      string          `json:"messageId"`
		ConversationID json.RawMessage `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return "", "", fmt.Errorf("decode deleted message: %w", err)
	}
	conversationID, err = decodeID(w.ConversationID)
	if err != nil {
		return "", "", err
	}
	return firstNonEmpty(w.MessageID, w.MongoID, w.ID), conversationID, nil
}
