package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// Empty is the request or response of calls that carry no data.
type Empty struct{}

// StatusReply describes the daemon and its connection.
type StatusReply struct {
	Profile       string    `json:"profile"`
	UserID        string    `json:"userId"`
	Connection    string    `json:"connection"`
	Since         time.Time `json:"since"`
	UptimeMs      int64     `json:"uptimeMs"`
	Conversations int       `json:"conversations"`
	Unread        int       `json:"unread"`
	ActiveID      string    `json:"activeId,omitempty"`
	PendingSends  int       `json:"pendingSends"`
}

// ListConversationsRequest selects the inbox or the archive.
type ListConversationsRequest struct {
	Archived bool `json:"archived"`
}

// ConversationsReply is a conversation list snapshot.
type ConversationsReply struct {
	Conversations []store.Conversation `json:"conversations"`
	ActiveID      string               `json:"activeId,omitempty"`
}

// IDRequest names a conversation or message.
type IDRequest struct {
	ID string `json:"id"`
}

// StartConversationRequest names the counterpart of a direct conversation.
type StartConversationRequest struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ConversationReply carries one conversation.
type ConversationReply struct {
	Conversation store.Conversation `json:"conversation"`
}

// MessagesReply is the active conversation's message snapshot.
type MessagesReply struct {
	ConversationID string          `json:"conversationId,omitempty"`
	Messages       []store.Message `json:"messages"`
	ReplyTo        string          `json:"replyTo,omitempty"`
}

// SendMessageRequest sends to the active conversation.
type SendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// MessageReply carries one message.
type MessageReply struct {
	Message store.Message `json:"message"`
}

// FlagRequest sets a boolean conversation flag.
type FlagRequest struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

// SearchRequest filters conversations by participant or last message.
type SearchRequest struct {
	Query string `json:"query"`
}

// WatchRequest filters streamed events by kind prefix. An empty prefix
// streams store and connection events.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Event is a streamed bus event.
type Event struct {
	ID        string          `json:"id"`
	Profile   string          `json:"profile"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
