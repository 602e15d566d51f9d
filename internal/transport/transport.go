// Package transport defines the connection contract the synchronization
// engine consumes: a live socket for room membership and acknowledged
// sends, and a request/response API for everything else. Implementations
// live in the ws and rest subpackages.
package transport

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/store"
)

var (
	// ErrNotConnected is returned by socket calls while no connection is up.
	ErrNotConnected = errors.New("socket not connected")
	// ErrAckTimeout is returned when the server never acknowledges a send.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
	// ErrAckLost is returned when the connection drops after a send was
	// written but before its acknowledgement arrived. The server may have
	// stored the message.
	ErrAckLost = errors.New("connection lost before acknowledgement")
)

// Order is the sort direction of a history request.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// OutgoingMessage is a message the user is sending.
type OutgoingMessage struct {
	ConversationID string            `json:"conversationId,omitempty"`
	TempID         string            `json:"tempId,omitempty"`
	Content        string            `json:"content"`
	Type           store.MessageType `json:"type"`
	ReplyTo        string            `json:"replyTo,omitempty"`
}

// Ack is the server's answer to a live send. A rejected send has Success
// false and an Error description.
type Ack struct {
	Success bool
	Message *store.Message
	Error   string
}

// Created is the result of creating a conversation with its first message.
type Created struct {
	Conversation store.Conversation
	Messages     []store.Message
}

// ConversationPatch updates conversation flags. Nil fields are left alone.
type ConversationPatch struct {
	IsArchived *bool `json:"isArchived,omitempty"`
	IsPinned   *bool `json:"isPinned,omitempty"`
}

// Socket is the live connection. Incoming events are published on the bus
// by the implementation, not returned from these calls.
type Socket interface {
	Connected() bool
	Join(ctx context.Context, conversationID string) error
	Leave(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, msg OutgoingMessage) (Ack, error)
}

// API is the request/response path.
type API interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	GetConversationHistory(ctx context.Context, conversationID string, order Order) ([]store.Message, error)
	CreateConversation(ctx context.Context, participantID string, first OutgoingMessage) (*Created, error)
	SendMessage(ctx context.Context, msg OutgoingMessage) (*store.Message, error)
	UpdateConversation(ctx context.Context, conversationID string, patch ConversationPatch) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// MessageDeleted is the payload of a live deletion event.
type MessageDeleted struct {
	ID             string
	ConversationID string
}
