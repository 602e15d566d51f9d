package sync

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrInvalidParticipant   = errors.New("invalid participant")
)

// FetchError reports a failed listing, history or conversation update
// request. The stores are left as they were.
type FetchError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ConversationID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable is always true: repeating the request is the recovery.
func (e *FetchError) Retryable() bool { return true }

// SendError reports a send the server rejected or that could not be
// delivered. Its optimistic entry has been rolled back.
type SendError struct {
	TempID         string
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// CreateConversationError reports a failed draft promotion. The draft is kept.
type CreateConversationError struct {
	ParticipantID string
	Err           error
}

func (e *CreateConversationError) Error() string {
	return fmt.Sprintf("create conversation with %s: %v", e.ParticipantID, e.Err)
}

func (e *CreateConversationError) Unwrap() error { return e.Err }
