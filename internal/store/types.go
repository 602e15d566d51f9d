package store

import "time"

// MessageType is the content kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message as seen by this client.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Participant is a user taking part in a conversation. UserID is the only
// field used for identity comparisons.
type Participant struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Name returns the best human-readable label for the participant.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return p.UserID
}

// Message is a chat message. An optimistic message carries TempID and no ID
// until the server confirms it.
type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"tempId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId,omitempty"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         MessageStatus `json:"status"`
}

// Conversation is a conversation summary. A temp draft has an empty ID.
type Conversation struct {
	ID            string        `json:"id,omitempty"`
	Participants  []Participant `json:"participants"`
	LastMessage   *Message      `json:"lastMessage,omitempty"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	UnreadCount   int           `json:"unreadCount"`
	IsPinned      bool          `json:"isPinned"`
	IsArchived    bool          `json:"isArchived"`
	IsTemp        bool          `json:"isTemp"`
}

// SetLastMessage points the conversation at m and derives LastMessageAt from it.
func (c *Conversation) SetLastMessage(m *Message) {
	if m == nil {
		c.LastMessage = nil
		return
	}
	cp := *m
	c.LastMessage = &cp
	c.LastMessageAt = m.CreatedAt
}

// HasParticipant reports whether userID is one of the participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the first participant that is not selfID.
func (c *Conversation) Counterpart(selfID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

// Title returns a display label built from participants other than selfID.
func (c *Conversation) Title(selfID string) string {
	var names []string
	for _, p := range c.Participants {
		if p.UserID == selfID && len(c.Participants) > 1 {
			continue
		}
		names = append(names, p.Name())
	}
	if len(names) == 0 {
		return c.ID
	}
	title := names[0]
	for _, n := range names[1:] {
		title += ", " + n
	}
	return title
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}
