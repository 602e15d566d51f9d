package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Socket events come from the live transport, store events
// from the synchronization engine, connection events from the state machine.
const (
	SocketPrefix         = "socket."
	SocketConnected      = "socket.connected"
	SocketDisconnected   = "socket.disconnected"
	SocketMessageNew     = "socket.message_new"
	SocketMessageEdited  = "socket.message_edited"
	SocketMessageDeleted = "socket.message_deleted"

	StorePrefix          = "store."
	ConversationsChanged = "store.conversations_changed"
	MessagesChanged      = "store.messages_changed"
	ActiveChanged        = "store.active_changed"
	SendFailed           = "store.send_failed"

	ConnectionPrefix  = "connection."
	ConnectionChanged = "connection.status_changed"
)

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
