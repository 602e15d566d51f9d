package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for the daemon's chat service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return decode(out, reply)
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusReply, error) {
	var reply StatusReply
	if err := c.invoke(ctx, MethodGetStatus, Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Conversations returns the cached inbox, or the archive.
func (c *Client) Conversations(ctx context.Context, archived bool) (*ConversationsReply, error) {
	var reply ConversationsReply
	if err := c.invoke(ctx, MethodListConversations, ListConversationsRequest{Archived: archived}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// LoadConversations refetches the conversation list from the server.
func (c *Client) LoadConversations(ctx context.Context) (*ConversationsReply, error) {
	var reply ConversationsReply
	if err := c.invoke(ctx, MethodLoadConversations, Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Select makes a conversation active and returns its history.
func (c *Client) Select(ctx context.Context, id string) (*MessagesReply, error) {
	var reply MessagesReply
	if err := c.invoke(ctx, MethodSelectConversation, IDRequest{ID: id}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Start opens a direct conversation with p, or a draft if none exists.
func (c *Client) Start(ctx context.Context, p store.Participant) (store.Conversation, error) {
	var reply ConversationReply
	req := StartConversationRequest{UserID: p.UserID, Username: p.Username, DisplayName: p.DisplayName}
	if err := c.invoke(ctx, MethodStartConversation, req, &reply); err != nil {
		return store.Conversation{}, err
	}
	return reply.Conversation, nil
}

// Messages returns the active conversation's messages.
func (c *Client) Messages(ctx context.Context) (*MessagesReply, error) {
	var reply MessagesReply
	if err := c.invoke(ctx, MethodListMessages, Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Send sends content to the active conversation.
func (c *Client) Send(ctx context.Context, content string, typ store.MessageType, replyTo string) (store.Message, error) {
	var reply MessageReply
	req := SendMessageRequest{Content: content, Type: string(typ), ReplyTo: replyTo}
	if err := c.invoke(ctx, MethodSendMessage, req, &reply); err != nil {
		return store.Message{}, err
	}
	return reply.Message, nil
}

// SetReplyContext marks a message of the active conversation as the
// target of the next send. An empty id clears it.
func (c *Client) SetReplyContext(ctx context.Context, messageID string) error {
	return c.invoke(ctx, MethodSetReplyContext, IDRequest{ID: messageID}, nil)
}

// RetryHistory refetches the active conversation's history.
func (c *Client) RetryHistory(ctx context.Context) (*MessagesReply, error) {
	var reply MessagesReply
	if err := c.invoke(ctx, MethodRetryHistory, Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SetArchived archives or unarchives a conversation.
func (c *Client) SetArchived(ctx context.Context, id string, archived bool) error {
	return c.invoke(ctx, MethodSetArchived, FlagRequest{ID: id, Value: archived}, nil)
}

// SetPinned pins or unpins a conversation.
func (c *Client) SetPinned(ctx context.Context, id string, pinned bool) error {
	return c.invoke(ctx, MethodSetPinned, FlagRequest{ID: id, Value: pinned}, nil)
}

// Delete deletes a conversation.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.invoke(ctx, MethodDeleteConversation, IDRequest{ID: id}, nil)
}

// Search filters conversations by participant name or last message.
func (c *Client) Search(ctx context.Context, query string) (*ConversationsReply, error) {
	var reply ConversationsReply
	if err := c.invoke(ctx, MethodSearchConversations, SearchRequest{Query: query}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

var watchDesc = &grpc.StreamDesc{StreamName: MethodWatchEvents, ServerStreams: true}

// EventStream receives streamed events.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon
// ends the stream.
func (s *EventStream) Recv() (Event, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return Event{}, err
	}
	var evt Event
	if err := decode(out, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Watch opens an event stream. prefix filters by event kind; empty means
// store and connection events. The stream ends when ctx is cancelled.
func (c *Client) Watch(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, watchDesc, fullMethod(MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	in, err := encode(WatchRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// IsEOF reports whether err ends an event stream normally.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
