package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService exposes the synchronization engine over gRPC.
type ChatService struct {
	profile   string
	selfID    string
	engine    *intsync.Engine
	machine   *status.Machine
	tracker   *outbox.Tracker
	bus       *bus.Bus
	startedAt time.Time
	logger    *zap.Logger
}

// NewChatService creates the service. tracker may be nil.
func NewChatService(profile, selfID string, engine *intsync.Engine, machine *status.Machine, tracker *outbox.Tracker, b *bus.Bus, logger *zap.Logger) *ChatService {
	return &ChatService{
		profile:   profile,
		selfID:    selfID,
		engine:    engine,
		machine:   machine,
		tracker:   tracker,
		bus:       b,
		startedAt: time.Now(),
		logger:    logging.OrNop(logger).Named("api"),
	}
}

func badRequest(err error) error {
	return grpcstatus.Errorf(codes.InvalidArgument, "bad request: %v", err)
}

func (s *ChatService) getStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	convs := s.engine.Conversations(false)
	reply := StatusReply{
		Profile:       s.profile,
		UserID:        s.selfID,
		Connection:    string(s.machine.Current()),
		Since:         s.machine.Since(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Conversations: len(convs),
	}
	for _, c := range convs {
		reply.Unread += c.UnreadCount
	}
	if active, ok := s.engine.Active(); ok {
		reply.ActiveID = active.ID
	}
	if s.tracker != nil {
		reply.PendingSends = len(s.tracker.Pending())
	}
	return encode(reply)
}

func (s *ChatService) listConversations(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListConversationsRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	return s.conversationsReply(s.engine.Conversations(req.Archived))
}

func (s *ChatService) loadConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.LoadConversations(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.conversationsReply(s.engine.Conversations(false))
}

func (s *ChatService) conversationsReply(convs []store.Conversation) (*structpb.Struct, error) {
	reply := ConversationsReply{Conversations: convs}
	if reply.Conversations == nil {
		reply.Conversations = []store.Conversation{}
	}
	if active, ok := s.engine.Active(); ok {
		reply.ActiveID = active.ID
	}
	return encode(reply)
}

func (s *ChatService) selectConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	if req.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	// On a history failure the conversation stays selected and the
	// caller may RetryHistory.
	if err := s.engine.SelectConversationByID(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return s.messagesReply()
}

func (s *ChatService) startConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StartConversationRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	conv, err := s.engine.StartConversation(ctx, store.Participant{
		UserID:      req.UserID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(ConversationReply{Conversation: conv})
}

func (s *ChatService) listMessages(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.messagesReply()
}

func (s *ChatService) messagesReply() (*structpb.Struct, error) {
	reply := MessagesReply{
		Messages: s.engine.Messages(),
		ReplyTo:  s.engine.ReplyContext(),
	}
	if reply.Messages == nil {
		reply.Messages = []store.Message{}
	}
	if active, ok := s.engine.Active(); ok {
		reply.ConversationID = active.ID
	}
	return encode(reply)
}

func (s *ChatService) sendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendMessageRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	m, err := s.engine.SendMessage(ctx, req.Content, store.MessageType(req.Type), req.ReplyTo)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(MessageReply{Message: m})
}

func (s *ChatService) setReplyContext(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	if err := s.engine.SetReplyContext(req.ID); err != nil {
		return nil, toStatus(err)
	}
	return encode(Empty{})
}

func (s *ChatService) retryHistory(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.RetryHistory(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.messagesReply()
}

func (s *ChatService) setArchived(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req FlagRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	if err := s.engine.SetArchived(ctx, req.ID, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return encode(Empty{})
}

func (s *ChatService) setPinned(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req FlagRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	if err := s.engine.SetPinned(ctx, req.ID, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return encode(Empty{})
}

func (s *ChatService) deleteConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	if err := s.engine.DeleteConversation(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return encode(Empty{})
}

func (s *ChatService) searchConversations(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, badRequest(err)
	}
	return s.conversationsReply(s.engine.SearchConversations(req.Query))
}

// WatchEvents streams store and connection events until the client leaves.
func (s *ChatService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return badRequest(err)
	}

	// One unfiltered subscription covers both namespaces.
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !watched(evt.Kind, req.Prefix) {
				continue
			}
			out, err := s.eventToStruct(evt)
			if err != nil {
				s.logger.Warn("drop unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func watched(kind, prefix string) bool {
	if prefix != "" {
		return strings.HasPrefix(kind, prefix)
	}
	return strings.HasPrefix(kind, bus.StorePrefix) || strings.HasPrefix(kind, bus.ConnectionPrefix)
}

func (s *ChatService) eventToStruct(evt bus.Event) (*structpb.Struct, error) {
	out := Event{
		ID:        uuid.New().String(),
		Profile:   s.profile,
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
	}
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = data
	}
	return encode(out)
}
