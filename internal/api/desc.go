package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.ChatService"

// Method names.
const (
	MethodGetStatus           = "GetStatus"
	MethodListConversations   = "ListConversations"
	MethodLoadConversations   = "LoadConversations"
	MethodSelectConversation  = "SelectConversation"
	MethodStartConversation   = "StartConversation"
	MethodListMessages        = "ListMessages"
	MethodSendMessage         = "SendMessage"
	MethodSetReplyContext     = "SetReplyContext"
	MethodRetryHistory        = "RetryHistory"
	MethodSetArchived         = "SetArchived"
	MethodSetPinned           = "SetPinned"
	MethodDeleteConversation  = "DeleteConversation"
	MethodSearchConversations = "SearchConversations"
	MethodWatchEvents         = "WatchEvents"
)

// chatServer is the handler type checked by grpc.Server.RegisterService.
type chatServer interface {
	WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error
}

type unaryFunc func(s *ChatService, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// Requests and responses travel as google.protobuf.Struct so the service
// needs no generated code. Each side converts to and from the JSON types
// in types.go.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*chatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, (*ChatService).getStatus),
		unary(MethodListConversations, (*ChatService).listConversations),
		unary(MethodLoadConversations, (*ChatService).loadConversations),
		unary(MethodSelectConversation, (*ChatService).selectConversation),
		unary(MethodStartConversation, (*ChatService).startConversation),
		unary(MethodListMessages, (*ChatService).listMessages),
		unary(MethodSendMessage, (*ChatService).sendMessage),
		unary(MethodSetReplyContext, (*ChatService).setReplyContext),
		unary(MethodRetryHistory, (*ChatService).retryHistory),
		unary(MethodSetArchived, (*ChatService).setArchived),
		unary(MethodSetPinned, (*ChatService).setPinned),
		unary(MethodDeleteConversation, (*ChatService).deleteConversation),
		unary(MethodSearchConversations, (*ChatService).searchConversations),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(chatServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "chatsync/v1/chat.proto",
}

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*ChatService)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Register adds the chat service to a gRPC server.
func Register(srv grpc.ServiceRegistrar, s *ChatService) {
	srv.RegisterService(&serviceDesc, s)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// encode converts a JSON-tagged value into a Struct. v must marshal to a
// JSON object.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// decode fills v from a Struct. A nil Struct leaves v untouched.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
