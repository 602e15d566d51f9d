package api

import (
	"context"
	"errors"

	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var (
		fetchErr  *intsync.FetchError
		sendErr   *intsync.SendError
		createErr *intsync.CreateConversationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.As(err, &fetchErr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.As(err, &createErr):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &sendErr):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, intsync.ErrNoActiveConversation):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, intsync.ErrConversationNotFound), errors.Is(err, intsync.ErrMessageNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, intsync.ErrEmptyMessage), errors.Is(err, intsync.ErrInvalidParticipant):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}
