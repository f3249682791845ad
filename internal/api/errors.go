package api

import (
	"context"
	"errors"

	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/validate"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var initErr *store.InitError
	var syncErr *intsync.SyncError
	switch {
	case errors.Is(err, validate.ErrInvalidArgument):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotInitialized), errors.As(err, &initErr):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &syncErr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
