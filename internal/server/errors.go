package server

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fleetwatch/beacond/internal/beacon"
	"github.com/fleetwatch/beacond/internal/registry"
	"github.com/fleetwatch/beacond/internal/taskqueue"
)

// toStatus maps core errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	var verr *beacon.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, taskqueue.ErrInvalidTask),
		errors.Is(err, taskqueue.ErrInvalidTaskType),
		errors.Is(err, taskqueue.ErrParamMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, taskqueue.ErrNotFound),
		errors.Is(err, taskqueue.ErrUnknownTaskType):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, taskqueue.ErrTaskTypeExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, taskqueue.ErrAlreadyDispatched):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, beacon.ErrRegistryUnavailable),
		errors.Is(err, registry.ErrUnavailable),
		errors.Is(err, taskqueue.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
