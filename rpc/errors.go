package rpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/code-payments/iap-bridge/iap"
)

// toStatus maps a bridge error to a gRPC status. The status message is
// prefixed with the wire error code so clients can recover it.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	e, ok := iap.AsError(err)
	if !ok {
		return status.Error(codes.Internal, string(iap.CodeUnknown)+": "+err.Error())
	}

	var code codes.Code
	switch {
	case e.Code == iap.CodeNotPrepared:
		code = codes.FailedPrecondition
	case e.Code == iap.CodeProductNotFound:
		code = codes.NotFound
	case e.Kind == iap.KindValidation:
		code = codes.InvalidArgument
	case e.Kind == iap.KindParse:
		code = codes.Internal
	case e.Code == iap.CodeUserCancelled:
		code = codes.Canceled
	case e.Code == iap.CodeAlreadyOwned:
		code = codes.AlreadyExists
	case e.Code == iap.CodeNotOwned, e.Code == iap.CodeItemUnavailable:
		code = codes.FailedPrecondition
	case e.Code == iap.CodeDeveloperError:
		code = codes.InvalidArgument
	case e.Code == iap.CodeUnknown, e.Code == iap.CodePurchaseFailed:
		code = codes.Internal
	default:
		code = codes.Unavailable
	}
	return status.Error(code, string(e.Code)+": "+e.Message)
}

// remoteError is a bridge error received from a server. It unwraps to the
// *iap.Error and keeps the gRPC status it arrived with.
type remoteError struct {
	err *iap.Error
	st  *status.Status
}

func (e *remoteError) Error() string              { return e.err.Error() }
func (e *remoteError) Unwrap() error              { return e.err }
func (e *remoteError) GRPCStatus() *status.Status { return e.st }

// FromStatus recovers the bridge error carried by a gRPC status, so both
// iap.AsError and status.Code work on the result. Statuses without a wire
// code are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	code, message, found := strings.Cut(st.Message(), ": ")
	if !found || !strings.HasPrefix(code, "E_") {
		return err
	}

	kind := iap.KindNative
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		if iap.Code(code) != iap.CodeNotOwned && iap.Code(code) != iap.CodeItemUnavailable {
			kind = iap.KindValidation
		}
	case codes.Internal:
		if iap.Code(code) == iap.CodeParseError {
			kind = iap.KindParse
		}
	}

	return &remoteError{
		err: &iap.Error{
			Kind:    kind,
			Code:    iap.Code(code),
			Message: message,
		},
		st: st,
	}
}
