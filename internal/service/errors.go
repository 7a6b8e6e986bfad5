package service

import (
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/pkg/api"
)

// connectCode maps a domain error kind to its RPC status.
func connectCode(kind apperr.Kind) connect.Code {
	switch kind {
	case apperr.KindInvalidAmount, apperr.KindInvalidArgument:
		return connect.CodeInvalidArgument
	case apperr.KindInvalidStateTransition,
		apperr.KindGroupNotActive,
		apperr.KindCycleNotFunded,
		apperr.KindNoEligibleMembers,
		apperr.KindInsufficientBalance:
		return connect.CodeFailedPrecondition
	case apperr.KindAlreadyMember, apperr.KindDuplicateIdempotencyKey:
		return connect.CodeAlreadyExists
	case apperr.KindUnauthorized:
		return connect.CodePermissionDenied
	case apperr.KindDrawInProgress:
		return connect.CodeAborted
	case apperr.KindNotFound:
		return connect.CodeNotFound
	case apperr.KindGroupFull:
		return connect.CodeResourceExhausted
	default:
		return connect.CodeInternal
	}
}

// httpStatus maps a domain error kind to a webhook response status.
func httpStatus(kind apperr.Kind) int {
	switch connectCode(kind) {
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeFailedPrecondition, connect.CodeAlreadyExists, connect.CodeAborted:
		return http.StatusConflict
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// toConnectError converts err to a Connect error carrying its kind in the
// error metadata. Internal errors are logged and their detail withheld.
func toConnectError(op string, err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	kind := apperr.KindOf(err)
	code := connectCode(kind)

	var out *connect.Error
	if code == connect.CodeInternal {
		slog.Error(op+" failed", "error", err)
		out = connect.NewError(code, errors.New("internal error"))
	} else {
		slog.Warn(op+" rejected", "kind", kind, "error", apperr.MessageOf(err))
		out = connect.NewError(code, errors.New(apperr.MessageOf(err)))
	}
	out.Meta().Set(api.ErrorKindKey, string(kind))
	return out
}

// unauthenticated is returned when a handler runs without a member in context.
func unauthenticated() error {
	return connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
}
