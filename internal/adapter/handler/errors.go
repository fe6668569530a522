package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

type errorMapping struct {
	err        error
	code       string
	httpStatus int
	grpcCode   codes.Code
	message    string
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidPrice, "invalid_price", http.StatusBadRequest, codes.InvalidArgument, "price must be positive"},
	{domain.ErrInvalidName, "invalid_name", http.StatusBadRequest, codes.InvalidArgument, "name must not be empty"},
	{domain.ErrInvalidAddress, "invalid_address", http.StatusBadRequest, codes.InvalidArgument, "address must not be empty"},
	{domain.ErrNotFound, "not_found", http.StatusNotFound, codes.NotFound, "item not found"},
	{domain.ErrNotSold, "not_sold", http.StatusNotFound, codes.NotFound, "item has no owner yet"},
	{domain.ErrAlreadySold, "already_sold", http.StatusConflict, codes.FailedPrecondition, "item already sold"},
	{domain.ErrSelfPurchase, "self_purchase", http.StatusForbidden, codes.PermissionDenied, "sellers cannot buy their own items"},
	{domain.ErrPaymentMismatch, "payment_mismatch", http.StatusPaymentRequired, codes.InvalidArgument, "attached value must equal the price"},
	{domain.ErrNothingToWithdraw, "nothing_to_withdraw", http.StatusConflict, codes.FailedPrecondition, "nothing to withdraw"},
	{domain.ErrReentrant, "reentrant", http.StatusLocked, codes.Aborted, "another withdrawal is in progress"},
	{domain.ErrWithdrawFailed, "withdraw_failed", http.StatusBadGateway, codes.Unavailable, "withdraw failed"},
	{domain.ErrDuplicateRequest, "duplicate_request", http.StatusConflict, codes.AlreadyExists, "duplicate request"},
	{domain.ErrBalanceOverflow, "balance_overflow", http.StatusConflict, codes.ResourceExhausted, "proceeds balance would overflow"},
}

var internalError = errorMapping{
	code:       "internal",
	httpStatus: http.StatusInternalServerError,
	grpcCode:   codes.Internal,
	message:    "internal error",
}

func lookupError(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return internalError
}

// grpcError converts a marketplace error to a gRPC status carrying only the mapped
// message. Unknown errors become Internal.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	m := lookupError(err)
	return status.Error(m.grpcCode, m.message)
}
