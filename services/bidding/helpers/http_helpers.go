package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-marketplace/internal/marketerrors"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message.
// Order matters: a bid on a missing auction wraps both AuctionClosed and AuctionNotFound.
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, marketerrors.ErrInvariantViolation):
		return http.StatusInternalServerError, "internal server error"
	case errors.Is(err, marketerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, marketerrors.ErrWalletNotFound):
		return http.StatusNotFound, "wallet not found"
	case errors.Is(err, marketerrors.ErrNoBids):
		return http.StatusNotFound, "no winning bid found"
	case errors.Is(err, marketerrors.ErrInvalidInput),
		errors.Is(err, marketerrors.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid request details"
	case errors.Is(err, marketerrors.ErrInvalidStartingPrice):
		return http.StatusBadRequest, "starting price must be positive"
	case errors.Is(err, marketerrors.ErrInvalidDuration):
		return http.StatusBadRequest, "invalid auction end time"
	case errors.Is(err, marketerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, marketerrors.ErrAuctionClosed):
		return http.StatusConflict, "auction is closed"
	case errors.Is(err, marketerrors.ErrAuctionHasBids):
		return http.StatusConflict, "auction already has bids"
	case errors.Is(err, marketerrors.ErrWalletExists):
		return http.StatusConflict, "wallet already exists"
	case errors.Is(err, marketerrors.ErrSelfBidNotAllowed):
		return http.StatusForbidden, "seller cannot bid on own auction"
	case errors.Is(err, marketerrors.ErrNotSeller):
		return http.StatusForbidden, "only the seller may cancel this auction"
	case errors.Is(err, marketerrors.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient funds"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondError writes the mapped error. A rejected bid carries the current price
// so the client can retry with a higher amount.
func RespondError(c *gin.Context, err error) (int, string) {
	status, message := MapErrorToHTTP(err)
	if price, ok := marketerrors.CurrentPrice(err); ok {
		utils.JSONErrorWithData(c, status, fmt.Errorf("%s: %w", message, err), message, gin.H{"current_price": price})
		return status, message
	}
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
	return status, message
}

// LogFailure logs at warn for caller-side rejections and at error for server failures
func LogFailure(handlerName, message string, status int, ctx map[string]any) {
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": "+message, ctx)
		return
	}
	utils.Warn(handlerName+": "+message, ctx)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
