package marketerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrWalletExists    = errors.New("wallet already exists")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrNoBids          = errors.New("no bids found for auction")
)

// validation errors, caller mistakes
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidStartingPrice = errors.New("invalid starting price")
	ErrInvalidDuration      = errors.New("invalid auction duration")
)

// state errors, terminal for the call
var (
	ErrAuctionClosed     = errors.New("auction closed")
	ErrSelfBidNotAllowed = errors.New("seller cannot bid on own auction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotSeller         = errors.New("only the seller may change this auction")
	ErrAuctionHasBids    = errors.New("auction already has bids")
)

// contention
var ErrBidTooLow = errors.New("bid amount too low")

// ErrInvariantViolation marks state that the bidding rules should have made unreachable
var ErrInvariantViolation = errors.New("invariant violation")

// BidTooLowError carries the current price observed inside the atomic section,
// so the caller can retry with a higher amount.
type BidTooLowError struct {
	CurrentPrice decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: current price is %s", ErrBidTooLow, e.CurrentPrice.String())
}

// Is makes errors.Is(err, ErrBidTooLow) hold
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// CurrentPrice extracts the price reported by a BidTooLowError anywhere in err's chain
func CurrentPrice(err error) (decimal.Decimal, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.CurrentPrice, true
	}
	return decimal.Decimal{}, false
}
