package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"auction-marketplace/internal/marketerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToHTTP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedMsg    string
	}{
		{"not_found", marketerrors.ErrAuctionNotFound, http.StatusNotFound, "auction not found"},
		{"bid_on_missing_auction", fmt.Errorf("service: %w: %w", marketerrors.ErrAuctionClosed, marketerrors.ErrAuctionNotFound), http.StatusNotFound, "auction not found"},
		{"wallet_not_found", marketerrors.ErrWalletNotFound, http.StatusNotFound, "wallet not found"},
		{"no_bids", marketerrors.ErrNoBids, http.StatusNotFound, "no winning bid found"},
		{"invalid_input", marketerrors.ErrInvalidInput, http.StatusBadRequest, "invalid request details"},
		{"invalid_amount", marketerrors.ErrInvalidAmount, http.StatusBadRequest, "invalid request details"},
		{"starting_price", marketerrors.ErrInvalidStartingPrice, http.StatusBadRequest, "starting price must be positive"},
		{"duration", marketerrors.ErrInvalidDuration, http.StatusBadRequest, "invalid auction end time"},
		{"too_low_struct", &marketerrors.BidTooLowError{CurrentPrice: decimal.NewFromInt(5)}, http.StatusConflict, "bid amount too low"},
		{"closed", marketerrors.ErrAuctionClosed, http.StatusConflict, "auction is closed"},
		{"has_bids", marketerrors.ErrAuctionHasBids, http.StatusConflict, "auction already has bids"},
		{"wallet_exists", marketerrors.ErrWalletExists, http.StatusConflict, "wallet already exists"},
		{"self_bid", marketerrors.ErrSelfBidNotAllowed, http.StatusForbidden, "seller cannot bid on own auction"},
		{"not_seller", marketerrors.ErrNotSeller, http.StatusForbidden, "only the seller may cancel this auction"},
		{"funds", fmt.Errorf("wrapped: %w", marketerrors.ErrInsufficientFunds), http.StatusUnprocessableEntity, "insufficient funds"},
		{"invariant_wins", fmt.Errorf("%w: %w", marketerrors.ErrInvariantViolation, marketerrors.ErrInsufficientFunds), http.StatusInternalServerError, "internal server error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, msg := MapErrorToHTTP(tc.err)
			require.Equal(t, tc.expectedStatus, status)
			require.Equal(t, tc.expectedMsg, msg)
		})
	}
}
