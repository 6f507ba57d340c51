package repository

import (
	"context"
	"time"

	model "auction-marketplace/internal/models"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mock_repository.go -package=repository . MarketDB,AuctionTx,WalletTx

// AuctionFilter narrows ListAuctions. Empty fields match everything.
type AuctionFilter struct {
	Status     model.AuctionStatus
	CategoryID string
	SellerID   string
}

// Matches reports whether a passes the filter
func (f AuctionFilter) Matches(a model.Auction) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.CategoryID != "" && a.CategoryID != f.CategoryID {
		return false
	}
	if f.SellerID != "" && a.SellerID != f.SellerID {
		return false
	}
	return true
}

// MarketDB defines the storage interface for auctions, bids, wallets and the ledger.
//
// UpdateAuction and UpdateWallet run fn as one atomic unit: the auction (or wallet)
// is locked for the duration of fn and every write staged through the tx handle is
// committed together iff fn returns nil.
type MarketDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error)
	ListDueAuctionIDs(ctx context.Context, now time.Time) ([]string, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error)
	UpdateAuction(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error

	CreateWallet(ctx context.Context, wallet model.Wallet) error
	GetWallet(ctx context.Context, userID string) (model.Wallet, error)
	GetTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	UpdateWallet(ctx context.Context, userID string, fn func(tx WalletTx) error) error
}

// AuctionTx is the view of one locked auction inside UpdateAuction
type AuctionTx interface {
	// Auction returns the auction as staged so far in this unit
	Auction() model.Auction
	// HighestBid returns the current leader, if any
	HighestBid() (model.Bid, bool)
	BidCount() int
	// AcceptBid stores bid and raises the current price to its amount
	AcceptBid(bid model.Bid) error
	// Resolve moves the auction to a terminal status
	Resolve(status model.AuctionStatus, winnerID string, at time.Time) error
	// Wallets locks the named wallets in lexicographic order for the rest of the unit.
	// It may be called at most once per unit.
	Wallets(userIDs ...string) (WalletTx, error)
}

// WalletTx is the view of one or more locked wallets
type WalletTx interface {
	Wallet(userID string) (model.Wallet, error)
	// Append records t and applies t.Amount to the owner's balance
	Append(t model.Transaction) (model.Wallet, error)
	// Transactions returns the locked wallet's ledger, oldest first, including
	// entries appended earlier in this unit
	Transactions(userID string) ([]model.Transaction, error)
}

// applyAmount returns the wallet after adding amount, refusing a negative balance
func applyAmount(w model.Wallet, amount decimal.Decimal, at time.Time) (model.Wallet, bool) {
	next := w.Balance.Add(amount)
	if next.IsNegative() {
		return w, false
	}
	w.Balance = next
	w.UpdatedAt = at
	return w, true
}
