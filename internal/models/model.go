package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction. Only active is non-terminal.
type AuctionStatus string

const (
	StatusActive    AuctionStatus = "active"
	StatusSold      AuctionStatus = "sold"
	StatusExpired   AuctionStatus = "expired"
	StatusCancelled AuctionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSold, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s
func (s AuctionStatus) Terminal() bool {
	return s != StatusActive
}

// Auction is one listed item and its bidding state.
// CurrentPrice, Status and WinnerID are written only by the bidding and lifecycle services.
type Auction struct {
	AuctionID     string          `json:"auction_id"`
	SellerID      string          `json:"seller_id"`
	CategoryID    string          `json:"category_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EndTime       time.Time       `json:"end_time"`
	Status        AuctionStatus   `json:"status"`
	WinnerID      string          `json:"winner_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Bid is an accepted bid. Bids are never altered once stored.
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Outranks reports whether b leads other: higher amount first, earlier timestamp on a tie
func (b Bid) Outranks(other Bid) bool {
	if c := b.Amount.Cmp(other.Amount); c != 0 {
		return c > 0
	}
	return b.CreatedAt.Before(other.CreatedAt)
}

// PlacedBid is the result of an accepted bid
type PlacedBid struct {
	Bid          Bid             `json:"bid"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// Wallet holds a user's spendable balance.
// Balance always equals InitialGrant plus the sum of the user's transaction amounts.
type Wallet struct {
	UserID       string          `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	InitialGrant decimal.Decimal `json:"initial_grant"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TransactionKind classifies a ledger entry
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindPurchase   TransactionKind = "purchase"
	KindSale       TransactionKind = "sale"
	KindRefund     TransactionKind = "refund"
)

// Transaction is one append-only ledger entry. Amount is signed: debits are negative.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Kind          TransactionKind `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	AuctionID     string          `json:"auction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventKind names a notification
type EventKind string

const (
	EventBidAccepted    EventKind = "bid_accepted"
	EventAuctionSettled EventKind = "auction_settled"
)

// Event is an advisory notification about an auction.
// BidAccepted fills Amount and BidderID; AuctionSettled fills Status and WinnerID.
type Event struct {
	Kind       EventKind       `json:"kind"`
	AuctionID  string          `json:"auction_id"`
	Amount     decimal.Decimal `json:"amount,omitzero"`
	BidderID   string          `json:"bidder_id,omitempty"`
	Status     AuctionStatus   `json:"status,omitempty"`
	WinnerID   string          `json:"winner_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// SweepReport summarizes one run of the expiry sweep
type SweepReport struct {
	Sold    []string          `json:"sold"`
	Expired []string          `json:"expired"`
	Failed  map[string]string `json:"failed,omitempty"`
}
