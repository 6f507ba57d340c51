package helpers

import (
	"time"

	model "auction-marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// Request DTOs. Money is accepted as a JSON number or a decimal string.

type PlaceBidRequest struct {
	AuctionID string          `json:"auction_id" binding:"required"`
	UserID    string          `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type CreateAuctionRequest struct {
	SellerID      string          `json:"seller_id" binding:"required"`
	CategoryID    string          `json:"category_id" binding:"required"`
	Title         string          `json:"title" binding:"required,max=200"`
	Description   string          `json:"description" binding:"max=5000"`
	ImageURL      string          `json:"image_url" binding:"omitempty,url"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndTime       time.Time       `json:"end_time" binding:"required"`
}

type CancelAuctionRequest struct {
	SellerID string `json:"seller_id" binding:"required"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Validate rejects amounts outside the money bounds. The sign is left to the services.
func (r PlaceBidRequest) Validate() error { return model.ValidateAmount(r.Amount) }

func (r CreateAuctionRequest) Validate() error { return model.ValidateAmount(r.StartingPrice) }

func (r AmountRequest) Validate() error { return model.ValidateAmount(r.Amount) }

// Response DTOs. Money is rendered as decimal strings, times as RFC3339.

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}

type PlacedBidResponse struct {
	BidResponse
	CurrentPrice decimal.Decimal `json:"current_price"`
}

type AuctionResponse struct {
	AuctionID     string          `json:"auction_id"`
	SellerID      string          `json:"seller_id"`
	CategoryID    string          `json:"category_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EndTime       string          `json:"end_time"`
	Status        string          `json:"status"`
	WinnerID      string          `json:"winner_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

type WalletResponse struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt string          `json:"updated_at"`
}

type TransactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	AuctionID     string          `json:"auction_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

type LedgerEntryResponse struct {
	Wallet      WalletResponse      `json:"wallet"`
	Transaction TransactionResponse `json:"transaction"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func ToBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		CreatedAt: formatTime(b.CreatedAt),
	}
}

func ToBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, ToBidResponse(b))
	}
	return out
}

func ToAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:     a.AuctionID,
		SellerID:      a.SellerID,
		CategoryID:    a.CategoryID,
		Title:         a.Title,
		Description:   a.Description,
		ImageURL:      a.ImageURL,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		EndTime:       formatTime(a.EndTime),
		Status:        string(a.Status),
		WinnerID:      a.WinnerID,
		CreatedAt:     formatTime(a.CreatedAt),
	}
}

func ToAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, ToAuctionResponse(a))
	}
	return out
}

func ToWalletResponse(w model.Wallet) WalletResponse {
	return WalletResponse{UserID: w.UserID, Balance: w.Balance, UpdatedAt: formatTime(w.UpdatedAt)}
}

func ToTransactionResponse(t model.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID: t.TransactionID,
		Kind:          string(t.Kind),
		Amount:        t.Amount,
		Description:   t.Description,
		AuctionID:     t.AuctionID,
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

func ToTransactionResponses(txs []model.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, ToTransactionResponse(t))
	}
	return out
}
