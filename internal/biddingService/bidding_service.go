package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-marketplace/internal/marketerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/utils"

	"github.com/shopspring/decimal"
)

// EventPublisher receives advisory notifications after a change has committed
type EventPublisher interface {
	Publish(ev models.Event) int
}

// WalletOpener makes sure a user has a wallet
type WalletOpener interface {
	EnsureWallet(ctx context.Context, userID string) (models.Wallet, error)
}

// AuctionDraft is the seller-supplied part of a new auction
type AuctionDraft struct {
	SellerID      string
	CategoryID    string
	Title         string
	Description   string
	ImageURL      string
	StartingPrice decimal.Decimal
	EndTime       time.Time
}

// BiddingService owns bid acceptance and the seller-facing auction operations
type BiddingService struct {
	repo        repository.MarketDB
	wallets     WalletOpener
	events      EventPublisher
	maxDuration time.Duration
	now         func() time.Time
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *BiddingService) { s.now = now }
}

// WithMaxDuration bounds how far in the future an auction may end
func WithMaxDuration(d time.Duration) Option {
	return func(s *BiddingService) { s.maxDuration = d }
}

// NewBiddingService creates a new BiddingService instance. events may be nil.
func NewBiddingService(repo repository.MarketDB, wallets WalletOpener, events EventPublisher, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:        repo,
		wallets:     wallets,
		events:      events,
		maxDuration: 30 * 24 * time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuction lists a new item as an active auction priced at its starting price
func (s *BiddingService) CreateAuction(ctx context.Context, draft AuctionDraft) (models.Auction, error) {
	if draft.SellerID == "" || draft.CategoryID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing sellerID or categoryID", marketerrors.ErrInvalidInput)
	}
	if err := models.ValidateAmount(draft.StartingPrice); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w: %w", marketerrors.ErrInvalidStartingPrice, err)
	}
	if !draft.StartingPrice.IsPositive() {
		return models.Auction{}, fmt.Errorf("service: %w - starting price must be positive, got %s", marketerrors.ErrInvalidStartingPrice, draft.StartingPrice)
	}
	now := s.now()
	if !draft.EndTime.After(now) {
		return models.Auction{}, fmt.Errorf("service: %w - end time %s is not in the future", marketerrors.ErrInvalidDuration, draft.EndTime.Format(time.RFC3339))
	}
	if s.maxDuration > 0 && draft.EndTime.Sub(now) > s.maxDuration {
		return models.Auction{}, fmt.Errorf("service: %w - auction may run at most %s", marketerrors.ErrInvalidDuration, s.maxDuration)
	}

	// settlement credits the seller, so the seller needs a wallet before anyone can bid
	if _, err := s.wallets.EnsureWallet(ctx, draft.SellerID); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to prepare wallet for seller %s: %w", draft.SellerID, err)
	}

	auction := models.Auction{
		AuctionID:     utils.GenerateID(),
		SellerID:      draft.SellerID,
		CategoryID:    draft.CategoryID,
		Title:         draft.Title,
		Description:   draft.Description,
		ImageURL:      draft.ImageURL,
		StartingPrice: draft.StartingPrice,
		CurrentPrice:  draft.StartingPrice,
		EndTime:       draft.EndTime.UTC(),
		Status:        models.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction for seller %s: %w", draft.SellerID, err)
	}

	utils.Info("auction created", map[string]any{
		"auction_id":     auction.AuctionID,
		"seller_id":      auction.SellerID,
		"starting_price": auction.StartingPrice.String(),
		"end_time":       auction.EndTime.Format(time.RFC3339),
	})
	return auction, nil
}

// PlaceBid validates and records a bid as one atomic unit.
//
// An amount outside the money bounds is rejected with ErrInvalidAmount before
// anything is locked. The remaining checks run in order against the locked
// auction and the bidder's wallet:
// auction open, bidder is not the seller, amount above the current price,
// bidder can cover the amount. No funds move at bid time.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.PlacedBid, error) {
	if auctionID == "" || bidderID == "" {
		return models.PlacedBid{}, fmt.Errorf("service: %w - missing auctionID or bidderID", marketerrors.ErrInvalidInput)
	}
	// bounded before the auction lock is taken
	if err := models.ValidateAmount(amount); err != nil {
		return models.PlacedBid{}, fmt.Errorf("service: %w: %w", marketerrors.ErrInvalidAmount, err)
	}

	var bid models.Bid
	err := s.repo.UpdateAuction(ctx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		now := s.now()

		if a.Status != models.StatusActive || !now.Before(a.EndTime) {
			return fmt.Errorf("%w - status %s, ends %s", marketerrors.ErrAuctionClosed, a.Status, a.EndTime.Format(time.RFC3339))
		}
		if bidderID == a.SellerID {
			return marketerrors.ErrSelfBidNotAllowed
		}
		if !amount.IsPositive() || !amount.GreaterThan(a.CurrentPrice) {
			return &marketerrors.BidTooLowError{CurrentPrice: a.CurrentPrice}
		}

		wallets, err := tx.Wallets(bidderID)
		if err != nil {
			return err
		}
		w, err := wallets.Wallet(bidderID)
		if errors.Is(err, marketerrors.ErrWalletNotFound) {
			return fmt.Errorf("%w - bidder %s has no wallet", marketerrors.ErrInsufficientFunds, bidderID)
		}
		if err != nil {
			return err
		}
		if w.Balance.LessThan(amount) {
			return fmt.Errorf("%w - balance %s, bid %s", marketerrors.ErrInsufficientFunds, w.Balance, amount)
		}

		bid = models.Bid{
			BidID:     utils.GenerateID(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		return tx.AcceptBid(bid)
	})
	if errors.Is(err, marketerrors.ErrAuctionNotFound) {
		return models.PlacedBid{}, fmt.Errorf("service: %w: %w", marketerrors.ErrAuctionClosed, err)
	}
	if err != nil {
		return models.PlacedBid{}, fmt.Errorf("service: bid on auction %s by user %s rejected: %w", auctionID, bidderID, err)
	}

	utils.Info("bid accepted", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"bidder_id":  bidderID,
		"amount":     amount.String(),
	})
	s.publish(models.Event{
		Kind:       models.EventBidAccepted,
		AuctionID:  auctionID,
		Amount:     bid.Amount,
		BidderID:   bidderID,
		OccurredAt: bid.CreatedAt,
	})
	return models.PlacedBid{Bid: bid, CurrentPrice: bid.Amount}, nil
}

// CancelAuction withdraws an active listing that has no bids yet
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID, sellerID string) (models.Auction, error) {
	if auctionID == "" || sellerID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing auctionID or sellerID", marketerrors.ErrInvalidInput)
	}

	var cancelled models.Auction
	err := s.repo.UpdateAuction(ctx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		if a.SellerID != sellerID {
			return marketerrors.ErrNotSeller
		}
		if a.Status != models.StatusActive {
			return fmt.Errorf("%w - status %s", marketerrors.ErrAuctionClosed, a.Status)
		}
		if tx.BidCount() > 0 {
			return fmt.Errorf("%w - %d bids", marketerrors.ErrAuctionHasBids, tx.BidCount())
		}
		if err := tx.Resolve(models.StatusCancelled, "", s.now()); err != nil {
			return err
		}
		cancelled = tx.Auction()
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to cancel auction %s: %w", auctionID, err)
	}

	utils.Info("auction cancelled", map[string]any{"auction_id": auctionID, "seller_id": sellerID})
	s.publish(models.Event{
		Kind:       models.EventAuctionSettled,
		AuctionID:  auctionID,
		Status:     models.StatusCancelled,
		OccurredAt: cancelled.UpdatedAt,
	})
	return cancelled, nil
}

// GetAuction returns one auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", marketerrors.ErrInvalidInput)
	}
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions matching the filter, newest first
func (s *BiddingService) ListAuctions(ctx context.Context, filter repository.AuctionFilter) ([]models.Auction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("service: %w - unknown status %q", marketerrors.ErrInvalidInput, filter.Status)
	}
	auctions, err := s.repo.ListAuctions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetBidsForAuction returns the bid history, highest first and earliest first on ties
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", marketerrors.ErrInvalidInput)
	}
	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetLeadingBid returns the current highest bid for an auction
func (s *BiddingService) GetLeadingBid(ctx context.Context, auctionID string) (models.Bid, error) {
	bids, err := s.GetBidsForAuction(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}
	if len(bids) == 0 {
		return models.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, marketerrors.ErrNoBids)
	}
	return bids[0], nil
}

// GetBidsByBidder returns every bid a user has placed, newest first
func (s *BiddingService) GetBidsByBidder(ctx context.Context, bidderID string) ([]models.Bid, error) {
	if bidderID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	bids, err := s.repo.GetBidsByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", bidderID, err)
	}
	return bids, nil
}

func (s *BiddingService) publish(ev models.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
