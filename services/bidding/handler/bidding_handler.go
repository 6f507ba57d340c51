package handler

import (
	"context"
	"net/http"

	bidding "auction-marketplace/internal/biddingService"
	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mock_services.go -package=handler . BiddingServiceInterface,WalletServiceInterface

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, draft bidding.AuctionDraft) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter repository.AuctionFilter) ([]model.Auction, error)
	CancelAuction(ctx context.Context, auctionID, sellerID string) (model.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.PlacedBid, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}
	if err := req.Validate(); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), bidding.AuctionDraft{
		SellerID:      req.SellerID,
		CategoryID:    req.CategoryID,
		Title:         req.Title,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		StartingPrice: req.StartingPrice,
		EndTime:       req.EndTime,
	})
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("CreateAuctionHandler", "failed to create auction", status, map[string]any{
			"seller_id": req.SellerID,
			"error":     err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  auction.SellerID,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	filter := repository.AuctionFilter{
		Status:     model.AuctionStatus(c.Query("status")),
		CategoryID: c.Query("category_id"),
		SellerID:   c.Query("seller_id"),
	}
	auctions, err := h.service.ListAuctions(c.Request.Context(), filter)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("ListAuctionsHandler", "error listing auctions", status, map[string]any{"error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{"count": len(auctions)})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetAuctionHandler", "error retrieving auction", status, map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "auction retrieved successfully")
}

// CancelAuctionHandler handles POST /auctions/:auction_id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.CancelAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CancelAuctionHandler", err)
		return
	}

	auction, err := h.service.CancelAuction(c.Request.Context(), auctionID, req.SellerID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("CancelAuctionHandler", "failed to cancel auction", status, map[string]any{
			"auction_id": auctionID,
			"seller_id":  req.SellerID,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "auction cancelled successfully")
	helpers.LogSuccess("CancelAuctionHandler", "auction cancelled successfully", map[string]any{"auction_id": auctionID})
}

// RecordBidHandler handles POST /bids
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}
	if err := req.Validate(); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}

	placed, err := h.service.PlaceBid(c.Request.Context(), req.AuctionID, req.UserID, req.Amount)
	if err != nil {
		status, message := helpers.RespondError(c, err)
		helpers.LogFailure("RecordBidHandler", "bid rejected: "+message, status, map[string]any{
			"handler":    "RecordBidHandler",
			"auction_id": req.AuctionID,
			"user_id":    req.UserID,
			"error":      err.Error(),
		})
		return
	}

	resp := helpers.PlacedBidResponse{
		BidResponse:  helpers.ToBidResponse(placed.Bid),
		CurrentPrice: placed.CurrentPrice,
	}

	utils.JSONResponse(c, http.StatusCreated, resp, "bid recorded successfully")
	helpers.LogSuccess("RecordBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     placed.Bid.BidID,
		"auction_id": placed.Bid.AuctionID,
		"user_id":    req.UserID,
		"amount":     placed.Bid.Amount.String(),
	})
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetBidsByAuctionHandler", "error retrieving bids", status, map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetLeadingBid(c.Request.Context(), auctionID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetWinningBidHandler", "winning bid lookup failed", status, map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"user_id":    bid.BidderID,
		"amount":     bid.Amount.String(),
	})
}

// GetBidsByUserHandler handles GET /users/:user_id/bids
func (h *BiddingHandler) GetBidsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	bids, err := h.service.GetBidsByBidder(c.Request.Context(), userID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetBidsByUserHandler", "error retrieving bids", status, map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByUserHandler", "bids retrieved successfully", map[string]any{
		"user_id":    userID,
		"bids_count": len(bids),
	})
}
