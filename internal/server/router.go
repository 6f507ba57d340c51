package server

import (
	"time"

	handler "auction-marketplace/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// Services bundles what the HTTP surface depends on
type Services struct {
	Bidding      handler.BiddingServiceInterface
	Wallets      handler.WalletServiceInterface
	Events       handler.EventSubscriber
	PingInterval time.Duration
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(svc Services) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(svc.Bidding)
	walletHandler := handler.NewWalletHandler(svc.Wallets)
	streamHandler := handler.NewStreamHandler(svc.Bidding, svc.Events, svc.PingInterval)

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/cancel", biddingHandler.CancelAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", biddingHandler.GetWinningBidHandler)
		auctions.GET("/:auction_id/stream", streamHandler.StreamAuctionHandler)
	}

	bids := router.Group("/bids")
	{
		bids.POST("", biddingHandler.RecordBidHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/bids", biddingHandler.GetBidsByUserHandler)
	}

	wallets := router.Group("/wallets")
	{
		wallets.POST("/:user_id", walletHandler.OpenWalletHandler)
		wallets.GET("/:user_id", walletHandler.GetWalletHandler)
		wallets.POST("/:user_id/deposit", walletHandler.DepositHandler)
		wallets.POST("/:user_id/withdraw", walletHandler.WithdrawHandler)
		wallets.GET("/:user_id/transactions", walletHandler.GetTransactionsHandler)
		wallets.GET("/:user_id/reconcile", walletHandler.ReconcileWalletHandler)
	}

	return router
}
