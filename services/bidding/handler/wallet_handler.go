package handler

import (
	"context"
	"net/http"

	model "auction-marketplace/internal/models"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type WalletServiceInterface interface {
	OpenWallet(ctx context.Context, userID string) (model.Wallet, error)
	GetWallet(ctx context.Context, userID string) (model.Wallet, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (model.Wallet, model.Transaction, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (model.Wallet, model.Transaction, error)
	Transactions(ctx context.Context, userID string) ([]model.Transaction, error)
	Reconcile(ctx context.Context, userID string) (model.Wallet, error)
}

type WalletHandler struct {
	service WalletServiceInterface
}

func NewWalletHandler(service WalletServiceInterface) *WalletHandler {
	return &WalletHandler{service: service}
}

// OpenWalletHandler handles POST /wallets/:user_id
func (h *WalletHandler) OpenWalletHandler(c *gin.Context) {
	userID := c.Param("user_id")
	wallet, err := h.service.OpenWallet(c.Request.Context(), userID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("OpenWalletHandler", "failed to open wallet", status, map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToWalletResponse(wallet), "wallet opened successfully")
	helpers.LogSuccess("OpenWalletHandler", "wallet opened successfully", map[string]any{"user_id": userID})
}

// GetWalletHandler handles GET /wallets/:user_id
func (h *WalletHandler) GetWalletHandler(c *gin.Context) {
	userID := c.Param("user_id")
	wallet, err := h.service.GetWallet(c.Request.Context(), userID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetWalletHandler", "error retrieving wallet", status, map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToWalletResponse(wallet), "wallet retrieved successfully")
}

// DepositHandler handles POST /wallets/:user_id/deposit
func (h *WalletHandler) DepositHandler(c *gin.Context) {
	h.applyAmount(c, "DepositHandler", "deposit recorded successfully", h.service.Deposit)
}

// WithdrawHandler handles POST /wallets/:user_id/withdraw
func (h *WalletHandler) WithdrawHandler(c *gin.Context) {
	h.applyAmount(c, "WithdrawHandler", "withdrawal recorded successfully", h.service.Withdraw)
}

type ledgerOp func(ctx context.Context, userID string, amount decimal.Decimal) (model.Wallet, model.Transaction, error)

func (h *WalletHandler) applyAmount(c *gin.Context, handlerName, okMessage string, op ledgerOp) {
	userID := c.Param("user_id")
	var req helpers.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, handlerName, err)
		return
	}
	if err := req.Validate(); err != nil {
		helpers.HandleBindError(c, handlerName, err)
		return
	}

	wallet, tx, err := op(c.Request.Context(), userID, req.Amount)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure(handlerName, "ledger update rejected", status, map[string]any{
			"user_id": userID,
			"amount":  req.Amount.String(),
			"error":   err.Error(),
		})
		return
	}

	resp := helpers.LedgerEntryResponse{
		Wallet:      helpers.ToWalletResponse(wallet),
		Transaction: helpers.ToTransactionResponse(tx),
	}
	utils.JSONResponse(c, http.StatusOK, resp, okMessage)
	helpers.LogSuccess(handlerName, okMessage, map[string]any{
		"user_id":        userID,
		"transaction_id": tx.TransactionID,
		"balance":        wallet.Balance.String(),
	})
}

// GetTransactionsHandler handles GET /wallets/:user_id/transactions
func (h *WalletHandler) GetTransactionsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	txs, err := h.service.Transactions(c.Request.Context(), userID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("GetTransactionsHandler", "error retrieving transactions", status, map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToTransactionResponses(txs), "transactions retrieved successfully")
}

// ReconcileWalletHandler handles GET /wallets/:user_id/reconcile.
// A balance that disagrees with the ledger is reported as 500.
func (h *WalletHandler) ReconcileWalletHandler(c *gin.Context) {
	userID := c.Param("user_id")
	wallet, err := h.service.Reconcile(c.Request.Context(), userID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("ReconcileWalletHandler", "wallet reconciliation failed", status, map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToWalletResponse(wallet), "wallet balance matches ledger")
}
