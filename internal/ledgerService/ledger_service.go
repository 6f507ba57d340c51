package ledger

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

// LedgerService is the only writer of wallet balances.
// Every balance change is stored together with the transaction that explains it.
type LedgerService struct {
	repo  repository.MarketDB
	grant decimal.Decimal
	now   func() time.Time
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithInitialGrant sets the balance a newly opened wallet starts with
func WithInitialGrant(grant decimal.Decimal) Option {
	return func(s *LedgerService) { s.grant = grant }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(repo repository.MarketDB, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:  repo,
		grant: decimal.Zero,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenWallet creates a wallet holding the initial grant
func (s *LedgerService) OpenWallet(ctx context.Context, userID string) (models.Wallet, error) {
	if userID == "" {
		return models.Wallet{}, fmt.Errorf("ledger: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	now := s.now()
	w := models.Wallet{
		UserID:       userID,
		Balance:      s.grant,
		InitialGrant: s.grant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return models.Wallet{}, fmt.Errorf("ledger: failed to open wallet for user %s: %w", userID, err)
	}
	utils.Info("wallet opened", map[string]any{"user_id": userID, "initial_grant": s.grant.String()})
	return w, nil
}

// EnsureWallet returns the user's wallet, opening it first if the user has none
func (s *LedgerService) EnsureWallet(ctx context.Context, userID string) (models.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, marketerrors.ErrWalletNotFound) {
		return models.Wallet{}, fmt.Errorf("ledger: failed to load wallet for user %s: %w", userID, err)
	}
	w, err = s.OpenWallet(ctx, userID)
	if errors.Is(err, marketerrors.ErrWalletExists) {
		// lost a race with another opener
		return s.repo.GetWallet(ctx, userID)
	}
	return w, err
}

// GetWallet returns the user's wallet
func (s *LedgerService) GetWallet(ctx context.Context, userID string) (models.Wallet, error) {
	if userID == "" {
		return models.Wallet{}, fmt.Errorf("ledger: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("ledger: failed to get wallet for user %s: %w", userID, err)
	}
	return w, nil
}

// Transactions returns the user's ledger, oldest first
func (s *LedgerService) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("ledger: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	txs, err := s.repo.GetTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to get transactions for user %s: %w", userID, err)
	}
	return txs, nil
}

// Deposit adds amount to the user's balance
func (s *LedgerService) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (models.Wallet, models.Transaction, error) {
	if userID == "" {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w - deposit must be positive, got %s", marketerrors.ErrInvalidAmount, amount)
	}
	if err := models.ValidateAmount(amount); err != nil {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w: %w", marketerrors.ErrInvalidAmount, err)
	}
	return s.apply(ctx, userID, models.KindDeposit, amount, "Wallet deposit")
}

// Withdraw removes amount from the user's balance; it never overdraws
func (s *LedgerService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (models.Wallet, models.Transaction, error) {
	if userID == "" {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w - empty user ID", marketerrors.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w - withdrawal must be positive, got %s", marketerrors.ErrInvalidAmount, amount)
	}
	if err := models.ValidateAmount(amount); err != nil {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: %w: %w", marketerrors.ErrInvalidAmount, err)
	}
	return s.apply(ctx, userID, models.KindWithdrawal, amount.Neg(), "Wallet withdrawal")
}

func (s *LedgerService) apply(ctx context.Context, userID string, kind models.TransactionKind, amount decimal.Decimal, description string) (models.Wallet, models.Transaction, error) {
	t := models.Transaction{
		TransactionID: utils.GenerateID(),
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		Description:   description,
		CreatedAt:     s.now(),
	}

	var wallet models.Wallet
	err := s.repo.UpdateWallet(ctx, userID, func(tx repository.WalletTx) error {
		current, err := tx.Wallet(userID)
		if err != nil {
			return err
		}
		if current.Balance.Add(amount).IsNegative() {
			return fmt.Errorf("%w - balance %s, requested %s", marketerrors.ErrInsufficientFunds, current.Balance, amount.Neg())
		}
		wallet, err = tx.Append(t)
		return err
	})
	if err != nil {
		return models.Wallet{}, models.Transaction{}, fmt.Errorf("ledger: failed to record %s for user %s: %w", kind, userID, err)
	}

	utils.Info("ledger entry recorded", map[string]any{
		"user_id":        userID,
		"kind":           kind,
		"amount":         amount.String(),
		"balance":        wallet.Balance.String(),
		"transaction_id": t.TransactionID,
	})
	return wallet, t, nil
}

// Settle moves price from buyer to seller inside an auction update unit, recording a
// purchase/sale pair linked to the auction. The caller must have locked both wallets
// through tx. On ErrInsufficientFunds neither leg has been applied.
func (s *LedgerService) Settle(tx repository.WalletTx, auctionID, buyerID, sellerID string, price decimal.Decimal) (models.Transaction, models.Transaction, error) {
	if buyerID == sellerID {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("ledger: settle auction %s: buyer is seller: %w", auctionID, marketerrors.ErrInvariantViolation)
	}
	if !price.IsPositive() {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("ledger: settle auction %s: non-positive price %s: %w", auctionID, price, marketerrors.ErrInvariantViolation)
	}

	buyer, err := tx.Wallet(buyerID)
	if errors.Is(err, marketerrors.ErrWalletNotFound) {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("ledger: settle auction %s: buyer %s has no wallet: %w", auctionID, buyerID, marketerrors.ErrInvariantViolation)
	}
	if err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	if _, err := tx.Wallet(sellerID); err != nil {
		if errors.Is(err, marketerrors.ErrWalletNotFound) {
			return models.Transaction{}, models.Transaction{}, fmt.Errorf("ledger: settle auction %s: seller %s has no wallet: %w", auctionID, sellerID, marketerrors.ErrInvariantViolation)
		}
		return models.Transaction{}, models.Transaction{}, err
	}
	if buyer.Balance.LessThan(price) {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("ledger: settle auction %s: %w - buyer balance %s, price %s", auctionID, marketerrors.ErrInsufficientFunds, buyer.Balance, price)
	}

	now := s.now()
	purchase := models.Transaction{
		TransactionID: utils.GenerateID(),
		UserID:        buyerID,
		Kind:          models.KindPurchase,
		Amount:        price.Neg(),
		Description:   fmt.Sprintf("Purchase of auction %s", auctionID),
		AuctionID:     auctionID,
		CreatedAt:     now,
	}
	sale := models.Transaction{
		TransactionID: utils.GenerateID(),
		UserID:        sellerID,
		Kind:          models.KindSale,
		Amount:        price,
		Description:   fmt.Sprintf("Sale of auction %s", auctionID),
		AuctionID:     auctionID,
		CreatedAt:     now,
	}
	if _, err := tx.Append(purchase); err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	if _, err := tx.Append(sale); err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	return purchase, sale, nil
}

// Reconcile checks that the wallet balance equals its initial grant plus the sum of
// its transactions, holding the wallet lock while it reads both
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (models.Wallet, error) {
	var wallet models.Wallet
	err := s.repo.UpdateWallet(ctx, userID, func(tx repository.WalletTx) error {
		w, err := tx.Wallet(userID)
		if err != nil {
			return err
		}
		txs, err := tx.Transactions(userID)
		if err != nil {
			return err
		}
		expected := w.InitialGrant
		for _, t := range txs {
			expected = expected.Add(t.Amount)
		}
		if !expected.Equal(w.Balance) {
			return fmt.Errorf("%w - user %s balance %s, ledger says %s", marketerrors.ErrInvariantViolation, userID, w.Balance, expected)
		}
		wallet = w
		return nil
	})
	if err != nil {
		if errors.Is(err, marketerrors.ErrInvariantViolation) {
			utils.Error("ledger mismatch", map[string]any{"user_id": userID, "error": err.Error()})
		}
		return models.Wallet{}, fmt.Errorf("ledger: reconcile user %s: %w", userID, err)
	}
	return wallet, nil
}
