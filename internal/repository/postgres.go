package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-marketplace/internal/marketerrors"
	model "auction-marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepo implements MarketDB on PostgreSQL.
//
// Money columns are NUMERIC; values cross the wire as text and are parsed with
// shopspring/decimal. Update units hold row locks (SELECT ... FOR UPDATE) on the
// auction and on wallets, taken in user id order.
type PostgresRepo struct {
	db *pgxpool.Pool
}

// NewPostgresRepo creates a repository over an open pool
func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const (
	auctionColumns = `auction_id, seller_id, category_id, title, description, image_url,
		starting_price::text, current_price::text, end_time, status, COALESCE(winner_id, ''),
		created_at, updated_at`
	bidColumns         = `bid_id, auction_id, bidder_id, amount::text, created_at`
	walletColumns      = `user_id, balance::text, initial_grant::text, created_at, updated_at`
	transactionColumns = `transaction_id, user_id, kind, amount::text, description,
		COALESCE(auction_id, ''), created_at`
)

// uniqueViolation is the SQLSTATE for a duplicate key
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func scanAuction(row pgx.Row) (model.Auction, error) {
	var a model.Auction
	var starting, current, status string
	if err := row.Scan(&a.AuctionID, &a.SellerID, &a.CategoryID, &a.Title, &a.Description, &a.ImageURL,
		&starting, &current, &a.EndTime, &status, &a.WinnerID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Auction{}, err
	}
	var err error
	if a.StartingPrice, err = parseDecimal(starting); err != nil {
		return model.Auction{}, err
	}
	if a.CurrentPrice, err = parseDecimal(current); err != nil {
		return model.Auction{}, err
	}
	a.Status = model.AuctionStatus(status)
	return a, nil
}

func scanBid(row pgx.Row) (model.Bid, error) {
	var b model.Bid
	var amount string
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &amount, &b.CreatedAt); err != nil {
		return model.Bid{}, err
	}
	var err error
	b.Amount, err = parseDecimal(amount)
	return b, err
}

func scanWallet(row pgx.Row) (model.Wallet, error) {
	var w model.Wallet
	var balance, grant string
	if err := row.Scan(&w.UserID, &balance, &grant, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return model.Wallet{}, err
	}
	var err error
	if w.Balance, err = parseDecimal(balance); err != nil {
		return model.Wallet{}, err
	}
	if w.InitialGrant, err = parseDecimal(grant); err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

func scanTransaction(row pgx.Row) (model.Transaction, error) {
	var t model.Transaction
	var kind, amount string
	if err := row.Scan(&t.TransactionID, &t.UserID, &kind, &amount, &t.Description, &t.AuctionID, &t.CreatedAt); err != nil {
		return model.Transaction{}, err
	}
	t.Kind = model.TransactionKind(kind)
	var err error
	t.Amount, err = parseDecimal(amount)
	return t, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAuction stores a new auction
func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO auctions (auction_id, seller_id, category_id, title, description, image_url,
			starting_price, current_price, end_time, status, winner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9, $10, NULLIF($11, ''), $12, $13)
	`, a.AuctionID, a.SellerID, a.CategoryID, a.Title, a.Description, a.ImageURL,
		a.StartingPrice.String(), a.CurrentPrice.String(), a.EndTime, string(a.Status), a.WinnerID,
		a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create auction %s: %w", a.AuctionID, marketerrors.ErrAuctionExists)
	}
	if err != nil {
		return fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

// GetAuction returns a committed auction
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := scanAuction(r.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1`, auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, marketerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns matching auctions, newest first
func (r *PostgresRepo) ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR category_id = $2)
		  AND ($3 = '' OR seller_id = $3)
		ORDER BY created_at DESC, auction_id
	`, string(filter.Status), filter.CategoryID, filter.SellerID)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	auctions, err := collect(rows, scanAuction)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return auctions, nil
}

// ListDueAuctionIDs returns active auctions whose end time is at or before now, earliest first
func (r *PostgresRepo) ListDueAuctionIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT auction_id FROM auctions
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time, auction_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due auctions: %w", err)
	}
	ids, err := collect(rows, func(row pgx.Row) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("list due auctions: %w", err)
	}
	return ids, nil
}

// GetBidsByAuction returns an auction's bids, highest first and earliest first on ties
func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+bidColumns+` FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC, seq ASC
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	bids, err := collect(rows, scanBid)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetBidsByBidder returns every bid a user has placed, newest first
func (r *PostgresRepo) GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bidColumns+` FROM bids WHERE bidder_id = $1
		ORDER BY created_at DESC, seq DESC
	`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("get bids for bidder %s: %w", bidderID, err)
	}
	bids, err := collect(rows, scanBid)
	if err != nil {
		return nil, fmt.Errorf("get bids for bidder %s: %w", bidderID, err)
	}
	return bids, nil
}

// UpdateAuction runs fn in a database transaction holding the auction row lock
func (r *PostgresRepo) UpdateAuction(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update auction %s: begin: %w", auctionID, err)
	}
	defer tx.Rollback(ctx)

	a, err := scanAuction(tx.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = $1 FOR UPDATE`, auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update auction %s: %w", auctionID, marketerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return fmt.Errorf("update auction %s: lock: %w", auctionID, err)
	}

	ptx := &pgAuctionTx{ctx: ctx, tx: tx, auction: a}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&ptx.bidCount); err != nil {
		return fmt.Errorf("update auction %s: count bids: %w", auctionID, err)
	}
	if ptx.bidCount > 0 {
		ptx.highest, err = scanBid(tx.QueryRow(ctx, `
			SELECT `+bidColumns+` FROM bids WHERE auction_id = $1
			ORDER BY amount DESC, created_at ASC, seq ASC LIMIT 1
		`, auctionID))
		if err != nil {
			return fmt.Errorf("update auction %s: highest bid: %w", auctionID, err)
		}
		ptx.hasHighest = true
	}

	if err := fn(ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update auction %s: commit: %w", auctionID, err)
	}
	return nil
}

// CreateWallet stores a new wallet
func (r *PostgresRepo) CreateWallet(ctx context.Context, w model.Wallet) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, initial_grant, created_at, updated_at)
		VALUES ($1, $2::text::numeric, $3::text::numeric, $4, $5)
	`, w.UserID, w.Balance.String(), w.InitialGrant.String(), w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create wallet for user %s: %w", w.UserID, marketerrors.ErrWalletExists)
	}
	if err != nil {
		return fmt.Errorf("create wallet for user %s: %w", w.UserID, err)
	}
	return nil
}

// GetWallet returns a committed wallet
func (r *PostgresRepo) GetWallet(ctx context.Context, userID string) (model.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Wallet{}, fmt.Errorf("get wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	if err != nil {
		return model.Wallet{}, fmt.Errorf("get wallet for user %s: %w", userID, err)
	}
	return w, nil
}

// GetTransactions returns a user's ledger entries, oldest first
func (r *PostgresRepo) GetTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := r.GetWallet(ctx, userID); err != nil {
		return nil, err
	}
	return queryTransactions(ctx, r.db, userID)
}

// querier is satisfied by both the pool and an open pgx.Tx
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryTransactions(ctx context.Context, q querier, userID string) ([]model.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("get transactions for user %s: %w", userID, err)
	}
	txs, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("get transactions for user %s: %w", userID, err)
	}
	return txs, nil
}

// UpdateWallet runs fn in a database transaction holding the wallet row lock
func (r *PostgresRepo) UpdateWallet(ctx context.Context, userID string, fn func(tx WalletTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update wallet for user %s: begin: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	wtx, err := lockWalletRows(ctx, tx, []string{userID})
	if err != nil {
		return fmt.Errorf("update wallet for user %s: %w", userID, err)
	}
	if _, ok := wtx.wallets[userID]; !ok {
		return fmt.Errorf("update wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}

	if err := fn(wtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update wallet for user %s: commit: %w", userID, err)
	}
	return nil
}

func lockWalletRows(ctx context.Context, tx pgx.Tx, userIDs []string) (*pgWalletTx, error) {
	ids := sortedUnique(userIDs)
	rows, err := tx.Query(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = ANY($1)
		ORDER BY user_id FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	wallets, err := collect(rows, scanWallet)
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}

	wtx := &pgWalletTx{
		ctx:     ctx,
		tx:      tx,
		locked:  make(map[string]bool, len(ids)),
		wallets: make(map[string]model.Wallet, len(wallets)),
	}
	for _, id := range ids {
		wtx.locked[id] = true
	}
	for _, w := range wallets {
		wtx.wallets[w.UserID] = w
	}
	return wtx, nil
}

type pgAuctionTx struct {
	ctx        context.Context
	tx         pgx.Tx
	auction    model.Auction
	highest    model.Bid
	hasHighest bool
	bidCount   int
	wallets    *pgWalletTx
}

func (t *pgAuctionTx) Auction() model.Auction { return t.auction }

func (t *pgAuctionTx) HighestBid() (model.Bid, bool) { return t.highest, t.hasHighest }

func (t *pgAuctionTx) BidCount() int { return t.bidCount }

func (t *pgAuctionTx) AcceptBid(bid model.Bid) error {
	if t.auction.Status != model.StatusActive {
		return fmt.Errorf("accept bid on auction %s: %w", t.auction.AuctionID, marketerrors.ErrAuctionClosed)
	}
	if !bid.Amount.GreaterThan(t.auction.CurrentPrice) {
		return &marketerrors.BidTooLowError{CurrentPrice: t.auction.CurrentPrice}
	}
	if _, err := t.tx.Exec(t.ctx, `
		INSERT INTO bids (bid_id, auction_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
	`, bid.BidID, bid.AuctionID, bid.BidderID, bid.Amount.String(), bid.CreatedAt); err != nil {
		return fmt.Errorf("insert bid %s: %w", bid.BidID, err)
	}
	if _, err := t.tx.Exec(t.ctx, `
		UPDATE auctions SET current_price = $2::text::numeric, updated_at = $3 WHERE auction_id = $1
	`, t.auction.AuctionID, bid.Amount.String(), bid.CreatedAt); err != nil {
		return fmt.Errorf("raise price of auction %s: %w", t.auction.AuctionID, err)
	}
	t.auction.CurrentPrice = bid.Amount
	t.auction.UpdatedAt = bid.CreatedAt
	t.highest, t.hasHighest = bid, true
	t.bidCount++
	return nil
}

func (t *pgAuctionTx) Resolve(status model.AuctionStatus, winnerID string, at time.Time) error {
	staged := t.auction
	var dirty bool
	if err := resolveStaged(&staged, &dirty, status, winnerID, at); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx, `
		UPDATE auctions SET status = $2, winner_id = NULLIF($3, ''), updated_at = $4 WHERE auction_id = $1
	`, staged.AuctionID, string(staged.Status), staged.WinnerID, at); err != nil {
		return fmt.Errorf("resolve auction %s: %w", staged.AuctionID, err)
	}
	t.auction = staged
	return nil
}

func (t *pgAuctionTx) Wallets(userIDs ...string) (WalletTx, error) {
	if t.wallets != nil {
		return nil, fmt.Errorf("wallets already locked in this unit: %w", marketerrors.ErrInvalidInput)
	}
	wtx, err := lockWalletRows(t.ctx, t.tx, userIDs)
	if err != nil {
		return nil, err
	}
	t.wallets = wtx
	return wtx, nil
}

type pgWalletTx struct {
	ctx     context.Context
	tx      pgx.Tx
	locked  map[string]bool
	wallets map[string]model.Wallet
}

func (t *pgWalletTx) Wallet(userID string) (model.Wallet, error) {
	if !t.locked[userID] {
		return model.Wallet{}, fmt.Errorf("wallet %s not locked in this unit: %w", userID, marketerrors.ErrInvalidInput)
	}
	w, ok := t.wallets[userID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	return w, nil
}

func (t *pgWalletTx) Append(tr model.Transaction) (model.Wallet, error) {
	w, err := t.Wallet(tr.UserID)
	if err != nil {
		return model.Wallet{}, err
	}
	next, ok := applyAmount(w, tr.Amount, tr.CreatedAt)
	if !ok {
		return model.Wallet{}, fmt.Errorf("append %s for user %s: %w", tr.Kind, tr.UserID, marketerrors.ErrInsufficientFunds)
	}

	if _, err := t.tx.Exec(t.ctx, `
		UPDATE wallets SET balance = $2::text::numeric, updated_at = $3 WHERE user_id = $1
	`, tr.UserID, next.Balance.String(), next.UpdatedAt); err != nil {
		return model.Wallet{}, fmt.Errorf("update balance of user %s: %w", tr.UserID, err)
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO transactions (transaction_id, user_id, kind, amount, description, auction_id, created_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, NULLIF($6, ''), $7)
	`, tr.TransactionID, tr.UserID, string(tr.Kind), tr.Amount.String(), tr.Description, tr.AuctionID, tr.CreatedAt)
	if isUniqueViolation(err) {
		return model.Wallet{}, fmt.Errorf("append %s for auction %s: duplicate settlement: %w", tr.Kind, tr.AuctionID, marketerrors.ErrInvariantViolation)
	}
	if err != nil {
		return model.Wallet{}, fmt.Errorf("insert transaction %s: %w", tr.TransactionID, err)
	}

	t.wallets[tr.UserID] = next
	return next, nil
}

// Transactions reads on the unit's own connection, so rows appended in this unit are visible
func (t *pgWalletTx) Transactions(userID string) ([]model.Transaction, error) {
	if _, err := t.Wallet(userID); err != nil {
		return nil, err
	}
	return queryTransactions(t.ctx, t.tx, userID)
}
