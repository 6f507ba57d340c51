package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-marketplace/internal/marketerrors"
	model "auction-marketplace/internal/models"
)

// MemoryRepo is a concurrency-safe in-memory implementation of MarketDB.
//
// Each auction and each wallet has its own mutex that serializes update units.
// Staged writes from a unit are applied under mu in a single critical section, so
// readers never observe a balance without its transaction or a price without its bid.
// Lock order: auction, then wallets sorted by user id, then mu.
type MemoryRepo struct {
	mu           sync.RWMutex
	auctions     map[string]model.Auction
	bids         map[string][]model.Bid // key: auctionID -> accepted bids in acceptance order
	bidderBids   map[string][]model.Bid // key: bidderID -> accepted bids in acceptance order
	wallets      map[string]model.Wallet
	transactions map[string][]model.Transaction // key: userID -> ledger entries in append order

	auctionLocks keyedMutex
	walletLocks  keyedMutex
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		bidderBids:   make(map[string][]model.Bid),
		wallets:      make(map[string]model.Wallet),
		transactions: make(map[string][]model.Transaction),
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, marketerrors.ErrAuctionExists)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns a committed auction
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return model.Auction{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, marketerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns matching auctions, newest first
func (r *MemoryRepo) ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].AuctionID < out[j].AuctionID
	})
	return out, nil
}

// ListDueAuctionIDs returns active auctions whose end time is at or before now, earliest first
func (r *MemoryRepo) ListDueAuctionIDs(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	due := make([]model.Auction, 0)
	for _, a := range r.auctions {
		if a.Status == model.StatusActive && !a.EndTime.After(now) {
			due = append(due, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].EndTime.Equal(due[j].EndTime) {
			return due[i].EndTime.Before(due[j].EndTime)
		}
		return due[i].AuctionID < due[j].AuctionID
	})
	ids := make([]string, len(due))
	for i, a := range due {
		ids[i] = a.AuctionID
	}
	return ids, nil
}

// GetBidsByAuction returns an auction's bids, highest first and earliest first on ties
func (r *MemoryRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	if _, ok := r.auctions[auctionID]; !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, marketerrors.ErrAuctionNotFound)
	}
	bids := append([]model.Bid{}, r.bids[auctionID]...)
	r.mu.RUnlock()

	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Outranks(bids[j]) })
	return bids, nil
}

// GetBidsByBidder returns every bid a user has placed, newest first
func (r *MemoryRepo) GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	bids := append([]model.Bid{}, r.bidderBids[bidderID]...)
	r.mu.RUnlock()

	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}
	return bids, nil
}

// UpdateAuction runs fn while holding the auction's lock
func (r *MemoryRepo) UpdateAuction(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := r.auctionLocks.get(auctionID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	a, ok := r.auctions[auctionID]
	var highest *model.Bid
	bids := r.bids[auctionID]
	for i := range bids {
		if highest == nil || bids[i].Outranks(*highest) {
			highest = &bids[i]
		}
	}
	count := len(bids)
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("update auction %s: %w", auctionID, marketerrors.ErrAuctionNotFound)
	}

	tx := &memoryAuctionTx{repo: r, auction: a, bidCount: count}
	if highest != nil {
		tx.highest = *highest
		tx.hasHighest = true
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.dirty {
		r.auctions[auctionID] = tx.auction
	}
	for _, b := range tx.accepted {
		r.bids[auctionID] = append(r.bids[auctionID], b)
		r.bidderBids[b.BidderID] = append(r.bidderBids[b.BidderID], b)
	}
	if tx.wallets != nil {
		tx.wallets.commitLocked()
	}
	return nil
}

// CreateWallet stores a new wallet
func (r *MemoryRepo) CreateWallet(ctx context.Context, wallet model.Wallet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.wallets[wallet.UserID]; ok {
		return fmt.Errorf("create wallet for user %s: %w", wallet.UserID, marketerrors.ErrWalletExists)
	}
	r.wallets[wallet.UserID] = wallet
	return nil
}

// GetWallet returns a committed wallet
func (r *MemoryRepo) GetWallet(ctx context.Context, userID string) (model.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return model.Wallet{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.wallets[userID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("get wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	return w, nil
}

// GetTransactions returns a user's ledger entries, oldest first
func (r *MemoryRepo) GetTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.wallets[userID]; !ok {
		return nil, fmt.Errorf("get transactions for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	return append([]model.Transaction{}, r.transactions[userID]...), nil
}

// UpdateWallet runs fn while holding the wallet's lock
func (r *MemoryRepo) UpdateWallet(ctx context.Context, userID string, fn func(tx WalletTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := r.lockWallets([]string{userID})
	defer tx.release()

	if _, ok := tx.wallets[userID]; !ok {
		return fmt.Errorf("update wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tx.commitLocked()
	return nil
}

// lockWallets acquires the wallet locks of userIDs in sorted order and snapshots them
func (r *MemoryRepo) lockWallets(userIDs []string) *memoryWalletTx {
	ids := sortedUnique(userIDs)
	tx := &memoryWalletTx{
		repo:    r,
		locked:  make(map[string]*sync.Mutex, len(ids)),
		wallets: make(map[string]model.Wallet, len(ids)),
	}
	for _, id := range ids {
		l := r.walletLocks.get(id)
		l.Lock()
		tx.locked[id] = l
	}

	r.mu.RLock()
	for _, id := range ids {
		if w, ok := r.wallets[id]; ok {
			tx.wallets[id] = w
		}
	}
	r.mu.RUnlock()
	return tx
}

func sortedUnique(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

type memoryAuctionTx struct {
	repo       *MemoryRepo
	auction    model.Auction
	highest    model.Bid
	hasHighest bool
	bidCount   int
	accepted   []model.Bid
	dirty      bool
	wallets    *memoryWalletTx
}

func (tx *memoryAuctionTx) Auction() model.Auction { return tx.auction }

func (tx *memoryAuctionTx) HighestBid() (model.Bid, bool) { return tx.highest, tx.hasHighest }

func (tx *memoryAuctionTx) BidCount() int { return tx.bidCount }

func (tx *memoryAuctionTx) AcceptBid(bid model.Bid) error {
	if tx.auction.Status != model.StatusActive {
		return fmt.Errorf("accept bid on auction %s: %w", tx.auction.AuctionID, marketerrors.ErrAuctionClosed)
	}
	if !bid.Amount.GreaterThan(tx.auction.CurrentPrice) {
		return &marketerrors.BidTooLowError{CurrentPrice: tx.auction.CurrentPrice}
	}
	tx.auction.CurrentPrice = bid.Amount
	tx.auction.UpdatedAt = bid.CreatedAt
	tx.highest, tx.hasHighest = bid, true
	tx.bidCount++
	tx.accepted = append(tx.accepted, bid)
	tx.dirty = true
	return nil
}

func (tx *memoryAuctionTx) Resolve(status model.AuctionStatus, winnerID string, at time.Time) error {
	return resolveStaged(&tx.auction, &tx.dirty, status, winnerID, at)
}

func (tx *memoryAuctionTx) Wallets(userIDs ...string) (WalletTx, error) {
	if tx.wallets != nil {
		return nil, fmt.Errorf("wallets already locked in this unit: %w", marketerrors.ErrInvalidInput)
	}
	tx.wallets = tx.repo.lockWallets(userIDs)
	return tx.wallets, nil
}

func (tx *memoryAuctionTx) release() {
	if tx.wallets != nil {
		tx.wallets.release()
	}
}

// resolveStaged applies a terminal transition to a staged auction
func resolveStaged(a *model.Auction, dirty *bool, status model.AuctionStatus, winnerID string, at time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("resolve auction %s already %s: %w", a.AuctionID, a.Status, marketerrors.ErrAuctionClosed)
	}
	if !status.Valid() || !status.Terminal() {
		return fmt.Errorf("resolve auction %s to %q: %w", a.AuctionID, status, marketerrors.ErrInvalidInput)
	}
	if (status == model.StatusSold) != (winnerID != "") {
		return fmt.Errorf("resolve auction %s: winner set only on sold: %w", a.AuctionID, marketerrors.ErrInvalidInput)
	}
	a.Status = status
	a.WinnerID = winnerID
	a.UpdatedAt = at
	*dirty = true
	return nil
}

type memoryWalletTx struct {
	repo     *MemoryRepo
	locked   map[string]*sync.Mutex
	wallets  map[string]model.Wallet
	appended []model.Transaction
}

func (tx *memoryWalletTx) Wallet(userID string) (model.Wallet, error) {
	if _, ok := tx.locked[userID]; !ok {
		return model.Wallet{}, fmt.Errorf("wallet %s not locked in this unit: %w", userID, marketerrors.ErrInvalidInput)
	}
	w, ok := tx.wallets[userID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, marketerrors.ErrWalletNotFound)
	}
	return w, nil
}

func (tx *memoryWalletTx) Append(t model.Transaction) (model.Wallet, error) {
	w, err := tx.Wallet(t.UserID)
	if err != nil {
		return model.Wallet{}, err
	}
	next, ok := applyAmount(w, t.Amount, t.CreatedAt)
	if !ok {
		return model.Wallet{}, fmt.Errorf("append %s for user %s: %w", t.Kind, t.UserID, marketerrors.ErrInsufficientFunds)
	}
	tx.wallets[t.UserID] = next
	tx.appended = append(tx.appended, t)
	return next, nil
}

func (tx *memoryWalletTx) Transactions(userID string) ([]model.Transaction, error) {
	if _, err := tx.Wallet(userID); err != nil {
		return nil, err
	}
	tx.repo.mu.RLock()
	out := append([]model.Transaction{}, tx.repo.transactions[userID]...)
	tx.repo.mu.RUnlock()
	for _, t := range tx.appended {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// commitLocked writes staged wallet changes; the caller holds repo.mu
func (tx *memoryWalletTx) commitLocked() {
	for _, t := range tx.appended {
		tx.repo.wallets[t.UserID] = tx.wallets[t.UserID]
		tx.repo.transactions[t.UserID] = append(tx.repo.transactions[t.UserID], t)
	}
}

func (tx *memoryWalletTx) release() {
	for _, l := range tx.locked {
		l.Unlock()
	}
	tx.locked = nil
}
