package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	bidding "auction-marketplace/internal/biddingService"
	ledger "auction-marketplace/internal/ledgerService"
	"auction-marketplace/internal/marketerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 0
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event{}, p.events...)
}

type market struct {
	clock     *clock
	repo      *repository.MemoryRepo
	ledger    *ledger.LedgerService
	bidding   *bidding.BiddingService
	events    *recordingPublisher
	scheduler *Scheduler
}

func newMarket(t *testing.T) *market {
	t.Helper()
	c := &clock{t: start}
	repo := repository.NewMemoryRepo()
	l := ledger.NewLedgerService(repo, ledger.WithClock(c.Now))
	events := &recordingPublisher{}
	return &market{
		clock:     c,
		repo:      repo,
		ledger:    l,
		bidding:   bidding.NewBiddingService(repo, l, nil, bidding.WithClock(c.Now)),
		events:    events,
		scheduler: NewScheduler(repo, l, events, WithClock(c.Now)),
	}
}

func (m *market) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := m.ledger.EnsureWallet(context.Background(), userID)
	require.NoError(t, err)
	_, _, err = m.ledger.Deposit(context.Background(), userID, dec(amount))
	require.NoError(t, err)
}

func (m *market) listing(t *testing.T, sellerID, price string, d time.Duration) models.Auction {
	t.Helper()
	a, err := m.bidding.CreateAuction(context.Background(), bidding.AuctionDraft{
		SellerID:      sellerID,
		CategoryID:    "books",
		Title:         "First edition",
		StartingPrice: dec(price),
		EndTime:       m.clock.Now().Add(d),
	})
	require.NoError(t, err)
	return a
}

func (m *market) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := m.ledger.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func TestScheduler_SettlesToHighestBidder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	m.fund(t, "X", "200")
	m.fund(t, "Y", "200")
	a := m.listing(t, "seller", "100", time.Hour)

	_, err := m.bidding.PlaceBid(ctx, a.AuctionID, "Y", dec("120"))
	require.NoError(t, err)
	_, err = m.bidding.PlaceBid(ctx, a.AuctionID, "X", dec("150"))
	require.NoError(t, err)

	m.clock.Advance(time.Hour)
	report, err := m.scheduler.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.AuctionID}, report.Sold)
	require.Empty(t, report.Expired)
	require.Empty(t, report.Failed)

	got, err := m.repo.GetAuction(ctx, a.AuctionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSold, got.Status)
	require.Equal(t, "X", got.WinnerID)

	require.True(t, m.balance(t, "X").Equal(dec("50")))
	require.True(t, m.balance(t, "seller").Equal(dec("150")))
	require.True(t, m.balance(t, "Y").Equal(dec("200")), "losing bidders keep their funds")

	txs, err := m.ledger.Transactions(ctx, "X")
	require.NoError(t, err)
	last := txs[len(txs)-1]
	require.Equal(t, models.KindPurchase, last.Kind)
	require.Equal(t, a.AuctionID, last.AuctionID)

	events := m.events.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.EventAuctionSettled, events[0].Kind)
	require.Equal(t, models.StatusSold, events[0].Status)
	require.Equal(t, "X", events[0].WinnerID)
	require.True(t, events[0].Amount.Equal(dec("150")))
}

func TestScheduler_WinnerCannotPay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	m.fund(t, "X", "200")
	a := m.listing(t, "seller", "100", time.Hour)

	_, err := m.bidding.PlaceBid(ctx, a.AuctionID, "X", dec("150"))
	require.NoError(t, err)
	_, _, err = m.ledger.Withdraw(ctx, "X", dec("100"))
	require.NoError(t, err)

	m.clock.Advance(2 * time.Hour)
	report, err := m.scheduler.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.AuctionID}, report.Expired)
	require.Empty(t, report.Sold)

	got, err := m.repo.GetAuction(ctx, a.AuctionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusExpired, got.Status)
	require.Empty(t, got.WinnerID)

	require.True(t, m.balance(t, "X").Equal(dec("100")))
	require.True(t, m.balance(t, "seller").IsZero())

	events := m.events.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.StatusExpired, events[0].Status)
	require.True(t, events[0].Amount.IsZero())
}

func TestScheduler_NoBidsExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	due := m.listing(t, "seller", "10", time.Minute)
	later := m.listing(t, "seller", "10", 3*time.Hour)

	m.clock.Advance(time.Hour)
	report, err := m.scheduler.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{due.AuctionID}, report.Expired)

	got, err := m.repo.GetAuction(ctx, later.AuctionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, got.Status)
}

func TestScheduler_SweepIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	m.fund(t, "X", "500")
	sold := m.listing(t, "seller", "10", time.Minute)
	expired := m.listing(t, "seller", "10", time.Minute)
	_, err := m.bidding.PlaceBid(ctx, sold.AuctionID, "X", dec("300"))
	require.NoError(t, err)

	m.clock.Advance(time.Hour)
	first, err := m.scheduler.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{sold.AuctionID}, first.Sold)
	require.Equal(t, []string{expired.AuctionID}, first.Expired)

	second, err := m.scheduler.SweepExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, second.Sold)
	require.Empty(t, second.Expired)
	require.Empty(t, second.Failed)

	// settling a sold auction again is a no-op
	require.NoError(t, func() error {
		_, err := m.scheduler.settle(ctx, sold.AuctionID)
		return err
	}())

	require.True(t, m.balance(t, "X").Equal(dec("200")))
	require.True(t, m.balance(t, "seller").Equal(dec("300")))
	require.Len(t, m.events.Events(), 2)
}

// Concurrent sweeps settle each auction exactly once
func TestScheduler_ConcurrentSweeps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	m.fund(t, "X", "1000")
	ids := make([]string, 10)
	for i := range ids {
		a := m.listing(t, "seller", "1", time.Minute)
		ids[i] = a.AuctionID
		_, err := m.bidding.PlaceBid(ctx, a.AuctionID, "X", dec("10"))
		require.NoError(t, err)
	}
	m.clock.Advance(time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold []string
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := m.scheduler.SweepExpired(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			sold = append(sold, report.Sold...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.ElementsMatch(t, ids, sold)
	require.True(t, m.balance(t, "X").Equal(dec("900")))
	require.True(t, m.balance(t, "seller").Equal(dec("100")))
}

// Bidders keep bidding while the clock crosses EndTime and sweeps run. The auction
// settles once, to the top accepted bid, and nothing is accepted at or after EndTime.
func TestScheduler_BidsRacingSettlement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for round := 0; round < 25; round++ {
		m := newMarket(t)
		bidders := make([]string, 5)
		for i := range bidders {
			bidders[i] = fmt.Sprintf("bidder-%d", i)
			m.fund(t, bidders[i], "10000")
		}
		a := m.listing(t, "seller", "1", time.Second)

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			unexpected []error
			sold       []string
		)
		record := func(err error) {
			mu.Lock()
			unexpected = append(unexpected, err)
			mu.Unlock()
		}

		for i, bidder := range bidders {
			wg.Add(1)
			go func(i int, bidder string) {
				defer wg.Done()
				for k := 1; k <= 20; k++ {
					_, err := m.bidding.PlaceBid(ctx, a.AuctionID, bidder, decimal.NewFromInt(int64(k*10+i)))
					if err != nil && !errors.Is(err, marketerrors.ErrBidTooLow) && !errors.Is(err, marketerrors.ErrAuctionClosed) {
						record(err)
					}
				}
			}(i, bidder)
		}
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 10; k++ {
					report, err := m.scheduler.SweepExpired(ctx)
					if err != nil {
						record(err)
						return
					}
					for id, reason := range report.Failed {
						record(fmt.Errorf("auction %s failed: %s", id, reason))
					}
					mu.Lock()
					sold = append(sold, report.Sold...)
					mu.Unlock()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.clock.Advance(time.Second)
		}()
		wg.Wait()
		require.Empty(t, unexpected)

		report, err := m.scheduler.SweepExpired(ctx)
		require.NoError(t, err)
		sold = append(sold, report.Sold...)

		got, err := m.repo.GetAuction(ctx, a.AuctionID)
		require.NoError(t, err)
		bids, err := m.repo.GetBidsByAuction(ctx, a.AuctionID)
		require.NoError(t, err)
		if len(bids) == 0 {
			require.Equal(t, models.StatusExpired, got.Status)
			require.Empty(t, sold)
			continue
		}

		top := bids[0]
		for _, b := range bids {
			require.True(t, b.CreatedAt.Before(got.EndTime), "bid %s accepted at %s", b.BidID, b.CreatedAt)
		}
		require.Equal(t, models.StatusSold, got.Status)
		require.Equal(t, top.BidderID, got.WinnerID)
		require.True(t, got.CurrentPrice.Equal(top.Amount))
		require.Equal(t, []string{a.AuctionID}, sold)

		txs, err := m.ledger.Transactions(ctx, "seller")
		require.NoError(t, err)
		var sales []models.Transaction
		for _, tx := range txs {
			if tx.Kind == models.KindSale {
				sales = append(sales, tx)
			}
		}
		require.Len(t, sales, 1)
		require.True(t, sales[0].Amount.Equal(top.Amount))
		require.True(t, m.balance(t, top.BidderID).Equal(dec("10000").Sub(top.Amount)))
	}
}

func TestScheduler_InvariantViolationLeavesAuctionActive(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := repository.NewMockMarketDB(ctrl)
	tx := repository.NewMockAuctionTx(ctrl)
	events := &recordingPublisher{}

	repo.EXPECT().ListDueAuctionIDs(gomock.Any(), start).Return([]string{"a1"}, nil)
	repo.EXPECT().UpdateAuction(gomock.Any(), "a1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, fn func(repository.AuctionTx) error) error {
			return fn(tx)
		})
	tx.EXPECT().Auction().Return(models.Auction{
		AuctionID:    "a1",
		SellerID:     "seller",
		CurrentPrice: dec("200"),
		EndTime:      start.Add(-time.Minute),
		Status:       models.StatusActive,
	})
	tx.EXPECT().HighestBid().Return(models.Bid{AuctionID: "a1", BidderID: "X", Amount: dec("150")}, true)
	// no Resolve and no Wallets: the unit is abandoned untouched

	s := NewScheduler(repo, ledger.NewLedgerService(repo), events, WithClock(func() time.Time { return start }))
	report, err := s.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Contains(t, report.Failed, "a1")
	require.Empty(t, report.Sold)
	require.Empty(t, report.Expired)
	require.Empty(t, events.Events())
}

func TestScheduler_SweepErrors(t *testing.T) {
	t.Parallel()

	t.Run("cancelled_context", func(t *testing.T) {
		m := newMarket(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.scheduler.SweepExpired(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("auction_vanished", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := repository.NewMockMarketDB(ctrl)
		repo.EXPECT().ListDueAuctionIDs(gomock.Any(), gomock.Any()).Return([]string{"gone"}, nil)
		repo.EXPECT().UpdateAuction(gomock.Any(), "gone", gomock.Any()).Return(marketerrors.ErrAuctionNotFound)

		report, err := NewScheduler(repo, ledger.NewLedgerService(repo), nil).SweepExpired(context.Background())
		require.NoError(t, err)
		require.Contains(t, report.Failed, "gone")
	})
}

func TestScheduler_StartRunsOnSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newMarket(t)
	a := m.listing(t, "seller", "5", time.Minute)
	m.clock.Advance(time.Hour)

	s := NewScheduler(m.repo, m.ledger, m.events, WithClock(m.clock.Now), WithSchedule("@every 1s"), WithTimeout(time.Second))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool {
		got, err := m.repo.GetAuction(ctx, a.AuctionID)
		return err == nil && got.Status == models.StatusExpired
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	m := newMarket(t)
	s := NewScheduler(m.repo, m.ledger, nil, WithSchedule("every now and then"))
	require.Error(t, s.Start(context.Background()))
	s.Stop()
}

func TestScheduler_StartTwice(t *testing.T) {
	t.Parallel()
	m := newMarket(t)
	s := NewScheduler(m.repo, m.ledger, nil, WithSchedule("@every 1h"))

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Stop()
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
