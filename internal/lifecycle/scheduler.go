// Package lifecycle closes auctions whose end time has passed.
//
// A sweep lists due auctions and settles each one in its own update unit:
// sold to the highest bidder when they can pay, expired otherwise. Sweeps are
// idempotent; an auction already in a terminal status is left untouched.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auction-marketplace/internal/marketerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/utils"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Settler moves the winning price from buyer to seller inside a locked unit
type Settler interface {
	Settle(tx repository.WalletTx, auctionID, buyerID, sellerID string, price decimal.Decimal) (models.Transaction, models.Transaction, error)
}

// EventPublisher receives AuctionSettled notifications after commit
type EventPublisher interface {
	Publish(ev models.Event) int
}

// Scheduler runs expiry sweeps on a cron schedule
type Scheduler struct {
	repo     repository.MarketDB
	ledger   Settler
	events   EventPublisher
	schedule string
	timeout  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron // nil unless started
}

// ErrAlreadyStarted is returned by Start while a runner is active
var ErrAlreadyStarted = errors.New("lifecycle: scheduler already started")

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSchedule sets the cron spec, e.g. "@every 5s"
func WithSchedule(spec string) Option {
	return func(s *Scheduler) { s.schedule = spec }
}

// WithTimeout bounds a single sweep
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler. events may be nil.
func NewScheduler(repo repository.MarketDB, ledger Settler, events EventPublisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		ledger:   ledger,
		events:   events,
		schedule: "@every 5s",
		timeout:  30 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the sweep job and starts the cron runner.
// A tick that fires while the previous sweep is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if _, err := s.SweepExpired(sweepCtx); err != nil {
			utils.Error("expiry sweep failed", map[string]any{"error": err.Error()})
		}
	})
	if err != nil {
		return fmt.Errorf("lifecycle: invalid schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	utils.Info("expiry scheduler started", map[string]any{"schedule": s.schedule})
	return nil
}

// Stop halts the runner and waits for a sweep in progress. The scheduler may be
// started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	utils.Info("expiry scheduler stopped", nil)
}

// SweepExpired settles every auction due at the current time.
// Per-auction failures are collected in the report; the returned error is only
// set when the due list itself cannot be read.
func (s *Scheduler) SweepExpired(ctx context.Context) (models.SweepReport, error) {
	report := models.SweepReport{Sold: []string{}, Expired: []string{}, Failed: map[string]string{}}

	ids, err := s.repo.ListDueAuctionIDs(ctx, s.now())
	if err != nil {
		return report, fmt.Errorf("lifecycle: list due auctions: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("lifecycle: sweep interrupted: %w", err)
		}
		outcome, err := s.settle(ctx, id)
		if err != nil {
			report.Failed[id] = err.Error()
			fields := map[string]any{"auction_id": id, "error": err.Error()}
			if errors.Is(err, marketerrors.ErrInvariantViolation) {
				utils.Error("auction settlement refused, state is inconsistent", fields)
			} else {
				utils.Warn("auction settlement failed", fields)
			}
			continue
		}
		switch outcome.Status {
		case models.StatusSold:
			report.Sold = append(report.Sold, id)
		case models.StatusExpired:
			report.Expired = append(report.Expired, id)
		default:
			continue
		}
		s.publish(outcome)
	}

	if len(ids) > 0 {
		utils.Info("expiry sweep finished", map[string]any{
			"due":     len(ids),
			"sold":    len(report.Sold),
			"expired": len(report.Expired),
			"failed":  len(report.Failed),
		})
	}
	return report, nil
}

// settle resolves one auction. The returned event has an empty Status when
// there was nothing to do.
func (s *Scheduler) settle(ctx context.Context, auctionID string) (models.Event, error) {
	var outcome models.Event
	err := s.repo.UpdateAuction(ctx, auctionID, func(tx repository.AuctionTx) error {
		a := tx.Auction()
		now := s.now()
		if a.Status != models.StatusActive || now.Before(a.EndTime) {
			return nil
		}

		top, ok := tx.HighestBid()
		if !ok {
			if err := tx.Resolve(models.StatusExpired, "", now); err != nil {
				return err
			}
			outcome = settledEvent(tx.Auction(), now)
			return nil
		}
		if !top.Amount.Equal(a.CurrentPrice) {
			return fmt.Errorf("highest bid %s differs from current price %s: %w", top.Amount, a.CurrentPrice, marketerrors.ErrInvariantViolation)
		}

		wallets, err := tx.Wallets(top.BidderID, a.SellerID)
		if err != nil {
			return err
		}
		_, _, err = s.ledger.Settle(wallets, a.AuctionID, top.BidderID, a.SellerID, top.Amount)
		switch {
		case errors.Is(err, marketerrors.ErrInsufficientFunds):
			utils.Warn("winning bidder cannot pay, auction expires unsold", map[string]any{
				"auction_id": a.AuctionID,
				"bidder_id":  top.BidderID,
				"price":      top.Amount.String(),
			})
			if err := tx.Resolve(models.StatusExpired, "", now); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Resolve(models.StatusSold, top.BidderID, now); err != nil {
				return err
			}
		}
		outcome = settledEvent(tx.Auction(), now)
		return nil
	})
	if err != nil {
		return models.Event{}, fmt.Errorf("lifecycle: settle auction %s: %w", auctionID, err)
	}
	return outcome, nil
}

func settledEvent(a models.Auction, at time.Time) models.Event {
	ev := models.Event{
		Kind:       models.EventAuctionSettled,
		AuctionID:  a.AuctionID,
		Status:     a.Status,
		WinnerID:   a.WinnerID,
		OccurredAt: at,
	}
	if a.Status == models.StatusSold {
		ev.Amount = a.CurrentPrice
	}
	return ev
}

func (s *Scheduler) publish(ev models.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
