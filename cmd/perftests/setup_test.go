package perftests

import (
	"context"
	"fmt"
	"testing"
	"time"

	bidding "auction-marketplace/internal/biddingService"
	ledger "auction-marketplace/internal/ledgerService"
	"auction-marketplace/internal/repository"

	"github.com/shopspring/decimal"
)

// market bundles the stack the benchmarks drive
type market struct {
	repo   *repository.MemoryRepo
	ledger *ledger.LedgerService
	svc    *bidding.BiddingService
}

// newMarket gives every wallet a grant large enough that funds never limit a bid
func newMarket() *market {
	repo := repository.NewMemoryRepo()
	l := ledger.NewLedgerService(repo, ledger.WithInitialGrant(decimal.NewFromInt(1_000_000_000)))
	return &market{repo: repo, ledger: l, svc: bidding.NewBiddingService(repo, l, nil)}
}

func (m *market) listAuctions(tb testing.TB, n int, startingPrice int64) []string {
	tb.Helper()
	ids := make([]string, n)
	for i := range ids {
		a, err := m.svc.CreateAuction(context.Background(), bidding.AuctionDraft{
			SellerID:      fmt.Sprintf("seller_%d", i%10),
			CategoryID:    "bench",
			Title:         fmt.Sprintf("Benchmark auction %d", i),
			StartingPrice: decimal.NewFromInt(startingPrice),
			EndTime:       time.Now().Add(24 * time.Hour),
		})
		if err != nil {
			tb.Fatalf("failed to create auction: %v", err)
		}
		ids[i] = a.AuctionID
	}
	return ids
}

func (m *market) openWallets(tb testing.TB, prefix string, n int) []string {
	tb.Helper()
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("%s_%d", prefix, i)
		if _, err := m.ledger.EnsureWallet(context.Background(), users[i]); err != nil {
			tb.Fatalf("failed to open wallet: %v", err)
		}
	}
	return users
}
