package perftests

import (
	"context"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name            string
	NumUsers        int
	NumAuctions     int
	BidsPerUser     int
	ReadRatio       int
	MaxBidIncrement int
	Burst           bool // if true, no delay between ops
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

// LatencySummary is a snapshot of recorded latencies
type LatencySummary struct {
	Count         int
	Min, Max, Avg time.Duration
	P95, P99      time.Duration
}

func (om *OperationMetrics) Summary() LatencySummary {
	om.mu.Lock()
	sorted := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()
	if len(sorted) == 0 {
		return LatencySummary{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	at := func(q float64) time.Duration { return sorted[int(q*float64(len(sorted)-1))] }
	return LatencySummary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   total / time.Duration(len(sorted)),
		P95:   at(0.95),
		P99:   at(0.99),
	}
}

func micros(d time.Duration) float64 { return float64(d) / float64(time.Microsecond) }

// Benchmark_Load_BiddingSystem runs multiple scenarios
func Benchmark_Load_BiddingSystem(b *testing.B) {
	scenarios := []LoadScenario{
		{"Low-Contention-WriteHeavy", 200, 200, 10, 0, 50, false},
		{"High-Contention-WriteHeavy", 500, 10, 20, 0, 20, false},
		{"Mixed-Workload", 300, 50, 15, 7, 30, false},
		{"ReadHeavy", 200, 50, 5, 9, 20, false},
		{"Edge-Case-SingleAuction", 100, 1, 10, 5, 10, false},
		{"Peak-Burst", 500, 50, 50, 0, 20, true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()

	m := newMarket()
	auctions := m.listAuctions(b, s.NumAuctions, 100)
	users := m.openWallets(b, "user", s.NumUsers)
	ctx := context.Background()

	var totalOps, successfulBids, failedBids, totalReads int64
	auctionSuccess := make([]int64, s.NumAuctions)
	metrics := &OperationMetrics{}

	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			idx := rnd.Intn(s.NumAuctions)
			opType := rnd.Intn(10)

			opStart := time.Now()
			if opType < s.ReadRatio {
				// no bids yet is an expected outcome here
				_, _ = m.svc.GetLeadingBid(ctx, auctions[idx])
				atomic.AddInt64(&totalReads, 1)
			} else {
				amount := decimal.NewFromInt(int64(101 + rnd.Intn(s.MaxBidIncrement*s.BidsPerUser)))
				if _, err := m.svc.PlaceBid(ctx, auctions[idx], users[rnd.Intn(len(users))], amount); err != nil {
					atomic.AddInt64(&failedBids, 1)
				} else {
					atomic.AddInt64(&successfulBids, 1)
					atomic.AddInt64(&auctionSuccess[idx], 1)
				}
			}

			metrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	lat := metrics.Summary()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf("%s: auctions=%d ops=%d accepted=%d rejected=%d reads=%d elapsed=%s throughput=%.0f ops/s",
		s.Name, s.NumAuctions, totalOps, successfulBids, failedBids, totalReads, elapsed,
		float64(totalOps)/elapsed.Seconds())
	b.Logf("%s: latency us min=%.1f avg=%.1f p95=%.1f p99=%.1f max=%.1f heap=%.1fMB",
		s.Name, micros(lat.Min), micros(lat.Avg), micros(lat.P95), micros(lat.P99), micros(lat.Max),
		float64(mem.Alloc)/(1<<20))

	// the leading bid of every auction must still match its current price
	for i, id := range auctions {
		if auctionSuccess[i] == 0 {
			continue
		}
		auction, err := m.svc.GetAuction(ctx, id)
		if err != nil {
			b.Fatalf("get auction %s: %v", id, err)
		}
		leading, err := m.svc.GetLeadingBid(ctx, id)
		if err != nil {
			b.Fatalf("leading bid %s: %v", id, err)
		}
		if !leading.Amount.Equal(auction.CurrentPrice) {
			b.Fatalf("auction %s: current price %s but leading bid %s", id, auction.CurrentPrice, leading.Amount)
		}
	}
}
