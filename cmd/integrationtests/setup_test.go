package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bidding "auction-marketplace/internal/biddingService"
	ledger "auction-marketplace/internal/ledgerService"
	"auction-marketplace/internal/lifecycle"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/notify"
	"auction-marketplace/internal/repository"
	"auction-marketplace/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testClock drives every service so tests can move past auction end times
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestMarket is the whole application wired the way main does it, on the memory store
type TestMarket struct {
	Router    *gin.Engine
	Clock     *testClock
	Bus       *notify.Bus
	Scheduler *lifecycle.Scheduler
}

// SetupTestMarket wires a fresh marketplace. New wallets start with grant.
func SetupTestMarket(t *testing.T, grant string) *TestMarket {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	repo := repository.NewMemoryRepo()
	bus := notify.NewBus(16)
	t.Cleanup(bus.Close)

	ledgerSvc := ledger.NewLedgerService(repo,
		ledger.WithInitialGrant(decimal.RequireFromString(grant)),
		ledger.WithClock(clock.Now),
	)
	biddingSvc := bidding.NewBiddingService(repo, ledgerSvc, bus, bidding.WithClock(clock.Now))
	scheduler := lifecycle.NewScheduler(repo, ledgerSvc, bus, lifecycle.WithClock(clock.Now))

	router := server.SetupRouter(server.Services{
		Bidding:      biddingSvc,
		Wallets:      ledgerSvc,
		Events:       bus,
		PingInterval: time.Minute,
	})
	return &TestMarket{Router: router, Clock: clock, Bus: bus, Scheduler: scheduler}
}

// Sweep runs one expiry sweep immediately
func (m *TestMarket) Sweep(t *testing.T) models.SweepReport {
	t.Helper()
	report, err := m.Scheduler.SweepExpired(context.Background())
	require.NoError(t, err)
	return report
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response envelope
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// Data returns the envelope's data object
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response data should be an object: %v", resp)
	return data
}

// MustStatus executes a request and fails unless the status matches
func (m *TestMarket) MustStatus(t *testing.T, status int, method, url string, body any) map[string]any {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, m.Router, method, url, body)
	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	return resp
}

// CreateAuction lists an auction ending after d and returns its id
func (m *TestMarket) CreateAuction(t *testing.T, sellerID, startingPrice string, d time.Duration) string {
	t.Helper()
	resp := m.MustStatus(t, 201, "POST", "/auctions", map[string]any{
		"seller_id":      sellerID,
		"category_id":    "collectibles",
		"title":          "Vintage watch",
		"starting_price": startingPrice,
		"end_time":       m.Clock.Now().Add(d).Format(time.RFC3339),
	})
	return Data(t, resp)["auction_id"].(string)
}
