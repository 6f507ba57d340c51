package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction-marketplace/internal/marketerrors"
	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/notify"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type streamFixture struct {
	bus     *notify.Bus
	service *MockBiddingServiceInterface
	server  *httptest.Server
}

func newStreamFixture(t *testing.T, pingInterval time.Duration) *streamFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	bus := notify.NewBus(8)
	service := NewMockBiddingServiceInterface(ctrl)

	router := newTestRouter()
	router.GET("/auctions/:auction_id/stream", NewStreamHandler(service, bus, pingInterval).StreamAuctionHandler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(bus.Close)
	return &streamFixture{bus: bus, service: service, server: server}
}

func (f *streamFixture) dial(t *testing.T, auctionID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/auctions/" + auctionID + "/stream"
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev model.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func requireClosedWith(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

func TestStreamAuctionHandler_PushesEventsUntilSettled(t *testing.T) {
	f := newStreamFixture(t, time.Minute)
	f.service.EXPECT().GetAuction(gomock.Any(), "a1").
		Return(model.Auction{AuctionID: "a1", Status: model.StatusActive, CurrentPrice: dec("100")}, nil)

	conn, _, err := f.dial(t, "a1")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.bus.Subscribers("a1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(model.Event{Kind: model.EventBidAccepted, AuctionID: "a1", BidderID: "u1", Amount: dec("150")})
	f.bus.Publish(model.Event{Kind: model.EventBidAccepted, AuctionID: "other", Amount: dec("999")})
	f.bus.Publish(model.Event{Kind: model.EventAuctionSettled, AuctionID: "a1", Status: model.StatusSold, WinnerID: "u1", Amount: dec("150")})

	ev := readEvent(t, conn)
	require.Equal(t, model.EventBidAccepted, ev.Kind)
	require.Equal(t, "u1", ev.BidderID)
	require.True(t, ev.Amount.Equal(dec("150")))

	ev = readEvent(t, conn)
	require.Equal(t, model.EventAuctionSettled, ev.Kind)
	require.Equal(t, model.StatusSold, ev.Status)

	requireClosedWith(t, conn, websocket.CloseNormalClosure)
	require.Eventually(t, func() bool { return f.bus.Subscribers("a1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamAuctionHandler_TerminalAuction(t *testing.T) {
	f := newStreamFixture(t, time.Minute)
	f.service.EXPECT().GetAuction(gomock.Any(), "done").Return(model.Auction{
		AuctionID:    "done",
		Status:       model.StatusSold,
		WinnerID:     "w",
		CurrentPrice: dec("75"),
	}, nil)

	conn, _, err := f.dial(t, "done")
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	require.Equal(t, model.EventAuctionSettled, ev.Kind)
	require.Equal(t, model.StatusSold, ev.Status)
	require.Equal(t, "w", ev.WinnerID)
	require.True(t, ev.Amount.Equal(dec("75")))
	requireClosedWith(t, conn, websocket.CloseNormalClosure)
}

func TestStreamAuctionHandler_UnknownAuction(t *testing.T) {
	f := newStreamFixture(t, time.Minute)
	f.service.EXPECT().GetAuction(gomock.Any(), "missing").Return(model.Auction{}, marketerrors.ErrAuctionNotFound)

	_, resp, err := f.dial(t, "missing")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Eventually(t, func() bool { return f.bus.Subscribers("missing") == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamAuctionHandler_BusShutdown(t *testing.T) {
	f := newStreamFixture(t, time.Minute)
	f.service.EXPECT().GetAuction(gomock.Any(), "a1").Return(model.Auction{AuctionID: "a1", Status: model.StatusActive}, nil)

	conn, _, err := f.dial(t, "a1")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.bus.Subscribers("a1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.bus.Close()
	requireClosedWith(t, conn, websocket.CloseGoingAway)
}

func TestStreamAuctionHandler_ClientDisconnectReleasesSubscription(t *testing.T) {
	f := newStreamFixture(t, 50*time.Millisecond)
	f.service.EXPECT().GetAuction(gomock.Any(), "a1").Return(model.Auction{AuctionID: "a1", Status: model.StatusActive}, nil)

	conn, _, err := f.dial(t, "a1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.bus.Subscribers("a1") == 1 }, 2*time.Second, 10*time.Millisecond)

	// answer pings and note the first one
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never pinged")
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.bus.Subscribers("a1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
