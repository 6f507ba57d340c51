package handler

import (
	"context"
	"net/http"
	"time"

	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/notify"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	streamWriteWait = 10 * time.Second
	streamReadLimit = 512
)

type AuctionReader interface {
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
}

type EventSubscriber interface {
	Subscribe(auctionID string) *notify.Subscription
}

// StreamHandler pushes an auction's events to a websocket client.
// Events are advisory; clients re-query the REST endpoints for authoritative state.
type StreamHandler struct {
	auctions     AuctionReader
	events       EventSubscriber
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewStreamHandler(auctions AuctionReader, events EventSubscriber, pingInterval time.Duration) *StreamHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &StreamHandler{
		auctions: auctions,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
	}
}

// StreamAuctionHandler handles GET /auctions/:auction_id/stream
func (h *StreamHandler) StreamAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	// subscribe before reading the auction so a settlement in between is not missed
	sub := h.events.Subscribe(auctionID)
	defer sub.Close()

	auction, err := h.auctions.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		helpers.LogFailure("StreamAuctionHandler", "cannot stream auction", status, map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied
		utils.Warn("StreamAuctionHandler: websocket upgrade failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	defer conn.Close()

	helpers.LogSuccess("StreamAuctionHandler", "stream opened", map[string]any{"auction_id": auctionID})
	defer func() {
		utils.Info("StreamAuctionHandler: stream closed", map[string]any{"auction_id": auctionID, "dropped": sub.Dropped()})
	}()

	if auction.Status.Terminal() {
		h.writeEvent(conn, model.Event{
			Kind:       model.EventAuctionSettled,
			AuctionID:  auction.AuctionID,
			Status:     auction.Status,
			WinnerID:   auction.WinnerID,
			Amount:     soldPrice(auction),
			OccurredAt: auction.UpdatedAt,
		})
		h.closeWith(conn, websocket.CloseNormalClosure, "auction settled")
		return
	}

	done := h.readUntilClosed(conn)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Kind == model.EventAuctionSettled {
				h.closeWith(conn, websocket.CloseNormalClosure, "auction settled")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are processed.
// The returned channel is closed once the client goes away.
func (h *StreamHandler) readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	readWait := 2 * h.pingInterval

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func (h *StreamHandler) writeEvent(conn *websocket.Conn, ev model.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(ev); err != nil {
		utils.Warn("StreamAuctionHandler: write failed", map[string]any{"auction_id": ev.AuctionID, "error": err.Error()})
		return err
	}
	return nil
}

func (h *StreamHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

func soldPrice(a model.Auction) decimal.Decimal {
	if a.Status == model.StatusSold {
		return a.CurrentPrice
	}
	return decimal.Decimal{}
}
