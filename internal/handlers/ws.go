package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/apperr"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/middleware"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/realtime"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/chat"
)

const (
	maxFrameBytes       = 16 << 10
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

type WSHandler struct {
	Chat    *chat.ChatService
	Gateway *realtime.Gateway
	Log     *zap.Logger

	SendRate     float64
	SendBurst    int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Upgrade must be mounted after middleware.JWT so the handshake is authenticated
// before the connection is accepted.
func (h *WSHandler) Upgrade() fiber.Handler {
	return websocket.New(h.Handle)
}

func (h *WSHandler) Handle(ws *websocket.Conn) {
	userID, ok := ws.Locals(middleware.LocalUserID).(uuid.UUID)
	if !ok {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		_ = ws.Close()
		return
	}

	ping, writeTimeout := h.intervals()

	conn := realtime.NewConn(userID)
	h.Gateway.Register(conn)
	done := make(chan struct{})
	go func() {
		defer close(done)
		realtime.WritePump(ws, conn, ping, writeTimeout, h.Log)
	}()
	// ws is recycled by the library once Handle returns; the pump must exit first.
	defer func() {
		h.Gateway.Unregister(conn)
		<-done
	}()

	// a missed pong for two ping periods counts as a dead peer
	readWait := 2 * ping
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.SendRate), h.SendBurst)
	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Log.Debug("ws read", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		if mt != websocket.TextMessage {
			continue
		}
		h.dispatch(context.Background(), conn, raw, limiter)
	}
}

func (h *WSHandler) intervals() (ping, write time.Duration) {
	ping, write = h.PingInterval, h.WriteTimeout
	if ping <= 0 {
		ping = defaultPingInterval
	}
	if write <= 0 {
		write = defaultWriteTimeout
	}
	return ping, write
}

// dispatch runs one client frame. Errors go back to this connection only and never
// close it.
func (h *WSHandler) dispatch(ctx context.Context, conn *realtime.Conn, raw []byte, limiter *rate.Limiter) {
	ev, err := realtime.DecodeClientEvent(raw)
	if err != nil {
		h.sendError(conn, err, nil)
		return
	}

	switch e := ev.(type) {
	case realtime.PingEvent:
		h.Gateway.SendTo(conn, realtime.EventPong, fiber.Map{"ts": time.Now().UTC()})
	case realtime.JoinEvent:
		h.Gateway.Join(conn, e.ConversationID)
	case realtime.LeaveEvent:
		h.Gateway.Leave(conn, e.ConversationID)
	case realtime.SendEvent:
		if !limiter.Allow() {
			id := e.ConversationID
			h.Gateway.SendTo(conn, realtime.EventError, realtime.ErrorPayload{
				Code:           "rate_limited",
				Message:        "Sending too fast, slow down",
				ConversationID: &id,
			})
			return
		}
		if _, err := h.Chat.Deliver(ctx, e.ConversationID, conn.UserID, e.Body); err != nil {
			id := e.ConversationID
			h.sendError(conn, err, &id)
		}
	}
}

func (h *WSHandler) sendError(conn *realtime.Conn, err error, conversationID *uuid.UUID) {
	code := apperr.Code(err)
	_, msg := classify(err)
	if code == "internal" {
		h.Log.Error("ws event failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}
	h.Gateway.SendTo(conn, realtime.EventError, realtime.ErrorPayload{
		Code:           code,
		Message:        msg,
		ConversationID: conversationID,
	})
}
