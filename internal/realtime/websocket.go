package realtime

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// WritePump drains c.Send into ws and pings every pingInterval. It returns when Send is
// closed or a write fails; either way the socket is closed so the read loop unblocks.
// Callers must not release ws until WritePump has returned.
func WritePump(ws *websocket.Conn, c *Conn, pingInterval, writeTimeout time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("ws write failed", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ws ping failed", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}
