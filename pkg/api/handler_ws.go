package api

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/mt5trader/gateway/pkg/gateway"
)

// wsHandler upgrades HTTP connections to WebSocket and runs one gateway
// session per connection until the peer disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Operator clients connect from native apps and localhost tooling, so
		// origin checks stay off; auth happens inside gateway.connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.serveSession(c.Request().Context(), conn)
	return nil
}

// serveSession drives the read loop for one connection. Frames produced by a
// request are written back in order before the next read.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	session := gateway.NewSession(s.services)
	logger := s.logger.With("conn_id", uuid.NewString())
	logger.Info("WebSocket session opened")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("WebSocket session closed", "error", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		for _, frame := range session.Handle(ctx, data) {
			out, err := json.Marshal(frame)
			if err != nil {
				logger.Error("Failed to encode frame", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				logger.Warn("Failed to write frame", "error", err)
				return
			}
		}
	}
}
