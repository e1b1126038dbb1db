package ginserver

import (
	"context"
	"errors"
	"log/slog"

	gin "github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"bizlink/internal/realtime"
)

// WSHandler upgrades to a websocket, authenticates the session against the
// gateway, and pumps inbound frames into Dispatch until the peer goes away.
type WSHandler struct {
	Gateway *realtime.Gateway
	Logger  *slog.Logger
}

func (h WSHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = extractBearerToken(c.GetHeader("Authorization"))
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket accept failed", "error", err)
		}
		return
	}

	ctx := c.Request.Context()
	handle := realtime.NewWSHandle(conn, 0)
	sess, err := h.Gateway.Connect(ctx, token, handle)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}
	defer h.Gateway.Disconnect(ctx, sess)

	for {
		var inbound realtime.InboundEvent
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) && h.Logger != nil {
				h.Logger.Debug("websocket read failed", "user_id", sess.UserID, "error", err)
			}
			return
		}
		h.Gateway.Dispatch(ctx, sess, inbound)
	}
}
