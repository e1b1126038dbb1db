package realtime

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSHandle adapts a websocket connection to the Handle interface the registry
// and broadcasters operate on.
type WSHandle struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWSHandle(conn *websocket.Conn, writeTimeout time.Duration) *WSHandle {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSHandle{conn: conn, writeTimeout: writeTimeout}
}

func (h *WSHandle) Send(ctx context.Context, event Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, h.conn, event)
}

func (h *WSHandle) Close(reason string) error {
	return h.conn.Close(websocket.StatusNormalClosure, reason)
}
