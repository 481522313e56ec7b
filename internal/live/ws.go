package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single push so one stuck client cannot hold a
// recipient's send lock indefinitely.
const writeTimeout = 10 * time.Second

// WSConn adapts a websocket connection to the Conn interface, pushing
// payloads as JSON text frames.
type WSConn struct {
	ws *websocket.Conn
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Send(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write push frame: %w", err)
	}
	return nil
}

func (c *WSConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
