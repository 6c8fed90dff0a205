package websocketChannel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"github.com/coder/websocket"
)

const (
	// DefaultReadLimit bounds a single inbound message
	DefaultReadLimit = 1 << 20
	writeTimeout     = 5 * time.Second
)

// WebsocketChannel carries one message per text frame
type WebsocketChannel struct {
	conn *websocket.Conn
}

var _ transport.IChannel = (*WebsocketChannel)(nil)

// Accept upgrades an HTTP request. originPatterns lists the cross origin hosts allowed to
// connect; same-origin requests are always allowed.
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string) (*WebsocketChannel, error) {
	opts := &websocket.AcceptOptions{}
	if len(originPatterns) > 0 {
		opts.OriginPatterns = originPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to accept websocket: %w", err)
	}
	return newChannel(conn), nil
}

// Dial opens a channel to a bridge server
func Dial(ctx context.Context, url string) (*WebsocketChannel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return newChannel(conn), nil
}

func newChannel(conn *websocket.Conn) *WebsocketChannel {
	conn.SetReadLimit(DefaultReadLimit)
	return &WebsocketChannel{conn: conn}
}

func (c *WebsocketChannel) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
				return nil, transport.ErrChannelClosed
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *WebsocketChannel) Send(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return transport.ErrChannelClosed
		}
		return err
	}
	return nil
}

func (c *WebsocketChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closed")
}
