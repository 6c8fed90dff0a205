package transport

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned once either side has closed the channel
var ErrChannelClosed = errors.New("channel closed")

// IChannel carries whole JSON messages between the widget and the host
type IChannel interface {
	// Receive blocks until the next inbound message arrives
	Receive(ctx context.Context) ([]byte, error)

	// Send delivers one message to the other side
	Send(ctx context.Context, data []byte) error

	Close() error
}
