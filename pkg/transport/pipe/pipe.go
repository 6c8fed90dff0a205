package pipe

import (
	"context"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
)

type shared struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (s *shared) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// End is one side of an in-process channel
type End struct {
	in     <-chan []byte
	out    chan<- []byte
	shared *shared
}

var _ transport.IChannel = (*End)(nil)

// New returns two connected ends. Closing either closes both.
func New() (*End, *End) {
	aToB := make(chan []byte)
	bToA := make(chan []byte)
	s := &shared{done: make(chan struct{})}
	return &End{in: bToA, out: aToB, shared: s}, &End{in: aToB, out: bToA, shared: s}
}

func (e *End) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-e.in:
		return data, nil
	case <-e.shared.done:
		return nil, transport.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *End) Send(ctx context.Context, data []byte) error {
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case e.out <- msg:
		return nil
	case <-e.shared.done:
		return transport.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *End) Close() error {
	e.shared.close()
	return nil
}
