package natsChannel

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const inboundBuffer = 256

// NATSConfig configures the connection to the NATS server
type NATSConfig struct {
	URL             string
	Name            string
	CredentialsFile string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

// Connect dials NATS with reconnect handling that logs through logger
func Connect(cfg *NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "eigenx-widget-bridge"
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 60
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Sugar().Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Sugar().Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Sugar().Infow("NATS connection closed")
		}),
	}

	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSChannel receives on one subject and publishes on another
type NATSChannel struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	msgs     chan *nats.Msg
	outbound string

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.IChannel = (*NATSChannel)(nil)

// NewNATSChannel subscribes to inboundSubject. The connection stays owned by the caller.
func NewNATSChannel(conn *nats.Conn, inboundSubject string, outboundSubject string) (*NATSChannel, error) {
	if inboundSubject == "" || outboundSubject == "" {
		return nil, fmt.Errorf("inbound and outbound subjects are required")
	}
	msgs := make(chan *nats.Msg, inboundBuffer)
	sub, err := conn.ChanSubscribe(inboundSubject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", inboundSubject, err)
	}
	return &NATSChannel{
		conn:     conn,
		sub:      sub,
		msgs:     msgs,
		outbound: outboundSubject,
		done:     make(chan struct{}),
	}, nil
}

func (c *NATSChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg.Data, nil
	case <-c.done:
		return nil, transport.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *NATSChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return transport.ErrChannelClosed
	default:
	}
	if c.conn.IsClosed() {
		return transport.ErrChannelClosed
	}
	return c.conn.Publish(c.outbound, data)
}

func (c *NATSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sub.Unsubscribe()
		close(c.done)
	})
	return err
}
