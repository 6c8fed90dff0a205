package natsChannel

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireNATS(t *testing.T) *nats.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping NATS integration test in short mode")
	}
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	conn, err := Connect(&NATSConfig{URL: url, Name: "bridge-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSChannel_RoundTrip(t *testing.T) {
	conn := requireNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefix := "bridge-test." + uuid.NewString()
	host, err := NewNATSChannel(conn, prefix+".in", prefix+".out")
	require.NoError(t, err)
	defer host.Close()

	widget, err := NewNATSChannel(conn, prefix+".out", prefix+".in")
	require.NoError(t, err)
	defer widget.Close()
	require.NoError(t, conn.Flush())

	require.NoError(t, widget.Send(ctx, []byte(`{"requestId":"1"}`)))
	got, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"requestId":"1"}`, string(got))

	require.NoError(t, host.Send(ctx, []byte(`{"requestId":"1","success":true}`)))
	got, err = widget.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"requestId":"1","success":true}`, string(got))

	require.NoError(t, host.Close())
	_, err = host.Receive(ctx)
	require.ErrorIs(t, err, transport.ErrChannelClosed)
	require.ErrorIs(t, host.Send(ctx, []byte("x")), transport.ErrChannelClosed)
}

func TestNewNATSChannel_RequiresSubjects(t *testing.T) {
	_, err := NewNATSChannel(nil, "", "out")
	require.Error(t, err)
	_, err = NewNATSChannel(nil, "in", "")
	require.Error(t, err)
}
