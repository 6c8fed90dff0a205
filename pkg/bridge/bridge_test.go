package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/authenticator"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/canonical"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/metrics"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fakeDispatcher struct {
	calls atomic.Int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *types.AdapterRequest) *types.AdapterResponse {
	f.calls.Add(1)
	switch req.Action {
	case types.ActionGetChainID:
		return types.NewSuccessResponse(req.RequestID, "0x1")
	default:
		return types.NewErrorResponse(req.RequestID, fmt.Sprintf("Unsupported action: %s", req.Action))
	}
}

func newTestBridge(t *testing.T, cfg *Config) (*Bridge, *fakeDispatcher) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	d := &fakeDispatcher{}
	b, err := NewBridge(cfg, d, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, d
}

func exchangeMessage(requestID, secret string) []byte {
	raw, _ := json.Marshal(&types.SecretExchangeMessage{
		RequestID:    requestID,
		Action:       types.ActionExchangeSharedSecret,
		WidgetSecret: secret,
	})
	return raw
}

func signedRequest(t *testing.T, secret string, requestID string, action types.Action, nonce string) []byte {
	t.Helper()
	msg := &types.AuthenticatedMessage{
		RequestID: requestID,
		Action:    action,
		Chain:     "ethereum",
		Timestamp: fixedNow.UnixMilli(),
		Nonce:     nonce,
	}
	sig, err := authenticator.SignatureFor(msg.Signable(), secret)
	require.NoError(t, err)
	msg.Signature = sig

	raw, err := canonical.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func decodeResponse(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	require.NotNil(t, raw, "expected a response")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func requireValidSignature(t *testing.T, raw []byte, secret string) *types.SecureResponse {
	t.Helper()
	var resp types.SecureResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	expected, err := authenticator.SignatureFor(resp.Signable(), secret)
	require.NoError(t, err)
	require.Equal(t, expected, resp.Signature)
	return &resp
}

func TestHandleMessage_EndToEnd(t *testing.T) {
	b, d := newTestBridge(t, nil)
	ctx := context.Background()

	ack, err := b.HandleMessage(ctx, exchangeMessage("x1", "abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"x1","success":true,"data":{"received":true}}`, string(ack))
	require.True(t, b.IsSecureMode())

	request := signedRequest(t, "abc", "1", types.ActionGetChainID, "n1")
	raw, err := b.HandleMessage(ctx, request)
	require.NoError(t, err)

	resp := requireValidSignature(t, raw, "abc")
	assert.Equal(t, "1", resp.RequestID)
	assert.True(t, resp.Success)
	assert.Equal(t, "0x1", resp.Data)
	assert.Equal(t, fixedNow.UnixMilli(), resp.Timestamp)

	replay, err := b.HandleMessage(ctx, request)
	require.NoError(t, err)
	assert.Nil(t, replay)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestHandleMessage_LineSeparatorInSignedFields(t *testing.T) {
	b, d := newTestBridge(t, &Config{SharedSecret: "abc"})
	ctx := context.Background()

	// signed and sent the way a browser widget does it: JSON.stringify keeps U+2028 raw
	signable := fmt.Sprintf("{\"requestId\":\"1\",\"action\":\"GET_CHAIN_ID\",\"chain\":\"ethereum\",\"timestamp\":%d,\"nonce\":\"n\u2028\"}", fixedNow.UnixMilli())
	signature := authenticator.ComputeMAC(signable, "abc")
	raw := []byte(strings.TrimSuffix(signable, "}") + `,"signature":"` + signature + `"}`)

	out, err := b.HandleMessage(ctx, raw)
	require.NoError(t, err)
	require.NotNil(t, out, "a correctly signed message must be answered")
	resp := requireValidSignature(t, out, "abc")
	assert.True(t, resp.Success)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestHandleMessage_UnkeyedRejectsWithPreconditionError(t *testing.T) {
	b, d := newTestBridge(t, nil)

	for _, action := range types.WalletActions {
		raw, err := b.HandleMessage(context.Background(), signedRequest(t, "abc", "r-"+string(action), action, "n-"+string(action)))
		require.NoError(t, err)

		resp := decodeResponse(t, raw)
		assert.Equal(t, "r-"+string(action), resp["requestId"])
		assert.Equal(t, false, resp["success"])
		assert.Equal(t, SecretNotEstablishedMessage, resp["error"])
		assert.NotContains(t, resp, "signature")
	}
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	m := metrics.NewMetrics()
	b, _ := newTestBridge(t, &Config{SharedSecret: "abc", Metrics: m})

	inputs := []string{
		`not json`,
		`[1,2,3]`,
		`"string"`,
		`null`,
		`{}`,
		`{"requestId":""}`,
		`{"requestId":42,"action":"GET_CHAIN_ID"}`,
		`{"action":"EXCHANGE_SHARED_SECRET","widgetSecret":"s"}`,
	}
	for _, in := range inputs {
		raw, err := b.HandleMessage(context.Background(), []byte(in))
		require.NoError(t, err, in)
		assert.Nil(t, raw, in)
	}
	assert.Equal(t, float64(len(inputs)), prom.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.DropMalformed)))
	assert.Equal(t, "abc", b.Secret())
}

func TestHandleMessage_MissingAuthFieldsDropped(t *testing.T) {
	m := metrics.NewMetrics()
	b, d := newTestBridge(t, &Config{SharedSecret: "abc", Metrics: m})

	inputs := []string{
		`{"requestId":"1","action":"GET_CHAIN_ID","nonce":"n","signature":"s"}`,
		`{"requestId":"1","action":"GET_CHAIN_ID","timestamp":1,"signature":"s"}`,
		`{"requestId":"1","action":"GET_CHAIN_ID","timestamp":1,"nonce":"n"}`,
		`{"requestId":"1","action":"GET_CHAIN_ID","timestamp":1.5,"nonce":"n","signature":"s"}`,
	}
	for _, in := range inputs {
		raw, err := b.HandleMessage(context.Background(), []byte(in))
		require.NoError(t, err, in)
		assert.Nil(t, raw, in)
	}
	assert.Equal(t, float64(len(inputs)), prom.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.DropMissingAuth)))
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestHandleMessage_FailurePolicy(t *testing.T) {
	forged := func(t *testing.T) []byte {
		return signedRequest(t, "not-the-secret", "1", types.ActionGetChainID, "n1")
	}

	t.Run("silent drops", func(t *testing.T) {
		b, d := newTestBridge(t, &Config{SharedSecret: "abc"})
		raw, err := b.HandleMessage(context.Background(), forged(t))
		require.NoError(t, err)
		assert.Nil(t, raw)
		assert.Equal(t, int32(0), d.calls.Load())
	})

	t.Run("signed error", func(t *testing.T) {
		b, d := newTestBridge(t, &Config{SharedSecret: "abc", FailurePolicy: FailurePolicySignedError})
		raw, err := b.HandleMessage(context.Background(), forged(t))
		require.NoError(t, err)

		resp := requireValidSignature(t, raw, "abc")
		assert.False(t, resp.Success)
		assert.Equal(t, AuthenticationFailedMessage, resp.Error)
		assert.Nil(t, resp.Data)
		assert.Equal(t, int32(0), d.calls.Load())
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := NewBridge(&Config{FailurePolicy: "loud"}, &fakeDispatcher{}, zaptest.NewLogger(t))
		require.Error(t, err)
	})
}

func TestHandleMessage_ActionErrorIsSigned(t *testing.T) {
	b, _ := newTestBridge(t, &Config{SharedSecret: "abc"})

	raw, err := b.HandleMessage(context.Background(), signedRequest(t, "abc", "1", "LAUNCH_ROCKET", "n1"))
	require.NoError(t, err)

	resp := requireValidSignature(t, raw, "abc")
	assert.False(t, resp.Success)
	assert.Equal(t, "Unsupported action: LAUNCH_ROCKET", resp.Error)
}

func TestHandleMessage_RotationRejectsOldSecret(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	_, err := b.HandleMessage(ctx, exchangeMessage("x1", "S2"))
	require.NoError(t, err)
	raw, err := b.HandleMessage(ctx, signedRequest(t, "S2", "1", types.ActionGetChainID, "n1"))
	require.NoError(t, err)
	require.NotNil(t, raw)

	_, err = b.HandleMessage(ctx, exchangeMessage("x2", "S1"))
	require.NoError(t, err)
	require.Equal(t, "S1", b.Secret())

	raw, err = b.HandleMessage(ctx, signedRequest(t, "S2", "2", types.ActionGetChainID, "n2"))
	require.NoError(t, err)
	assert.Nil(t, raw)

	// The ledger was reset by the exchange, so n1 is fresh under S1
	raw, err = b.HandleMessage(ctx, signedRequest(t, "S1", "3", types.ActionGetChainID, "n1"))
	require.NoError(t, err)
	requireValidSignature(t, raw, "S1")
}

func TestSecretObservers(t *testing.T) {
	var callbackSecrets []string
	b, _ := newTestBridge(t, &Config{
		OnSharedSecretReceived: func(secret string) { callbackSecrets = append(callbackSecrets, secret) },
	})
	ctx := context.Background()

	select {
	case <-b.SecretEstablished():
		t.Fatal("secret established before exchange")
	default:
	}

	var subscribed []string
	unsubscribe := b.Subscribe(func(secret string) { subscribed = append(subscribed, secret) })

	_, err := b.HandleMessage(ctx, exchangeMessage("x1", "first"))
	require.NoError(t, err)

	select {
	case <-b.SecretEstablished():
	case <-time.After(time.Second):
		t.Fatal("secret established channel not closed")
	}

	unsubscribe()
	_, err = b.HandleMessage(ctx, exchangeMessage("x2", "second"))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, callbackSecrets)
	assert.Equal(t, []string{"first"}, subscribed)
}

func TestPreseededSecret(t *testing.T) {
	b, _ := newTestBridge(t, &Config{SharedSecret: "abc"})
	require.True(t, b.IsSecureMode())

	select {
	case <-b.SecretEstablished():
	default:
		t.Fatal("pre-seeded bridge should start established")
	}

	raw, err := b.HandleMessage(context.Background(), signedRequest(t, "abc", "1", types.ActionGetChainID, "n1"))
	require.NoError(t, err)
	requireValidSignature(t, raw, "abc")
}

func TestSetSecretAndCleanup(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	require.NoError(t, b.SetSecret(ctx, "abc"))
	require.True(t, b.IsSecureMode())

	for i := 0; i < 10; i++ {
		raw, err := b.HandleMessage(ctx, signedRequest(t, "abc", fmt.Sprint(i), types.ActionGetChainID, fmt.Sprintf("n-%d", i)))
		require.NoError(t, err)
		require.NotNil(t, raw)
	}
	size, err := b.LedgerSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, size)

	cleared, err := b.CleanupLedger(ctx)
	require.NoError(t, err)
	assert.False(t, cleared, "ledger under the bound is left alone")
}

func TestHandleMessage_LedgerBoundedUnderLoad(t *testing.T) {
	b, _ := newTestBridge(t, &Config{SharedSecret: "abc"})
	ctx := context.Background()

	for i := 0; i < 2*nonceLedger.MaxLedgerSize+10; i++ {
		raw, err := b.HandleMessage(ctx, signedRequest(t, "abc", fmt.Sprint(i), types.ActionGetChainID, fmt.Sprintf("n-%d", i)))
		require.NoError(t, err)
		require.NotNil(t, raw)

		size, err := b.LedgerSize(ctx)
		require.NoError(t, err)
		require.LessOrEqual(t, size, nonceLedger.MaxLedgerSize)
	}
}

func TestHandleMessage_ConcurrentRequests(t *testing.T) {
	b, d := newTestBridge(t, &Config{SharedSecret: "abc"})
	ctx := context.Background()

	requests := make([][]byte, 20)
	for i := range requests {
		requests[i] = signedRequest(t, "abc", fmt.Sprint(i), types.ActionGetChainID, fmt.Sprintf("n-%d", i))
	}

	var wg sync.WaitGroup
	responses := make([][]byte, len(requests))
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := b.HandleMessage(ctx, requests[i])
			assert.NoError(t, err)
			responses[i] = raw
		}(i)
	}
	wg.Wait()

	for i, raw := range responses {
		resp := requireValidSignature(t, raw, "abc")
		assert.Equal(t, fmt.Sprint(i), resp.RequestID)
	}
	assert.Equal(t, int32(len(responses)), d.calls.Load())
}

func TestDebugModeTracesMessages(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b, err := NewBridge(&Config{SharedSecret: "abc", DebugMode: true, Clock: func() time.Time { return fixedNow }}, &fakeDispatcher{}, zap.New(core))
	require.NoError(t, err)

	_, err = b.HandleMessage(context.Background(), signedRequest(t, "abc", "1", types.ActionGetChainID, "n1"))
	require.NoError(t, err)
	assert.NotZero(t, logs.FilterMessage("Received message").Len())
	assert.NotZero(t, logs.FilterMessage("Sending signed response").Len())

	quietCore, quietLogs := observer.New(zap.DebugLevel)
	quiet, err := NewBridge(&Config{SharedSecret: "abc", Clock: func() time.Time { return fixedNow }}, &fakeDispatcher{}, zap.New(quietCore))
	require.NoError(t, err)

	_, err = quiet.HandleMessage(context.Background(), signedRequest(t, "abc", "1", types.ActionGetChainID, "n1"))
	require.NoError(t, err)
	assert.Zero(t, quietLogs.FilterMessage("Received message").Len())
}
