package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []string
	accounts []string
	chainID  string
	fail     error
	panicMsg string

	lastAddress string
	lastMessage string
	lastTx      *types.TransactionRequest
	lastRawTx   string
	lastSwitch  *types.SwitchNetworkParams
}

func (f *fakeProvider) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.fail
}

func (f *fakeProvider) Connect(ctx context.Context) ([]string, error) {
	if err := f.record("Connect"); err != nil {
		return nil, err
	}
	return f.accounts, nil
}

func (f *fakeProvider) Disconnect(ctx context.Context) error {
	return f.record("Disconnect")
}

func (f *fakeProvider) Accounts(ctx context.Context) ([]string, error) {
	if err := f.record("Accounts"); err != nil {
		return nil, err
	}
	return f.accounts, nil
}

func (f *fakeProvider) ChainID(ctx context.Context) (string, error) {
	if err := f.record("ChainID"); err != nil {
		return "", err
	}
	return f.chainID, nil
}

func (f *fakeProvider) Balance(ctx context.Context, address string) (string, error) {
	f.lastAddress = address
	if err := f.record("Balance"); err != nil {
		return "", err
	}
	return "0xde0b6b3a7640000", nil
}

func (f *fakeProvider) SignMessage(ctx context.Context, address string, message string) (string, error) {
	f.lastAddress, f.lastMessage = address, message
	if err := f.record("SignMessage"); err != nil {
		return "", err
	}
	return "0xsig", nil
}

func (f *fakeProvider) SignTransaction(ctx context.Context, tx *types.TransactionRequest) (string, error) {
	f.lastTx = tx
	if err := f.record("SignTransaction"); err != nil {
		return "", err
	}
	return "0xraw", nil
}

func (f *fakeProvider) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	f.lastRawTx = signedTx
	if err := f.record("SendRawTransaction"); err != nil {
		return "", err
	}
	return "0xhash", nil
}

func (f *fakeProvider) SwitchNetwork(ctx context.Context, params *types.SwitchNetworkParams) (string, error) {
	f.lastSwitch = params
	if err := f.record("SwitchNetwork"); err != nil {
		return "", err
	}
	return params.ChainID, nil
}

func newTestDispatcher(t *testing.T, provider *fakeProvider) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(provider, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func request(action types.Action, params string) *types.AdapterRequest {
	req := &types.AdapterRequest{RequestID: "r1", Action: action, Chain: "ethereum"}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func TestDispatch_Success(t *testing.T) {
	provider := &fakeProvider{accounts: []string{"0xabc"}, chainID: "0x1"}
	d := newTestDispatcher(t, provider)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    *types.AdapterRequest
		call   string
		expect interface{}
	}{
		{"connect", request(types.ActionConnectWallet, ""), "Connect", []string{"0xabc"}},
		{"disconnect", request(types.ActionDisconnectWallet, ""), "Disconnect", true},
		{"accounts", request(types.ActionGetAccounts, ""), "Accounts", []string{"0xabc"}},
		{"chain id", request(types.ActionGetChainID, ""), "ChainID", "0x1"},
		{"balance", request(types.ActionGetBalance, `{"address":"0xabc"}`), "Balance", "0xde0b6b3a7640000"},
		{"sign message", request(types.ActionSignMessage, `{"message":"hello"}`), "SignMessage", "0xsig"},
		{"sign transaction", request(types.ActionSignTransaction, `{"transaction":{"to":"0xdef","value":"0x1"}}`), "SignTransaction", "0xraw"},
		{"broadcast", request(types.ActionBroadcastTransaction, `{"signedTransaction":"0xraw"}`), "SendRawTransaction", "0xhash"},
		{"switch", request(types.ActionSwitchNetwork, `{"chainId":"0x5"}`), "SwitchNetwork", "0x5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider.calls = nil
			resp := d.Dispatch(ctx, tc.req)
			require.True(t, resp.Success, resp.Error)
			assert.Equal(t, "r1", resp.RequestID)
			assert.Equal(t, tc.expect, resp.Data)
			assert.Empty(t, resp.Error)
			assert.Equal(t, []string{tc.call}, provider.calls)
		})
	}

	assert.Equal(t, "0xdef", provider.lastTx.To)
	assert.Equal(t, "0xraw", provider.lastRawTx)
	assert.Equal(t, "0x5", provider.lastSwitch.ChainID)
}

func TestDispatch_MissingParameter(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider)

	resp := d.Dispatch(context.Background(), request(types.ActionSignMessage, `{"address":"0xabc"}`))
	require.False(t, resp.Success)
	assert.Equal(t, "Missing required parameter: message", resp.Error)
	assert.Nil(t, resp.Data)
	assert.Empty(t, provider.calls, "provider must not be called without required params")
}

func TestDispatch_UnsupportedAction(t *testing.T) {
	d := newTestDispatcher(t, &fakeProvider{})

	resp := d.Dispatch(context.Background(), request("LAUNCH_ROCKET", ""))
	require.False(t, resp.Success)
	assert.Equal(t, "Unsupported action: LAUNCH_ROCKET", resp.Error)
}

func TestDispatch_ProviderError(t *testing.T) {
	d := newTestDispatcher(t, &fakeProvider{fail: errors.New("user rejected the request")})

	resp := d.Dispatch(context.Background(), request(types.ActionConnectWallet, ""))
	require.False(t, resp.Success)
	assert.Equal(t, "user rejected the request", resp.Error)
}

func TestDispatch_ProviderPanicIsAnswered(t *testing.T) {
	d := newTestDispatcher(t, &fakeProvider{panicMsg: "boom"})

	resp := d.Dispatch(context.Background(), request(types.ActionGetChainID, ""))
	require.NotNil(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Contains(t, resp.Error, "GET_CHAIN_ID")
}

func TestDispatch_NetworkSwitchedEventForwarded(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider)

	var gotChain string
	var got *types.NetworkSwitchedEventParams
	d.OnNetworkSwitched(func(ctx context.Context, chain string, event *types.NetworkSwitchedEventParams) {
		gotChain, got = chain, event
	})

	resp := d.Dispatch(context.Background(), request(types.ActionNetworkSwitchedEvent, `{"chainId":"0x89"}`))
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Data)
	assert.Empty(t, provider.calls)
	require.NotNil(t, got)
	assert.Equal(t, "0x89", got.ChainID)
	assert.Equal(t, "ethereum", gotChain)
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = NewDispatcher(&fakeProvider{}, nil)
	require.Error(t, err)
}
