package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet"
)

const (
	MockAddress  = "0x00000000000000000000000000000000000000a1"
	MockChainID  = "0x539"
	MockBalance  = "0xde0b6b3a7640000"
	MockTxHash   = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	MockRawTx    = "0x02f86c"
	MockSignedBy = "mock-signature:"
)

// MockWalletProvider implements wallet.IWalletProvider in memory
// It records every call and can be told to fail
type MockWalletProvider struct {
	mu        sync.Mutex
	connected bool
	chainID   string
	calls     []string
	err       error
}

var _ wallet.IWalletProvider = (*MockWalletProvider)(nil)

// NewMockWalletProvider creates a disconnected mock wallet on MockChainID
func NewMockWalletProvider() *MockWalletProvider {
	return &MockWalletProvider{chainID: MockChainID}
}

// FailWith makes every following call return err. nil restores normal behavior.
func (m *MockWalletProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the provider methods invoked so far, in order
func (m *MockWalletProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockWalletProvider) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *MockWalletProvider) Connect(ctx context.Context) ([]string, error) {
	if err := m.record("Connect"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return []string{MockAddress}, nil
}

func (m *MockWalletProvider) Disconnect(ctx context.Context) error {
	if err := m.record("Disconnect"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockWalletProvider) Accounts(ctx context.Context) ([]string, error) {
	if err := m.record("Accounts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return []string{}, nil
	}
	return []string{MockAddress}, nil
}

func (m *MockWalletProvider) ChainID(ctx context.Context) (string, error) {
	if err := m.record("ChainID"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainID, nil
}

func (m *MockWalletProvider) Balance(ctx context.Context, address string) (string, error) {
	if err := m.record("Balance"); err != nil {
		return "", err
	}
	return MockBalance, nil
}

// SignMessage returns MockSignedBy followed by the message, not a real signature
func (m *MockWalletProvider) SignMessage(ctx context.Context, address string, message string) (string, error) {
	if err := m.record("SignMessage"); err != nil {
		return "", err
	}
	if !m.isConnected() {
		return "", wallet.ErrNotConnected
	}
	return MockSignedBy + message, nil
}

func (m *MockWalletProvider) SignTransaction(ctx context.Context, tx *types.TransactionRequest) (string, error) {
	if err := m.record("SignTransaction"); err != nil {
		return "", err
	}
	if !m.isConnected() {
		return "", wallet.ErrNotConnected
	}
	return MockRawTx, nil
}

func (m *MockWalletProvider) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	if err := m.record("SendRawTransaction"); err != nil {
		return "", err
	}
	if !strings.HasPrefix(signedTx, "0x") {
		return "", fmt.Errorf("invalid raw transaction")
	}
	return MockTxHash, nil
}

func (m *MockWalletProvider) SwitchNetwork(ctx context.Context, params *types.SwitchNetworkParams) (string, error) {
	if err := m.record("SwitchNetwork"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainID = params.ChainID
	return m.chainID, nil
}

func (m *MockWalletProvider) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
