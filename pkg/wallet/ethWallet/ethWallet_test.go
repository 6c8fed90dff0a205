package ethWallet

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner/localKeySigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	simulatedChainID = config.ChainId(1337)
	simulatedRpcUrl  = "sim://primary"
)

// keepOpen hides Close so switching away does not shut the shared simulated client
type keepOpen struct {
	transactionSigner.IChainBackend
}

type testWallet struct {
	*EthWallet
	backend *simulated.Backend
	signer  *localKeySigner.LocalKeySigner
	funds   *big.Int
}

func setup(t *testing.T) *testWallet {
	t.Helper()
	l := zaptest.NewLogger(t)

	signer, err := localKeySigner.GenerateLocalKeySigner(l)
	require.NoError(t, err)

	funds := new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether))
	backend := simulated.NewBackend(ethTypes.GenesisAlloc{
		signer.Address(): {Balance: funds},
	})
	t.Cleanup(func() { _ = backend.Close() })

	dial := func(ctx context.Context, rpcUrl string) (transactionSigner.IChainBackend, error) {
		if rpcUrl != simulatedRpcUrl {
			return nil, fmt.Errorf("no route to %s", rpcUrl)
		}
		return keepOpen{backend.Client()}, nil
	}

	w, err := NewEthWallet(context.Background(), &EthWalletConfig{
		Networks: []*config.Network{{ChainID: simulatedChainID, Name: "simulated", RpcUrl: simulatedRpcUrl}},
		Dial:     dial,
	}, signer, l)
	require.NoError(t, err)

	return &testWallet{EthWallet: w, backend: backend, signer: signer, funds: funds}
}

func Test_EthWallet_ConnectionLifecycle(t *testing.T) {
	w := setup(t)
	ctx := context.Background()

	accountsBefore, err := w.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accountsBefore)

	connected, err := w.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{w.signer.Address().Hex()}, connected)

	accountsAfter, err := w.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, connected, accountsAfter)

	require.NoError(t, w.Disconnect(ctx))
	accountsAfter, err = w.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accountsAfter)

	_, err = w.SignMessage(ctx, "", "hello")
	require.ErrorIs(t, err, wallet.ErrNotConnected)
}

func Test_EthWallet_ChainIDAndBalance(t *testing.T) {
	w := setup(t)
	ctx := context.Background()

	chainID, err := w.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x539", chainID)

	_, err = w.Balance(ctx, "")
	require.ErrorIs(t, err, wallet.ErrNotConnected)

	balance, err := w.Balance(ctx, w.signer.Address().Hex())
	require.NoError(t, err)
	assert.Equal(t, hexutil.EncodeBig(w.funds), balance)

	_, err = w.Connect(ctx)
	require.NoError(t, err)
	own, err := w.Balance(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, balance, own)

	_, err = w.Balance(ctx, "0x1234")
	require.Error(t, err)
}

func Test_EthWallet_SignMessage(t *testing.T) {
	w := setup(t)
	ctx := context.Background()
	_, err := w.Connect(ctx)
	require.NoError(t, err)

	recoverSigner := func(t *testing.T, payload []byte, sigHex string) common.Address {
		sig, err := hexutil.Decode(sigHex)
		require.NoError(t, err)
		require.Len(t, sig, 65)
		require.Contains(t, []byte{27, 28}, sig[64])
		sig[64] -= 27

		pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
		require.NoError(t, err)
		return crypto.PubkeyToAddress(*pub)
	}

	t.Run("utf8 message", func(t *testing.T) {
		sig, err := w.SignMessage(ctx, "", "Sign in to the widget")
		require.NoError(t, err)
		assert.Equal(t, w.signer.Address(), recoverSigner(t, []byte("Sign in to the widget"), sig))
	})

	t.Run("hex message is signed as bytes", func(t *testing.T) {
		sig, err := w.SignMessage(ctx, w.signer.Address().Hex(), "0xdeadbeef")
		require.NoError(t, err)
		assert.Equal(t, w.signer.Address(), recoverSigner(t, []byte{0xde, 0xad, 0xbe, 0xef}, sig))
	})

	t.Run("foreign address", func(t *testing.T) {
		_, err := w.SignMessage(ctx, "0x00000000000000000000000000000000000000bb", "hello")
		require.ErrorContains(t, err, "not managed by this wallet")
	})
}

func Test_EthWallet_SignAndBroadcast(t *testing.T) {
	w := setup(t)
	ctx := context.Background()
	_, err := w.Connect(ctx)
	require.NoError(t, err)

	recipient := "0x00000000000000000000000000000000000000aa"
	rawTx, err := w.SignTransaction(ctx, &types.TransactionRequest{
		To:    recipient,
		Value: hexutil.EncodeBig(big.NewInt(params.GWei)),
	})
	require.NoError(t, err)

	hash, err := w.SendRawTransaction(ctx, rawTx)
	require.NoError(t, err)
	w.backend.Commit()

	receipt, err := w.backend.Client().TransactionReceipt(ctx, common.HexToHash(hash))
	require.NoError(t, err)
	assert.Equal(t, ethTypes.ReceiptStatusSuccessful, receipt.Status)

	balance, err := w.Balance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, hexutil.EncodeBig(big.NewInt(params.GWei)), balance)

	_, err = w.SendRawTransaction(ctx, "0x1234")
	require.Error(t, err)
}

func Test_EthWallet_SwitchNetwork(t *testing.T) {
	w := setup(t)
	ctx := context.Background()

	t.Run("current network", func(t *testing.T) {
		chainID, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x539"})
		require.NoError(t, err)
		assert.Equal(t, "0x539", chainID)
	})

	t.Run("unknown network without rpc url", func(t *testing.T) {
		_, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x2105"})
		require.ErrorContains(t, err, "unrecognized chain ID")
	})

	t.Run("endpoint serving another chain", func(t *testing.T) {
		_, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x2105", RpcURL: simulatedRpcUrl})
		require.ErrorContains(t, err, "expected 8453")

		chainID, err := w.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0x539", chainID, "failed switch leaves the active network alone")
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		_, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x539", RpcURL: "sim://elsewhere"})
		require.ErrorContains(t, err, "no route")
	})

	t.Run("re-adding the active chain through an rpc url", func(t *testing.T) {
		chainID, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x539", RpcURL: simulatedRpcUrl, ChainName: "sim"})
		require.NoError(t, err)
		assert.Equal(t, "0x539", chainID)
	})

	t.Run("invalid chain id", func(t *testing.T) {
		_, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "1337"})
		require.Error(t, err)
	})
}

// gatedBackend holds BalanceAt open until release is closed and fails once Close has run
type gatedBackend struct {
	transactionSigner.IChainBackend
	entered chan struct{}
	release chan struct{}
	closed  atomic.Bool
}

func (g *gatedBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	close(g.entered)
	<-g.release
	if g.closed.Load() {
		return nil, fmt.Errorf("client is closed")
	}
	return g.IChainBackend.BalanceAt(ctx, account, blockNumber)
}

func (g *gatedBackend) Close() {
	g.closed.Store(true)
}

func Test_EthWallet_SwitchDoesNotBreakInFlightCalls(t *testing.T) {
	l := zaptest.NewLogger(t)
	ctx := context.Background()

	signer, err := localKeySigner.GenerateLocalKeySigner(l)
	require.NoError(t, err)
	funds := big.NewInt(params.Ether)
	backend := simulated.NewBackend(ethTypes.GenesisAlloc{signer.Address(): {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })

	gated := &gatedBackend{
		IChainBackend: backend.Client(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	dial := func(ctx context.Context, rpcUrl string) (transactionSigner.IChainBackend, error) {
		if rpcUrl == simulatedRpcUrl {
			return gated, nil
		}
		return keepOpen{backend.Client()}, nil
	}

	w, err := NewEthWallet(ctx, &EthWalletConfig{
		Networks: []*config.Network{{ChainID: simulatedChainID, Name: "simulated", RpcUrl: simulatedRpcUrl}},
		Dial:     dial,
	}, signer, l)
	require.NoError(t, err)

	type result struct {
		balance string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		balance, err := w.Balance(ctx, signer.Address().Hex())
		done <- result{balance, err}
	}()
	<-gated.entered

	chainID, err := w.SwitchNetwork(ctx, &types.SwitchNetworkParams{ChainID: "0x539", RpcURL: "sim://secondary"})
	require.NoError(t, err)
	assert.Equal(t, "0x539", chainID)
	assert.False(t, gated.closed.Load(), "replaced backend stays open while a call is using it")

	close(gated.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, hexutil.EncodeBig(funds), res.balance)
	assert.True(t, gated.closed.Load(), "replaced backend is closed after its last call")

	w.Close()
	w.Close()
}

func Test_NewEthWallet_Validation(t *testing.T) {
	l := zaptest.NewLogger(t)
	signer, err := localKeySigner.GenerateLocalKeySigner(l)
	require.NoError(t, err)

	_, err = NewEthWallet(context.Background(), &EthWalletConfig{}, signer, l)
	require.Error(t, err)

	_, err = NewEthWallet(context.Background(), &EthWalletConfig{
		Networks: []*config.Network{{ChainID: 1, RpcUrl: "sim://nowhere"}},
		Dial: func(ctx context.Context, rpcUrl string) (transactionSigner.IChainBackend, error) {
			return nil, fmt.Errorf("refused")
		},
	}, signer, l)
	require.ErrorContains(t, err, "refused")
}
