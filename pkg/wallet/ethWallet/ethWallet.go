package ethWallet

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transactionSigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// DialFunc connects to the RPC endpoint of a network
type DialFunc func(ctx context.Context, rpcUrl string) (transactionSigner.IChainBackend, error)

// DialEthClient is the production DialFunc
func DialEthClient(ctx context.Context, rpcUrl string) (transactionSigner.IChainBackend, error) {
	return ethclient.DialContext(ctx, rpcUrl)
}

// EthWalletConfig lists the networks the wallet can reach. The first one is active at start.
type EthWalletConfig struct {
	Networks []*config.Network
	Dial     DialFunc
}

// activeNetwork is closed once it has been replaced and its last in-flight call released it
type activeNetwork struct {
	network  *config.Network
	backend  transactionSigner.IChainBackend
	txSigner *transactionSigner.TransactionSigner

	// guarded by EthWallet.mu
	refs    int
	retired bool
}

// EthWallet is a single-account EIP-1193 style wallet backed by an Ethereum RPC node
type EthWallet struct {
	logger *zap.Logger
	signer keySigner.IKeySigner
	dial   DialFunc

	mu        sync.RWMutex
	networks  map[config.ChainId]*config.Network
	active    *activeNetwork
	connected bool
}

var _ wallet.IWalletProvider = (*EthWallet)(nil)

// NewEthWallet dials the first configured network
func NewEthWallet(ctx context.Context, cfg *EthWalletConfig, signer keySigner.IKeySigner, logger *zap.Logger) (*EthWallet, error) {
	if len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("key signer is required")
	}

	w := &EthWallet{
		logger:   logger,
		signer:   signer,
		dial:     cfg.Dial,
		networks: make(map[config.ChainId]*config.Network, len(cfg.Networks)),
	}
	if w.dial == nil {
		w.dial = DialEthClient
	}
	for _, n := range cfg.Networks {
		w.networks[n.ChainID] = n
	}

	active, err := w.open(ctx, cfg.Networks[0])
	if err != nil {
		return nil, err
	}
	w.active = active

	logger.Sugar().Infow("Wallet ready",
		"address", signer.Address().Hex(),
		"chain_id", uint64(active.network.ChainID),
		"chain_name", active.network.Name,
	)
	return w, nil
}

func (w *EthWallet) Connect(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return []string{w.signer.Address().Hex()}, nil
}

func (w *EthWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

func (w *EthWallet) Accounts(ctx context.Context) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return []string{}, nil
	}
	return []string{w.signer.Address().Hex()}, nil
}

func (w *EthWallet) ChainID(ctx context.Context) (string, error) {
	active := w.current()
	return hexutil.EncodeUint64(uint64(active.network.ChainID)), nil
}

func (w *EthWallet) Balance(ctx context.Context, address string) (string, error) {
	var account common.Address
	if address == "" {
		if !w.isConnected() {
			return "", wallet.ErrNotConnected
		}
		account = w.signer.Address()
	} else {
		if !config.IsHexAddress(address) {
			return "", fmt.Errorf("invalid address: %s", address)
		}
		account = common.HexToAddress(address)
	}

	active := w.acquire()
	defer w.release(active)

	balance, err := active.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get balance: %w", err)
	}
	return hexutil.EncodeBig(balance), nil
}

// SignMessage signs message with the EIP-191 personal_sign prefix. A 0x-prefixed message
// is signed as the bytes it encodes.
func (w *EthWallet) SignMessage(ctx context.Context, address string, message string) (string, error) {
	if err := w.requireAccount(address); err != nil {
		return "", err
	}

	payload := []byte(message)
	if strings.HasPrefix(message, "0x") {
		if decoded, err := hexutil.Decode(message); err == nil {
			payload = decoded
		}
	}

	sig, err := w.signer.SignDigest(ctx, accounts.TextHash(payload))
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func (w *EthWallet) SignTransaction(ctx context.Context, tx *types.TransactionRequest) (string, error) {
	if err := w.requireAccount(tx.From); err != nil {
		return "", err
	}
	active := w.acquire()
	defer w.release(active)
	txSigner := active.txSigner

	unsigned, err := txSigner.BuildTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	signed, err := txSigner.SignTransaction(ctx, unsigned)
	if err != nil {
		return "", err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	w.logger.Sugar().Infow("Signed transaction", "hash", signed.Hash().Hex(), "nonce", signed.Nonce())
	return hexutil.Encode(raw), nil
}

func (w *EthWallet) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	raw, err := hexutil.Decode(signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	var tx ethTypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("failed to unmarshal signed transaction: %w", err)
	}

	active := w.acquire()
	defer w.release(active)

	if err := active.backend.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	w.logger.Sugar().Infow("Transaction sent", "hash", tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// SwitchNetwork activates a known network, or adds one when params carries an rpc url.
// The endpoint must report the requested chain id.
func (w *EthWallet) SwitchNetwork(ctx context.Context, params *types.SwitchNetworkParams) (string, error) {
	id, err := hexutil.DecodeUint64(params.ChainID)
	if err != nil {
		return "", fmt.Errorf("invalid chainId %s: %w", params.ChainID, err)
	}
	chainID := config.ChainId(id)

	w.mu.RLock()
	network, known := w.networks[chainID]
	current := w.active.network.ChainID
	w.mu.RUnlock()

	if known && current == chainID && params.RpcURL == "" {
		return hexutil.EncodeUint64(id), nil
	}

	if params.RpcURL != "" {
		name := config.ChainName(params.ChainName)
		if name == "" {
			name = config.ChainNameFor(chainID)
		}
		network = &config.Network{ChainID: chainID, Name: name, RpcUrl: params.RpcURL}
	} else if !known {
		return "", fmt.Errorf("unrecognized chain ID %s, supply rpcUrl to add it", params.ChainID)
	}

	next, err := w.open(ctx, network)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	previous := w.active
	w.active = next
	w.networks[chainID] = network
	previous.retired = true
	idle := previous.refs == 0
	w.mu.Unlock()

	if idle {
		closeBackend(previous.backend)
	}
	w.logger.Sugar().Infow("Switched network", "chain_id", id, "chain_name", network.Name)
	return hexutil.EncodeUint64(id), nil
}

// Close releases the active RPC connection. Calls still using it finish first.
func (w *EthWallet) Close() {
	w.mu.Lock()
	active := w.active
	idle := !active.retired && active.refs == 0
	active.retired = true
	w.mu.Unlock()

	if idle {
		closeBackend(active.backend)
	}
}

// open dials network and checks that the endpoint serves the expected chain
func (w *EthWallet) open(ctx context.Context, network *config.Network) (*activeNetwork, error) {
	backend, err := w.dial(ctx, network.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", network.RpcUrl, err)
	}

	txSigner, err := transactionSigner.NewTransactionSigner(ctx, backend, w.signer, w.logger)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}
	if got := txSigner.ChainID(); !got.IsUint64() || got.Uint64() != uint64(network.ChainID) {
		closeBackend(backend)
		return nil, fmt.Errorf("rpc endpoint serves chain %s, expected %d", got, network.ChainID)
	}

	return &activeNetwork{network: network, backend: backend, txSigner: txSigner}, nil
}

func (w *EthWallet) current() *activeNetwork {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// acquire pins the active network until release so a switch cannot close it mid-call
func (w *EthWallet) acquire() *activeNetwork {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active.refs++
	return w.active
}

func (w *EthWallet) release(active *activeNetwork) {
	w.mu.Lock()
	active.refs--
	idle := active.retired && active.refs == 0
	w.mu.Unlock()

	if idle {
		closeBackend(active.backend)
	}
}

func (w *EthWallet) isConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// requireAccount checks the wallet is connected and address, when given, is ours
func (w *EthWallet) requireAccount(address string) error {
	if !w.isConnected() {
		return wallet.ErrNotConnected
	}
	if address != "" && !strings.EqualFold(address, w.signer.Address().Hex()) {
		return fmt.Errorf("address %s is not managed by this wallet", address)
	}
	return nil
}

func closeBackend(backend transactionSigner.IChainBackend) {
	switch b := backend.(type) {
	case interface{ Close() }:
		b.Close()
	case io.Closer:
		_ = b.Close()
	}
}
