package transactionSigner

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	bridgeTypes "github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// IChainBackend is the RPC surface the wallet needs. *ethclient.Client and the
// simulated backend client both satisfy it.
type IChainBackend interface {
	ethereum.ChainIDReader
	ethereum.GasEstimator
	ethereum.GasPricer1559
	ethereum.TransactionSender

	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// ITransactionSigner fills in and signs transactions requested by the widget
type ITransactionSigner interface {
	// BuildTransaction turns a widget transaction request into an unsigned EIP-1559 transaction
	BuildTransaction(ctx context.Context, req *bridgeTypes.TransactionRequest) (*types.Transaction, error)

	// SignTransaction signs tx with the wallet key
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)

	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address
}

// TransactionSigner implements ITransactionSigner against one chain backend
type TransactionSigner struct {
	backend IChainBackend
	signer  keySigner.IKeySigner
	chainID *big.Int
	logger  *zap.Logger
}

var _ ITransactionSigner = (*TransactionSigner)(nil)

// NewTransactionSigner reads the chain id once from backend
func NewTransactionSigner(ctx context.Context, backend IChainBackend, signer keySigner.IKeySigner, logger *zap.Logger) (*TransactionSigner, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return &TransactionSigner{
		backend: backend,
		signer:  signer,
		chainID: chainID,
		logger:  logger,
	}, nil
}

func (ts *TransactionSigner) GetFromAddress() common.Address {
	return ts.signer.Address()
}

// ChainID returns the chain id the signer was created for
func (ts *TransactionSigner) ChainID() *big.Int {
	return new(big.Int).Set(ts.chainID)
}

func (ts *TransactionSigner) BuildTransaction(ctx context.Context, req *bridgeTypes.TransactionRequest) (*types.Transaction, error) {
	from := ts.signer.Address()
	if req.From != "" && !strings.EqualFold(req.From, from.Hex()) {
		return nil, fmt.Errorf("from address %s is not managed by this wallet", req.From)
	}

	var to *common.Address
	if req.To != "" {
		if !config.IsHexAddress(req.To) {
			return nil, fmt.Errorf("invalid to address: %s", req.To)
		}
		addr := common.HexToAddress(req.To)
		to = &addr
	}

	value, err := decodeOptionalBig(req.Value, "value")
	if err != nil {
		return nil, err
	}
	var data []byte
	if req.Data != "" {
		if data, err = hexutil.Decode(req.Data); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}

	fees, err := ts.estimateFees(ctx, req)
	if err != nil {
		return nil, err
	}

	gasLimit, err := decodeOptionalUint(req.Gas, "gas")
	if err != nil {
		return nil, err
	}
	if gasLimit == 0 {
		estimated, err := ts.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      from,
			To:        to,
			GasTipCap: fees.tipCap,
			GasFeeCap: fees.feeCap,
			Value:     value,
			Data:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = addGasBuffer(estimated)
	}

	var nonce uint64
	if req.Nonce != "" {
		if nonce, err = hexutil.DecodeUint64(req.Nonce); err != nil {
			return nil, fmt.Errorf("invalid nonce: %w", err)
		}
	} else {
		// A zero nonce is valid, so an absent one is always fetched from the network
		if nonce, err = ts.backend.PendingNonceAt(ctx, from); err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}
	}

	ts.logger.Sugar().Debugw("Built transaction",
		"to", to,
		"maxPriorityFeePerGas", fees.tipCap.String(),
		"maxFeePerGas", fees.feeCap.String(),
		"gasLimit", gasLimit,
		"nonce", nonce,
	)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   ts.ChainID(),
		Nonce:     nonce,
		GasTipCap: fees.tipCap,
		GasFeeCap: fees.feeCap,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	}), nil
}

func (ts *TransactionSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(ts.chainID)
	sig, err := ts.signer.SignDigest(ctx, signer.Hash(tx).Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to attach signature: %w", err)
	}
	return signed, nil
}

func decodeOptionalBig(s string, name string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func decodeOptionalUint(s string, name string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
