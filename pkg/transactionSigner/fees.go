package transactionSigner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/config"
	bridgeTypes "github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const gasBufferPercent = 20

type feeCaps struct {
	tipCap *big.Int
	feeCap *big.Int
}

// feePolicy returns the fallback priority fee and the base fee multiplier for the chain
func feePolicy(chainID *big.Int) (*big.Int, int64) {
	if chainID.IsUint64() && config.IsEthereum(config.ChainId(chainID.Uint64())) {
		return big.NewInt(1500000000), 2 // 1.5 gwei, 2x base fee
	}
	return big.NewInt(1000000), 3 // 0.001 gwei, 3x base fee for spiky L2 fees
}

// estimateFees honours caps supplied by the widget and estimates the rest:
// maxFeePerGas = baseFee * multiplier + tip
func (ts *TransactionSigner) estimateFees(ctx context.Context, req *bridgeTypes.TransactionRequest) (*feeCaps, error) {
	fallbackTip, baseFeeMultiplier := feePolicy(ts.chainID)

	var tipCap *big.Int
	if req.MaxPriorityFeePerGas != "" {
		v, err := hexutil.DecodeBig(req.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("invalid maxPriorityFeePerGas: %w", err)
		}
		tipCap = v
	} else {
		v, err := ts.backend.SuggestGasTipCap(ctx)
		if err != nil {
			// Backends without eth_maxPriorityFeePerGas get the chain default
			ts.logger.Sugar().Warnw("Cannot get gasTipCap, using fallback", zap.Error(err))
			v = fallbackTip
		}
		tipCap = v
	}

	if req.MaxFeePerGas != "" {
		feeCap, err := hexutil.DecodeBig(req.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("invalid maxFeePerGas: %w", err)
		}
		if feeCap.Cmp(tipCap) < 0 {
			return nil, fmt.Errorf("maxFeePerGas %s is below maxPriorityFeePerGas %s", feeCap, tipCap)
		}
		return &feeCaps{tipCap: tipCap, feeCap: feeCap}, nil
	}

	header, err := ts.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}

	feeCap := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplier)),
		tipCap,
	)
	return &feeCaps{tipCap: tipCap, feeCap: feeCap}, nil
}

// addGasBuffer pads an estimate by gasBufferPercent
func addGasBuffer(gasLimit uint64) uint64 {
	return gasLimit + gasLimit*gasBufferPercent/100
}
