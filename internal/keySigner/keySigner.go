package keySigner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// IKeySigner holds the wallet's secp256k1 key, wherever it lives
type IKeySigner interface {
	// Address returns the Ethereum address of the key
	Address() common.Address

	// SignDigest signs a 32 byte digest and returns [R || S || V] with V in {0, 1}
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}
