package localKeySigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// LocalKeySigner signs with a private key held in process memory
type LocalKeySigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ keySigner.IKeySigner = (*LocalKeySigner)(nil)

func NewLocalKeySigner(privateKey *ecdsa.PrivateKey, logger *zap.Logger) *LocalKeySigner {
	return &LocalKeySigner{
		logger:     logger,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewLocalKeySignerFromHex loads a private key from a hex string, optionally 0x-prefixed
func NewLocalKeySignerFromHex(privateKeyHex string, logger *zap.Logger) (*LocalKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key from hex: %w", err)
	}
	return NewLocalKeySigner(privateKey, logger), nil
}

// GenerateLocalKeySigner creates a signer with a fresh random key
func GenerateLocalKeySigner(logger *zap.Logger) (*LocalKeySigner, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	return NewLocalKeySigner(privateKey, logger), nil
}

func (l *LocalKeySigner) Address() common.Address {
	return l.address
}

func (l *LocalKeySigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be exactly 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, l.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}
