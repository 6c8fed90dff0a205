package awsKms

import (
	"context"
	cryptoEcdsa "crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// secp256k1 curve order, for low-S normalization
var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// kmsAPI is the subset of *kms.Client the signer needs
type kmsAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// AWSKMSKeySigner signs with an ECC_SECG_P256K1 key that never leaves AWS KMS
type AWSKMSKeySigner struct {
	logger    *zap.Logger
	kmsClient kmsAPI
	keyId     string
	publicKey *cryptoEcdsa.PublicKey
	address   common.Address
}

var _ keySigner.IKeySigner = (*AWSKMSKeySigner)(nil)

// NewAWSKMSKeySigner resolves the public key of keyId once and derives the wallet address from it
func NewAWSKMSKeySigner(ctx context.Context, awsCfg aws.Config, keyId string, logger *zap.Logger) (*AWSKMSKeySigner, error) {
	return newAWSKMSKeySigner(ctx, kms.NewFromConfig(awsCfg), keyId, logger)
}

func newAWSKMSKeySigner(ctx context.Context, client kmsAPI, keyId string, logger *zap.Logger) (*AWSKMSKeySigner, error) {
	if keyId == "" {
		return nil, fmt.Errorf("KMS key id cannot be empty")
	}

	kmsPubKey, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyId),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for key %s", keyId)
	}

	publicKey, err := parseECDSAPublicKey(kmsPubKey.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for key %s", keyId)
	}

	address := crypto.PubkeyToAddress(*publicKey)
	logger.Sugar().Infow("Loaded KMS signing key", "key_id", keyId, "address", address.Hex())

	return &AWSKMSKeySigner{
		logger:    logger,
		kmsClient: client,
		keyId:     keyId,
		publicKey: publicKey,
		address:   address,
	}, nil
}

func (k *AWSKMSKeySigner) Address() common.Address {
	return k.address
}

// SignDigest asks KMS for a DER signature over digest, normalizes S and finds the
// recovery id that yields the key's public key
func (k *AWSKMSKeySigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be exactly 32 bytes, got %d", len(digest))
	}

	signOutput, err := k.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(k.keyId),
		Message:          digest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      types.MessageTypeDigest,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign with key %s", k.keyId)
	}

	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(signOutput.Signature, &sigAsn1); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 signature: %w", err)
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	s := new(big.Int).SetBytes(sigAsn1.S.Bytes)
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	signature := make([]byte, 65)
	r.FillBytes(signature[0:32])
	s.FillBytes(signature[32:64])

	for recoveryId := byte(0); recoveryId < 2; recoveryId++ {
		signature[64] = recoveryId

		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			k.logger.Debug("Ecrecover failed",
				zap.Uint8("recoveryId", recoveryId),
				zap.Error(err))
			continue
		}
		if recovered.X.Cmp(k.publicKey.X) == 0 && recovered.Y.Cmp(k.publicKey.Y) == 0 {
			return signature, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}

// parseECDSAPublicKey parses the DER SubjectPublicKeyInfo returned by KMS
func parseECDSAPublicKey(derBytes []byte) (*cryptoEcdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	if _, err := asn1.Unmarshal(derBytes, &asn1pubk); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}
	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}
