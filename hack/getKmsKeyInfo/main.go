package main

import (
	"context"
	"os"

	"github.com/Layr-Labs/eigenx-widget-bridge/internal/aws"
	"github.com/Layr-Labs/eigenx-widget-bridge/internal/keySigner/awsKms"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/logger"
	awsSdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Prints the wallet address a KMS key resolves to and checks that signatures recover to it
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	keyId := os.Getenv("KEY_ID")
	if keyId == "" {
		l.Sugar().Fatal("KEY_ID environment variable is not set")
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		l.Sugar().Fatalw("failed to load AWS config", "error", err)
	}
	identity, err := aws.GetCallerIdentity(ctx, awsCfg)
	if err != nil {
		l.Sugar().Fatalw("failed to resolve caller identity", "error", err)
	}

	signer, err := awsKms.NewAWSKMSKeySigner(ctx, awsCfg, keyId, l)
	if err != nil {
		l.Sugar().Fatalw("failed to load KMS key", "error", err)
	}

	digest := accounts.TextHash([]byte("eigenx widget bridge key check"))
	sig, err := signer.SignDigest(ctx, digest)
	if err != nil {
		l.Sugar().Fatalw("failed to sign with KMS key", "error", err)
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		l.Sugar().Fatalw("failed to recover public key", "error", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)

	l.Sugar().Infow("KMS Key",
		"keyId", keyId,
		"callerArn", awsSdk.ToString(identity.Arn),
		"address", signer.Address().Hex(),
		"publicKeyHex", hexutil.Encode(crypto.FromECDSAPub(pub)),
		"signatureRecovers", recovered == signer.Address(),
	)
}
