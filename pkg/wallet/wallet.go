package wallet

import (
	"context"
	"errors"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
)

// ErrNotConnected is returned by account bound operations before Connect
var ErrNotConnected = errors.New("wallet not connected")

// IWalletProvider is the host's wallet capability the dispatcher calls into.
// Quantities cross this boundary as 0x-prefixed hex strings, the EIP-1193 convention.
// Implementations must be safe for concurrent use.
type IWalletProvider interface {
	// Connect grants the widget access and returns the exposed accounts.
	Connect(ctx context.Context) ([]string, error)

	// Disconnect revokes access.
	Disconnect(ctx context.Context) error

	// Accounts returns the exposed accounts, empty when disconnected.
	Accounts(ctx context.Context) ([]string, error)

	// ChainID returns the active chain id as hex.
	ChainID(ctx context.Context) (string, error)

	// Balance returns the native balance of address in wei as hex. An empty address
	// means the first exposed account.
	Balance(ctx context.Context, address string) (string, error)

	// SignMessage returns a personal_sign signature over message.
	SignMessage(ctx context.Context, address string, message string) (string, error)

	// SignTransaction fills in missing fields, signs, and returns the raw transaction hex.
	SignTransaction(ctx context.Context, tx *types.TransactionRequest) (string, error)

	// SendRawTransaction broadcasts a signed raw transaction and returns its hash.
	SendRawTransaction(ctx context.Context, signedTx string) (string, error)

	// SwitchNetwork activates the requested chain, adding it first when an rpc url is
	// supplied for an unknown chain. Returns the new chain id as hex.
	SwitchNetwork(ctx context.Context, params *types.SwitchNetworkParams) (string, error)
}
