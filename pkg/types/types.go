package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action selects the behaviour of an inbound message
type Action string

func (a Action) String() string {
	return string(a)
}

const (
	ActionExchangeSharedSecret Action = "EXCHANGE_SHARED_SECRET"

	ActionConnectWallet        Action = "CONNECT_WALLET"
	ActionDisconnectWallet     Action = "DISCONNECT_WALLET"
	ActionGetAccounts          Action = "GET_ACCOUNTS"
	ActionGetChainID           Action = "GET_CHAIN_ID"
	ActionGetBalance           Action = "GET_BALANCE"
	ActionSignMessage          Action = "SIGN_MESSAGE"
	ActionSignTransaction      Action = "SIGN_TRANSACTION"
	ActionBroadcastTransaction Action = "BROADCAST_TRANSACTION"
	ActionSwitchNetwork        Action = "SWITCH_NETWORK"
	ActionNetworkSwitchedEvent Action = "NETWORK_SWITCHED_EVENT"
)

// WalletActions is the dispatchable action vocabulary (the exchange action is handled
// before dispatch and is not part of it)
var WalletActions = []Action{
	ActionConnectWallet,
	ActionDisconnectWallet,
	ActionGetAccounts,
	ActionGetChainID,
	ActionGetBalance,
	ActionSignMessage,
	ActionSignTransaction,
	ActionBroadcastTransaction,
	ActionSwitchNetwork,
	ActionNetworkSwitchedEvent,
}

// UnsupportedActionError is returned when an action tag is outside the vocabulary
type UnsupportedActionError struct {
	Action Action
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("Unsupported action: %s", e.Action)
}

// MissingParameterError is returned when a required parameter is absent
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Missing required parameter: %s", e.Name)
}

// ActionParams is implemented by the one parameter shape of each action
type ActionParams interface {
	Action() Action
	Validate() error
}

type ConnectWalletParams struct{}

func (ConnectWalletParams) Action() Action  { return ActionConnectWallet }
func (ConnectWalletParams) Validate() error { return nil }

type DisconnectWalletParams struct{}

func (DisconnectWalletParams) Action() Action  { return ActionDisconnectWallet }
func (DisconnectWalletParams) Validate() error { return nil }

type GetAccountsParams struct{}

func (GetAccountsParams) Action() Action  { return ActionGetAccounts }
func (GetAccountsParams) Validate() error { return nil }

type GetChainIDParams struct{}

func (GetChainIDParams) Action() Action  { return ActionGetChainID }
func (GetChainIDParams) Validate() error { return nil }

// GetBalanceParams queries the native balance of Address, or of the first connected
// account when Address is empty
type GetBalanceParams struct {
	Address string `json:"address,omitempty"`
}

func (GetBalanceParams) Action() Action  { return ActionGetBalance }
func (GetBalanceParams) Validate() error { return nil }

// SignMessageParams requests a personal_sign style signature over Message.
// A 0x-prefixed Message is treated as hex encoded bytes.
type SignMessageParams struct {
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

func (SignMessageParams) Action() Action { return ActionSignMessage }

func (p SignMessageParams) Validate() error {
	if p.Message == "" {
		return &MissingParameterError{Name: "message"}
	}
	return nil
}

// TransactionRequest is the EIP-1193 shaped transaction object sent by the widget.
// Quantities are 0x-prefixed hex strings.
type TransactionRequest struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
}

type SignTransactionParams struct {
	Transaction *TransactionRequest `json:"transaction"`
}

func (SignTransactionParams) Action() Action { return ActionSignTransaction }

func (p SignTransactionParams) Validate() error {
	if p.Transaction == nil {
		return &MissingParameterError{Name: "transaction"}
	}
	return nil
}

type BroadcastTransactionParams struct {
	SignedTransaction string `json:"signedTransaction"`
}

func (BroadcastTransactionParams) Action() Action { return ActionBroadcastTransaction }

func (p BroadcastTransactionParams) Validate() error {
	if p.SignedTransaction == "" {
		return &MissingParameterError{Name: "signedTransaction"}
	}
	return nil
}

// SwitchNetworkParams switches to ChainID. RpcURL adds the network when it is not
// already known to the provider.
type SwitchNetworkParams struct {
	ChainID   string `json:"chainId"`
	ChainName string `json:"chainName,omitempty"`
	RpcURL    string `json:"rpcUrl,omitempty"`
}

func (SwitchNetworkParams) Action() Action { return ActionSwitchNetwork }

func (p SwitchNetworkParams) Validate() error {
	if p.ChainID == "" {
		return &MissingParameterError{Name: "chainId"}
	}
	return nil
}

// NetworkSwitchedEventParams is forwarded to host observers as is
type NetworkSwitchedEventParams struct {
	ChainID string `json:"chainId,omitempty"`
}

func (NetworkSwitchedEventParams) Action() Action  { return ActionNetworkSwitchedEvent }
func (NetworkSwitchedEventParams) Validate() error { return nil }

// DecodeParams decodes raw into the parameter shape belonging to action and validates it.
// Unknown actions yield an *UnsupportedActionError.
func DecodeParams(action Action, raw json.RawMessage) (ActionParams, error) {
	var params ActionParams
	switch action {
	case ActionConnectWallet:
		params = &ConnectWalletParams{}
	case ActionDisconnectWallet:
		params = &DisconnectWalletParams{}
	case ActionGetAccounts:
		params = &GetAccountsParams{}
	case ActionGetChainID:
		params = &GetChainIDParams{}
	case ActionGetBalance:
		params = &GetBalanceParams{}
	case ActionSignMessage:
		params = &SignMessageParams{}
	case ActionSignTransaction:
		params = &SignTransactionParams{}
	case ActionBroadcastTransaction:
		params = &BroadcastTransactionParams{}
	case ActionSwitchNetwork:
		params = &SwitchNetworkParams{}
	case ActionNetworkSwitchedEvent:
		params = &NetworkSwitchedEventParams{}
	default:
		return nil, &UnsupportedActionError{Action: action}
	}

	if len(raw) > 0 && !isJSONNull(raw) {
		if err := json.Unmarshal(raw, params); err != nil {
			return nil, fmt.Errorf("invalid params for %s: %w", action, err)
		}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
