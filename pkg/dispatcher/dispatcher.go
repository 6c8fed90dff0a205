package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/wallet"
	"go.uber.org/zap"
)

// IDispatcher turns an authenticated request into a response envelope
type IDispatcher interface {
	// Dispatch always returns a response; failures are reported inside it.
	Dispatch(ctx context.Context, req *types.AdapterRequest) *types.AdapterResponse
}

// NetworkSwitchedObserver receives NETWORK_SWITCHED_EVENT notifications from the widget
type NetworkSwitchedObserver func(ctx context.Context, chain string, event *types.NetworkSwitchedEventParams)

// Dispatcher maps each action to exactly one wallet provider call
type Dispatcher struct {
	provider wallet.IWalletProvider
	logger   *zap.Logger

	observersMu sync.RWMutex
	observers   []NetworkSwitchedObserver
}

var _ IDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over provider
func NewDispatcher(provider wallet.IWalletProvider, logger *zap.Logger) (*Dispatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("wallet provider is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Dispatcher{
		provider: provider,
		logger:   logger,
	}, nil
}

// OnNetworkSwitched registers an observer for forwarded network switch events
func (d *Dispatcher) OnNetworkSwitched(observer NetworkSwitchedObserver) {
	d.observersMu.Lock()
	defer d.observersMu.Unlock()
	d.observers = append(d.observers, observer)
}

// Dispatch runs the handler for req.Action. Provider panics are reported as action errors
// so an authenticated request is never left unanswered.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.AdapterRequest) (resp *types.AdapterResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Sugar().Errorw("Wallet handler panicked", "request_id", req.RequestID, "action", req.Action, "panic", r)
			resp = types.NewErrorResponse(req.RequestID, fmt.Sprintf("internal error handling %s", req.Action))
		}
	}()

	params, err := types.DecodeParams(req.Action, req.Params)
	if err != nil {
		d.logger.Sugar().Debugw("Rejected request parameters", "request_id", req.RequestID, "action", req.Action, "error", err)
		return types.NewErrorResponse(req.RequestID, err.Error())
	}

	data, err := d.handle(ctx, req, params)
	if err != nil {
		d.logger.Sugar().Infow("Wallet action failed", "request_id", req.RequestID, "action", req.Action, "chain", req.Chain, "error", err)
		return types.NewErrorResponse(req.RequestID, err.Error())
	}

	d.logger.Sugar().Debugw("Wallet action succeeded", "request_id", req.RequestID, "action", req.Action, "chain", req.Chain)
	return types.NewSuccessResponse(req.RequestID, data)
}

func (d *Dispatcher) handle(ctx context.Context, req *types.AdapterRequest, params types.ActionParams) (interface{}, error) {
	switch p := params.(type) {
	case *types.ConnectWalletParams:
		return d.provider.Connect(ctx)

	case *types.DisconnectWalletParams:
		if err := d.provider.Disconnect(ctx); err != nil {
			return nil, err
		}
		return true, nil

	case *types.GetAccountsParams:
		return d.provider.Accounts(ctx)

	case *types.GetChainIDParams:
		return d.provider.ChainID(ctx)

	case *types.GetBalanceParams:
		return d.provider.Balance(ctx, p.Address)

	case *types.SignMessageParams:
		return d.provider.SignMessage(ctx, p.Address, p.Message)

	case *types.SignTransactionParams:
		return d.provider.SignTransaction(ctx, p.Transaction)

	case *types.BroadcastTransactionParams:
		return d.provider.SendRawTransaction(ctx, p.SignedTransaction)

	case *types.SwitchNetworkParams:
		return d.provider.SwitchNetwork(ctx, p)

	case *types.NetworkSwitchedEventParams:
		d.forwardNetworkSwitched(ctx, req.Chain, p)
		return true, nil

	default:
		return nil, &types.UnsupportedActionError{Action: req.Action}
	}
}

func (d *Dispatcher) forwardNetworkSwitched(ctx context.Context, chain string, event *types.NetworkSwitchedEventParams) {
	d.observersMu.RLock()
	observers := make([]NetworkSwitchedObserver, len(d.observers))
	copy(observers, d.observers)
	d.observersMu.RUnlock()

	for _, observer := range observers {
		observer(ctx, chain, event)
	}
}
