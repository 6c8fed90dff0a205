package bridge

import (
	"fmt"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/canonical"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
)

// respondSigned signs resp and encodes it. A signing failure is returned rather than
// falling back to an unsigned response.
func (b *Bridge) respondSigned(resp *types.AdapterResponse, outcome string) ([]byte, error) {
	signed, err := b.auth.Sign(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response for request %s: %w", resp.RequestID, err)
	}
	out, err := canonical.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response for request %s: %w", resp.RequestID, err)
	}
	b.metrics.Responded(outcome)
	b.trace("Sending signed response", "request_id", resp.RequestID, "success", resp.Success)
	return out, nil
}

// respondUnsigned is reserved for the exchange acknowledgement and the precondition error
func (b *Bridge) respondUnsigned(resp *types.AdapterResponse, outcome string) ([]byte, error) {
	out, err := canonical.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response for request %s: %w", resp.RequestID, err)
	}
	b.metrics.Responded(outcome)
	b.trace("Sending unsigned response", "request_id", resp.RequestID, "success", resp.Success)
	return out, nil
}
