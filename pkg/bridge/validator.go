package bridge

import (
	"encoding/json"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
)

// envelope is the loose decoding of any inbound message. Pointer fields distinguish an
// absent field from a zero value.
type envelope struct {
	RequestID    *string         `json:"requestId"`
	Action       types.Action    `json:"action"`
	Chain        string          `json:"chain"`
	Params       json.RawMessage `json:"params"`
	Timestamp    *json.Number    `json:"timestamp"`
	Nonce        *string         `json:"nonce"`
	Signature    *string         `json:"signature"`
	WidgetSecret *string         `json:"widgetSecret"`
}

// decodeEnvelope returns false for anything that is not a JSON object carrying a
// non-empty string requestId
func decodeEnvelope(raw []byte) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.RequestID == nil || *env.RequestID == "" {
		return nil, false
	}
	return &env, true
}

func (e *envelope) requestID() string {
	return *e.RequestID
}

func (e *envelope) isSecretExchange() bool {
	return e.Action == types.ActionExchangeSharedSecret
}

// authenticated returns the message with its authentication fields, or false when any of
// timestamp, nonce or signature is absent or the timestamp is not an integer
func (e *envelope) authenticated() (*types.AuthenticatedMessage, bool) {
	if e.Timestamp == nil || e.Nonce == nil || e.Signature == nil {
		return nil, false
	}
	timestamp, err := e.Timestamp.Int64()
	if err != nil {
		return nil, false
	}
	return &types.AuthenticatedMessage{
		RequestID: e.requestID(),
		Action:    e.Action,
		Chain:     e.Chain,
		Params:    e.Params,
		Timestamp: timestamp,
		Nonce:     *e.Nonce,
		Signature: *e.Signature,
	}, true
}
