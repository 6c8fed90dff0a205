package types

import "encoding/json"

// AuthenticatedMessage is an inbound request from the widget, signed with the shared secret.
//
// Field order matters: SignableRequest mirrors it minus the signature and is what the
// MAC is computed over.
type AuthenticatedMessage struct {
	RequestID string          `json:"requestId"`
	Action    Action          `json:"action"`
	Chain     string          `json:"chain,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp int64           `json:"timestamp"` // milliseconds since epoch, producer clock
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"` // lowercase hex HMAC-SHA256
}

// SignableRequest is the portion of an AuthenticatedMessage covered by its signature
type SignableRequest struct {
	RequestID string          `json:"requestId"`
	Action    Action          `json:"action"`
	Chain     string          `json:"chain,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
}

// Signable returns the signed portion of the message
func (m *AuthenticatedMessage) Signable() *SignableRequest {
	return &SignableRequest{
		RequestID: m.RequestID,
		Action:    m.Action,
		Chain:     m.Chain,
		Params:    m.Params,
		Timestamp: m.Timestamp,
		Nonce:     m.Nonce,
	}
}

// AdapterRequest strips the authentication fields. It is what the dispatcher sees.
func (m *AuthenticatedMessage) AdapterRequest() *AdapterRequest {
	return &AdapterRequest{
		RequestID: m.RequestID,
		Action:    m.Action,
		Chain:     m.Chain,
		Params:    m.Params,
	}
}

// SecretExchangeMessage installs the shared secret. It is the only message accepted unsigned.
type SecretExchangeMessage struct {
	RequestID    string `json:"requestId"`
	Action       Action `json:"action"`
	WidgetSecret string `json:"widgetSecret"`
}

// AdapterRequest is an authenticated request with its authentication fields removed
type AdapterRequest struct {
	RequestID string          `json:"requestId"`
	Action    Action          `json:"action"`
	Chain     string          `json:"chain,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// AdapterResponse is the unsigned response envelope. Data is set iff Success.
type AdapterResponse struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewSuccessResponse builds a successful envelope for requestID
func NewSuccessResponse(requestID string, data interface{}) *AdapterResponse {
	return &AdapterResponse{RequestID: requestID, Success: true, Data: data}
}

// NewErrorResponse builds a failed envelope for requestID
func NewErrorResponse(requestID string, message string) *AdapterResponse {
	return &AdapterResponse{RequestID: requestID, Success: false, Error: message}
}

// SecureResponse is an AdapterResponse stamped with the responder's clock and signed
type SecureResponse struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Signature string      `json:"signature"`
}

// SignableResponse is the portion of a SecureResponse covered by its signature
type SignableResponse struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Signable returns the signed portion of the response
func (r *SecureResponse) Signable() *SignableResponse {
	return &SignableResponse{
		RequestID: r.RequestID,
		Success:   r.Success,
		Data:      r.Data,
		Error:     r.Error,
		Timestamp: r.Timestamp,
	}
}

// SecretExchangeAck is the unsigned acknowledgement data returned for a secret exchange
type SecretExchangeAck struct {
	Received bool `json:"received"`
}
