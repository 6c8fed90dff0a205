package client

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/authenticator"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/canonical"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecretBytes is the length of a generated shared secret before hex encoding
const SecretBytes = 32

var (
	// ErrNoSecret is returned by Call before a secret has been exchanged
	ErrNoSecret = errors.New("shared secret not exchanged")
	// ErrInvalidResponseSignature means a signed response failed verification
	ErrInvalidResponseSignature = errors.New("invalid response signature")
	// ErrUnsignedResponse means the bridge answered without a signature, which it only
	// does for a precondition failure
	ErrUnsignedResponse = errors.New("unsigned response")
)

// Response is a verified response from the bridge
type Response struct {
	RequestID string
	Success   bool
	Data      json.RawMessage
	Error     string
	Timestamp int64
}

// Decode unmarshals the response data into v
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response %s carries no data", r.RequestID)
	}
	return json.Unmarshal(r.Data, v)
}

type inbound struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// Client is the initiating side of a bridge session: it installs a shared secret, signs
// requests and verifies the responses. Responses are matched to calls by requestId, so
// Call is safe for concurrent use.
type Client struct {
	channel transport.IChannel
	logger  *zap.Logger
	clock   func() time.Time

	writeMu sync.Mutex

	mu      sync.Mutex
	secret  string
	pending map[string]chan *inbound
	done    chan struct{}
	readErr error
}

// NewClient starts reading responses from channel
func NewClient(channel transport.IChannel, logger *zap.Logger) *Client {
	c := &Client{
		channel: channel,
		logger:  logger,
		clock:   time.Now,
		pending: make(map[string]chan *inbound),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// GenerateSecret returns a fresh random secret as hex
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ExchangeSecret generates a secret, installs it on the bridge and returns it once acknowledged
func (c *Client) ExchangeSecret(ctx context.Context) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := c.InstallSecret(ctx, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// InstallSecret sends secret in an EXCHANGE_SHARED_SECRET message and waits for the acknowledgement
func (c *Client) InstallSecret(ctx context.Context, secret string) error {
	msg := &types.SecretExchangeMessage{
		RequestID:    uuid.NewString(),
		Action:       types.ActionExchangeSharedSecret,
		WidgetSecret: secret,
	}
	raw, err := canonical.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(ctx, msg.RequestID, raw)
	if err != nil {
		return err
	}
	var ack types.SecretExchangeAck
	if !resp.Success || json.Unmarshal(resp.Data, &ack) != nil || !ack.Received {
		return fmt.Errorf("secret exchange was not acknowledged: %s", resp.Error)
	}

	c.mu.Lock()
	c.secret = secret
	c.mu.Unlock()
	c.logger.Sugar().Debugw("Shared secret installed", "request_id", msg.RequestID)
	return nil
}

// Call signs and sends one request, then waits for its verified response. An action
// failure is returned as a Response with Success false, not as an error.
func (c *Client) Call(ctx context.Context, action types.Action, chain string, params interface{}) (*Response, error) {
	c.mu.Lock()
	secret := c.secret
	c.mu.Unlock()
	if secret == "" {
		return nil, ErrNoSecret
	}

	var rawParams json.RawMessage
	if params != nil {
		p, err := canonical.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		rawParams = p
	}

	msg := &types.AuthenticatedMessage{
		RequestID: uuid.NewString(),
		Action:    action,
		Chain:     chain,
		Params:    rawParams,
		Timestamp: c.clock().UnixMilli(),
		Nonce:     uuid.NewString(),
	}
	sig, err := authenticator.SignatureFor(msg.Signable(), secret)
	if err != nil {
		return nil, err
	}
	msg.Signature = sig

	raw, err := canonical.Marshal(msg)
	if err != nil {
		return nil, err
	}

	in, err := c.roundTrip(ctx, msg.RequestID, raw)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		RequestID: in.RequestID,
		Success:   in.Success,
		Data:      in.Data,
		Error:     in.Error,
		Timestamp: in.Timestamp,
	}
	if in.Signature == "" {
		return resp, fmt.Errorf("%w: %s", ErrUnsignedResponse, in.Error)
	}
	if err := verify(in, secret); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the channel and fails every pending call
func (c *Client) Close() error {
	return c.channel.Close()
}

func verify(in *inbound, secret string) error {
	signable := &types.SignableResponse{
		RequestID: in.RequestID,
		Success:   in.Success,
		Error:     in.Error,
		Timestamp: in.Timestamp,
	}
	if len(in.Data) > 0 {
		signable.Data = in.Data
	}
	expected, err := authenticator.SignatureFor(signable, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(in.Signature)) {
		return ErrInvalidResponseSignature
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, requestID string, raw []byte) (*inbound, error) {
	ch := make(chan *inbound, 1)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.channel.Send(ctx, raw)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send request %s: %w", requestID, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, c.err()
	case <-ctx.Done():
		return nil, fmt.Errorf("no response to request %s: %w", requestID, ctx.Err())
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		raw, err := c.channel.Receive(context.Background())
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.RequestID == "" {
			c.logger.Sugar().Debugw("Ignoring unparseable response", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[in.RequestID]
		c.mu.Unlock()
		if !ok {
			c.logger.Sugar().Debugw("Ignoring response for unknown request", "request_id", in.RequestID)
			continue
		}
		select {
		case ch <- &in:
		default:
		}
	}
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		return transport.ErrChannelClosed
	}
	return c.readErr
}
