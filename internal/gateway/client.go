package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// SignatureHeader carries the request digest the gateway verifies.
const SignatureHeader = "signature"

// Endpoint paths on the gateway host
const (
	pathTxRequest = "/tx/request"
	pathTxQuery   = "/tx/query"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// PaymentGateway is the hosted-gateway surface the checkout flow depends on.
type PaymentGateway interface {
	RequestTransaction(ctx context.Context, order *models.Order) (*InitiationResult, error)
	QueryStatus(ctx context.Context, txID string) (*StatusResult, error)
}

// Client talks to the hosted payment gateway over HTTP. Every request body is
// signed; responses larger than 1 MiB are truncated as malformed.
type Client struct {
	baseURL string
	codec   *Codec
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a gateway client. The timeout bounds each round trip;
// status queries are additionally capped by the poller's per-attempt context.
func NewClient(baseURL string, codec *Codec, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		codec:   codec,
		http:    &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

// RequestTransaction opens a transaction for the order and returns the
// gateway's decision.
func (c *Client) RequestTransaction(ctx context.Context, order *models.Order) (*InitiationResult, error) {
	payload, err := c.codec.BuildTransactionRequest(order)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, pathTxRequest, payload)
	if err != nil {
		return nil, err
	}

	res, err := DecodeTransactionResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Gateway transaction response",
		zap.String("order_id", order.OrderID),
		zap.Bool("accepted", res.Accepted),
		zap.String("tx_id", res.TxID))

	return res, nil
}

// QueryStatus asks the gateway for the current state of a transaction.
func (c *Client) QueryStatus(ctx context.Context, txID string) (*StatusResult, error) {
	payload, err := c.codec.BuildStatusRequest(txID)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, pathTxQuery, payload)
	if err != nil {
		return nil, err
	}

	return DecodeStatusResponse(body)
}

// post sends a signed JSON payload and returns the raw response body. The
// signature is computed over the exact bytes transmitted.
func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, c.codec.Sign(payload))

	start := time.Now()
	resp, err := c.http.Do(req)
	util.GatewayRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	return body, nil
}
