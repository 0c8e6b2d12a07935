package gateway

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/internal/models"
)

// Gateway return codes
const (
	retOK = 0
	// RetTxNotRecorded is answered by the status endpoint until the gateway
	// has registered the transaction on its side. Callers keep polling.
	RetTxNotRecorded = 1201
)

// TxnTypeSale is the only transaction type this service opens.
const TxnTypeSale = "SALE"

// TransactionRequest is the wire body of a transaction request. Field order
// fixes the serialized byte layout, and therefore the signature.
type TransactionRequest struct {
	MerchantID  string        `json:"merchantId"`
	TxnType     string        `json:"txnType"`
	Channel     string        `json:"channel"`
	OrderID     string        `json:"orderId"`
	OrderRef    string        `json:"orderRef"`
	Currency    string        `json:"currency"`
	Amount      string        `json:"amount"`
	CustName    string        `json:"custName"`
	CustEmail   string        `json:"custEmail"`
	CustContact string        `json:"custContact"`
	Address     string        `json:"address"`
	Products    []RequestItem `json:"products"`
}

// RequestItem is one product entry inside a transaction request
type RequestItem struct {
	ProductRef string `json:"productRef"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	Amount     string `json:"amount"`
}

// StatusRequest is the wire body of a transaction status query
type StatusRequest struct {
	MerchantID string `json:"merchantId"`
	TxID       string `json:"txId"`
}

type transactionResponse struct {
	Ret         int    `json:"ret"`
	TxID        string `json:"txId"`
	CheckoutURL string `json:"checkoutUrl"`
	Msg         string `json:"msg"`
}

type statusResponse struct {
	Ret      int    `json:"ret"`
	TxStatus string `json:"txStatus"`
	Msg      string `json:"msg"`
}

// InitiationResult is the decoded outcome of a transaction request.
type InitiationResult struct {
	Accepted    bool
	TxID        string
	CheckoutURL string
	Message     string
}

// StatusResult is the decoded outcome of one status query. Recorded is false
// while the gateway still answers with the not-yet-recorded sentinel.
type StatusResult struct {
	Recorded bool
	TxStatus string
	Message  string
}

// Paid reports whether the transaction reached a terminal paid state. The
// gateway spells it SUCCESS or PAID depending on channel; match either,
// case-insensitively.
func (r *StatusResult) Paid() bool {
	return strings.EqualFold(r.TxStatus, "SUCCESS") || strings.EqualFold(r.TxStatus, "PAID")
}

// Codec builds and signs gateway payloads for one merchant account.
type Codec struct {
	merchantID     string
	integrationKey []byte
	currency       string
}

// NewCodec creates a codec bound to the merchant credentials.
func NewCodec(merchantID, integrationKey, currency string) *Codec {
	return &Codec{
		merchantID:     merchantID,
		integrationKey: []byte(integrationKey),
		currency:       currency,
	}
}

// BuildTransactionRequest serializes the order into the exact bytes that will
// be transmitted. Amounts are formatted with two decimal places; orderRef
// mirrors orderId.
func (c *Codec) BuildTransactionRequest(order *models.Order) ([]byte, error) {
	req := TransactionRequest{
		MerchantID:  c.merchantID,
		TxnType:     TxnTypeSale,
		Channel:     order.TxChannel,
		OrderID:     order.OrderID,
		OrderRef:    order.OrderID,
		Currency:    c.currency,
		Amount:      order.TxAmount.StringFixed(2),
		CustName:    order.CustName,
		CustEmail:   order.CustEmail,
		CustContact: order.CustContact,
		Address:     order.Address,
		Products:    make([]RequestItem, 0, len(order.ProductList)),
	}
	for _, item := range order.ProductList {
		req.Products = append(req.Products, RequestItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Qty:        item.Qty,
			Amount:     item.UnitAmount.StringFixed(2),
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction request: %w", err)
	}
	return payload, nil
}

// BuildStatusRequest serializes a status query for the given transaction.
func (c *Codec) BuildStatusRequest(txID string) ([]byte, error) {
	payload, err := json.Marshal(StatusRequest{MerchantID: c.merchantID, TxID: txID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode status request: %w", err)
	}
	return payload, nil
}

// Sign returns hex(SHA-512(payload || integration key)). The key itself never
// leaves the process; the gateway recomputes the digest from its own copy.
func (c *Codec) Sign(payload []byte) string {
	h := sha512.New()
	h.Write(payload)
	h.Write(c.integrationKey)
	return hex.EncodeToString(h.Sum(nil))
}

// DecodeTransactionResponse interprets a transaction response body. The
// request is accepted only when ret is zero and a checkout URL is present;
// everything else is a rejection with whatever message the gateway gave.
func DecodeTransactionResponse(body []byte) (*InitiationResult, error) {
	var resp transactionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode transaction response: %w", err)
	}
	res := &InitiationResult{
		TxID:    resp.TxID,
		Message: resp.Msg,
	}
	if resp.Ret == retOK && resp.CheckoutURL != "" {
		res.Accepted = true
		res.CheckoutURL = resp.CheckoutURL
	}
	return res, nil
}

// DecodeStatusResponse interprets a status query response body.
func DecodeStatusResponse(body []byte) (*StatusResult, error) {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	if resp.Ret == RetTxNotRecorded {
		return &StatusResult{Recorded: false, Message: resp.Msg}, nil
	}
	return &StatusResult{Recorded: true, TxStatus: resp.TxStatus, Message: resp.Msg}, nil
}
