package gateway

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"testing"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *models.Order {
	return &models.Order{
		OrderID:   "1724650000123",
		UserID:    "user-7",
		TxChannel: models.ChannelCreditCard,
		TxAmount:  decimal.RequireFromString("129.5"),
		ProductList: models.LineItems{
			{ProductRef: "p100", Name: "Canvas Tote", Qty: 2, UnitAmount: decimal.RequireFromString("45")},
			{ProductRef: "p200", Name: "Enamel Mug", Qty: 1, UnitAmount: decimal.RequireFromString("39.50")},
		},
		CustName:    "Aisha Rahman",
		CustEmail:   "aisha@example.com",
		CustContact: "+60123456789",
		Address:     "12 Jalan Besar",
	}
}

func TestSignDeterministic(t *testing.T) {
	codec := NewCodec("M0001", "secret-key", "MYR")

	payload, err := codec.BuildTransactionRequest(testOrder())
	require.NoError(t, err)

	again, err := codec.BuildTransactionRequest(testOrder())
	require.NoError(t, err)

	// Same logical order must yield identical bytes and identical signature.
	assert.Equal(t, payload, again)
	assert.Equal(t, codec.Sign(payload), codec.Sign(again))

	// The signature is the digest of payload followed by the key.
	h := sha512.New()
	h.Write(payload)
	h.Write([]byte("secret-key"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), codec.Sign(payload))
}

func TestSignDiffersOnAnyChange(t *testing.T) {
	codec := NewCodec("M0001", "secret-key", "MYR")

	base, err := codec.BuildTransactionRequest(testOrder())
	require.NoError(t, err)

	bumped := testOrder()
	bumped.TxAmount = bumped.TxAmount.Add(decimal.RequireFromString("0.01"))
	changed, err := codec.BuildTransactionRequest(bumped)
	require.NoError(t, err)

	assert.NotEqual(t, codec.Sign(base), codec.Sign(changed))

	otherKey := NewCodec("M0001", "other-key", "MYR")
	assert.NotEqual(t, codec.Sign(base), otherKey.Sign(base))
}

func TestBuildTransactionRequestFormatsAmounts(t *testing.T) {
	codec := NewCodec("M0001", "secret-key", "MYR")

	payload, err := codec.BuildTransactionRequest(testOrder())
	require.NoError(t, err)

	var req TransactionRequest
	require.NoError(t, json.Unmarshal(payload, &req))

	assert.Equal(t, "M0001", req.MerchantID)
	assert.Equal(t, TxnTypeSale, req.TxnType)
	assert.Equal(t, "CC", req.Channel)
	assert.Equal(t, "129.50", req.Amount)
	assert.Equal(t, req.OrderID, req.OrderRef)
	require.Len(t, req.Products, 2)
	assert.Equal(t, "45.00", req.Products[0].Amount)
	assert.Equal(t, "39.50", req.Products[1].Amount)
}

func TestDecodeTransactionResponse(t *testing.T) {
	res, err := DecodeTransactionResponse([]byte(`{"ret":0,"txId":"TX9","checkoutUrl":"https://pay.example.com/s/TX9"}`))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "TX9", res.TxID)
	assert.Equal(t, "https://pay.example.com/s/TX9", res.CheckoutURL)

	// ret ok but no URL to open is still a rejection.
	res, err = DecodeTransactionResponse([]byte(`{"ret":0,"txId":"TX9"}`))
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = DecodeTransactionResponse([]byte(`{"ret":14,"msg":"invalid merchant"}`))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "invalid merchant", res.Message)

	_, err = DecodeTransactionResponse([]byte(`{"ret":`))
	assert.Error(t, err)
}

func TestDecodeStatusResponse(t *testing.T) {
	res, err := DecodeStatusResponse([]byte(`{"ret":1201,"msg":"transaction not found"}`))
	require.NoError(t, err)
	assert.False(t, res.Recorded)
	assert.False(t, res.Paid())

	res, err = DecodeStatusResponse([]byte(`{"ret":0,"txStatus":"PENDING"}`))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.Paid())

	for _, status := range []string{"SUCCESS", "success", "PAID", "Paid"} {
		res, err = DecodeStatusResponse([]byte(`{"ret":0,"txStatus":"` + status + `"}`))
		require.NoError(t, err)
		assert.True(t, res.Paid(), "status %q", status)
	}

	res, err = DecodeStatusResponse([]byte(`{"ret":0,"txStatus":"FAILED"}`))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.False(t, res.Paid())
}
