package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFromMethod(t *testing.T) {
	ch, ok := ChannelFromMethod("Online Banking")
	require.True(t, ok)
	assert.Equal(t, ChannelOnlineBanking, ch)

	ch, ok = ChannelFromMethod("Credit Card")
	require.True(t, ok)
	assert.Equal(t, ChannelCreditCard, ch)

	ch, ok = ChannelFromMethod("E-Wallet")
	require.True(t, ok)
	assert.Equal(t, ChannelEWallet, ch)

	_, ok = ChannelFromMethod("Cash On Delivery")
	assert.False(t, ok)
}

func TestMethodFromChannel(t *testing.T) {
	assert.Equal(t, "Online Banking", MethodFromChannel("DD"))
	assert.Equal(t, "Credit Card", MethodFromChannel("CC"))
	assert.Equal(t, "E-Wallet", MethodFromChannel("EW"))
	assert.Equal(t, "Unknown", MethodFromChannel("ZZ"))
	assert.Equal(t, "Unknown", MethodFromChannel(""))
}

func TestLineItemsTotal(t *testing.T) {
	items := LineItems{
		{ProductRef: "a", Qty: 2, UnitAmount: decimal.RequireFromString("19.90")},
		{ProductRef: "b", Qty: 1, UnitAmount: decimal.RequireFromString("0.10")},
		{ProductRef: "c", Qty: 3, UnitAmount: decimal.RequireFromString("33.33")},
	}
	assert.Equal(t, "139.89", items.Total().StringFixed(2))

	assert.Equal(t, "0.00", LineItems{}.Total().StringFixed(2))
}

func TestLineItemsScanValue(t *testing.T) {
	items := LineItems{{ProductRef: "p1", Name: "Tote", Qty: 2, UnitAmount: decimal.RequireFromString("45.00")}}

	v, err := items.Value()
	require.NoError(t, err)

	var scanned LineItems
	require.NoError(t, scanned.Scan(v))
	require.Len(t, scanned, 1)
	assert.Equal(t, "p1", scanned[0].ProductRef)
	assert.True(t, scanned[0].UnitAmount.Equal(items[0].UnitAmount))
}
