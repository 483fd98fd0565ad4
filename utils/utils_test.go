package utils

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/types"
)

func TestQuoteAmount_TruncatesNeverRoundsUp(t *testing.T) {
	got := QuoteAmount(decimal.RequireFromString("49"), decimal.RequireFromString("1800"), 6)
	assert.Equal(t, "0.027222", got.String())

	// 2/3 = 0.666666... must not become 0.666667
	got = QuoteAmount(decimal.RequireFromString("2"), decimal.RequireFromString("3"), 6)
	assert.Equal(t, "0.666666", got.String())

	got = QuoteAmount(decimal.RequireFromString("49"), decimal.NewFromInt(1), 6)
	assert.Equal(t, "49", got.String())

	assert.True(t, QuoteAmount(decimal.NewFromInt(10), decimal.Zero, 6).IsZero())
}

func TestWithinTolerance(t *testing.T) {
	required := decimal.RequireFromString("0.027222")
	rate := DefaultToleranceRate

	assert.Equal(t, "0.02667756", MinAcceptable(required, rate).String())
	assert.True(t, WithinTolerance(decimal.RequireFromString("0.02667756"), required, rate))
	assert.True(t, WithinTolerance(decimal.RequireFromString("0.027"), required, rate))
	assert.False(t, WithinTolerance(decimal.RequireFromString("0.02667755"), required, rate))
	assert.False(t, WithinTolerance(decimal.RequireFromString("0.020"), required, rate))
}

func TestBaseUnitConversion(t *testing.T) {
	wei, ok := new(big.Int).SetString("27222000000000000", 10)
	require.True(t, ok)

	assert.Equal(t, "0.027222", FromBaseUnits(wei, 18).String())
	assert.Equal(t, wei.String(), ToBaseUnits(decimal.RequireFromString("0.027222"), 18).String())
	assert.Equal(t, "1500000", ToBaseUnits(decimal.RequireFromString("1.5000009"), 6).String())
	assert.Equal(t, "1.5", FromBaseUnitsUint64(1_500_000_000, 9).String())
	assert.True(t, FromBaseUnits(nil, 18).IsZero())
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e", types.ChainEVM))
	assert.NoError(t, ValidateAddress("0x742d35cc6634c0532925a3b844bc454e4438f44e", types.ChainEVM))
	assert.Error(t, ValidateAddress("742d35cc6634c0532925a3b844bc454e4438f44e", types.ChainEVM))
	assert.Error(t, ValidateAddress("0x1234", types.ChainEVM))
	assert.Error(t, ValidateAddress("", types.ChainEVM))

	assert.NoError(t, ValidateAddress("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", types.ChainSolana))
	assert.Error(t, ValidateAddress("0x742d35cc6634c0532925a3b844bc454e4438f44e", types.ChainSolana))

	assert.Error(t, ValidateAddress("0x742d35cc6634c0532925a3b844bc454e4438f44e", types.ChainFamily("cosmos")))
}

func TestValidateTransactionHash(t *testing.T) {
	evmHash := "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	assert.NoError(t, ValidateTransactionHash(evmHash, types.ChainEVM))
	assert.Error(t, ValidateTransactionHash(evmHash[:40], types.ChainEVM))
	assert.Error(t, ValidateTransactionHash("0xzz"+evmHash[4:], types.ChainEVM))
	assert.Error(t, ValidateTransactionHash("not-a-hash", types.ChainEVM))
	assert.Error(t, ValidateTransactionHash("", types.ChainEVM))

	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	assert.NoError(t, ValidateTransactionHash(sig, types.ChainSolana))
	assert.Error(t, ValidateTransactionHash(evmHash, types.ChainSolana))
}

func TestParseCreateInvoiceRequest(t *testing.T) {
	req, err := ParseCreateInvoiceRequest([]byte(`{
		"usd_value": "49",
		"asset_symbol": " eth ",
		"network_id": "ethereum",
		"purpose": "pro",
		"organization_ref": "org-1"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "ETH", req.AssetSymbol)
	assert.True(t, req.USDValue.Equal(decimal.NewFromInt(49)))
	assert.Equal(t, types.NetworkID("ethereum"), req.NetworkID)
	assert.Zero(t, req.TTLMinutes)
}

func TestParseCreateInvoiceRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"usd_value":`},
		{"missing usd value", `{"asset_symbol":"ETH","network_id":"ethereum","purpose":"pro","organization_ref":"org"}`},
		{"negative usd value", `{"usd_value":"-5","asset_symbol":"ETH","network_id":"ethereum","purpose":"pro","organization_ref":"org"}`},
		{"missing network", `{"usd_value":"5","asset_symbol":"ETH","purpose":"pro","organization_ref":"org"}`},
		{"ttl out of range", `{"usd_value":"5","asset_symbol":"ETH","network_id":"ethereum","purpose":"pro","organization_ref":"org","ttl_minutes":5000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreateInvoiceRequest([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.CodeOf(err))
		})
	}
}

func TestParseRequest_Verify(t *testing.T) {
	req, err := ParseRequest[types.VerifyRequest]([]byte(`{"invoice_id":"abc","transaction_hash":"0x01"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", req.InvoiceID)

	_, err = ParseRequest[types.VerifyRequest]([]byte(`{"invoice_id":"abc"}`))
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	var cpe *types.ChainPayError
	require.True(t, errors.As(err, &cpe))
	assert.Equal(t, map[string]string{"TransactionHash": "required"}, cpe.Data)
}
