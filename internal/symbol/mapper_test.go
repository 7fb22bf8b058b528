package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_AllExchanges(t *testing.T) {
	sym := Symbol{Base: "BTC", Quote: "USDT"}

	for _, ex := range []string{"binance", "bybit", "okx"} {
		native, err := ToExchange(sym, ex)
		require.NoError(t, err)

		back, err := ToCanonical(native, ex)
		require.NoError(t, err)
		assert.Equal(t, sym, back, "round trip mismatch for %s", ex)
	}
}

func TestToExchange_OKXAddsSwapSuffix(t *testing.T) {
	native, err := ToExchange(Symbol{Base: "ETH", Quote: "USDT"}, "okx")
	require.NoError(t, err)
	assert.Equal(t, "ETH-USDT-SWAP", native)
}

func TestToCanonical_UnknownExchange(t *testing.T) {
	_, err := ToCanonical("BTCUSDT", "deribit")
	var unk *ErrUnknownExchange
	assert.ErrorAs(t, err, &unk)
}

func TestToCanonical_ForkAlias(t *testing.T) {
	sym, err := ToCanonical("LUNA", "binance")
	require.NoError(t, err)
	assert.Equal(t, Symbol{Base: "LUNC", Quote: "USDT"}, sym)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("BTCUSDT")
	assert.Error(t, err)
}
